package runtime

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/voxkit/callflow/agent/contract"
	openrouterx "github.com/voxkit/callflow/pkg/openrouter"
)

// Config selects the chat model behind each call flow. Every flow falls back
// to the default model unless its override is set.
type Config struct {
	BaseURL            string        `envconfig:"BASE_URL" split_words:"true" default:"https://openrouter.ai/api/v1"`
	APIKey             string        `envconfig:"API_KEY" split_words:"true" required:"true"`
	Model              string        `envconfig:"MODEL" split_words:"true" required:"true"`
	MaxCompletionToken int           `envconfig:"MAX_COMPLETION_TOKEN" split_words:"true" default:"1000"`
	Temperature        float32       `envconfig:"TEMPERATURE" split_words:"true" default:"0.3"`
	Timeout            time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"30s"`
	SiteURL            string        `envconfig:"SITE_URL" split_words:"true"`
	SiteName           string        `envconfig:"SITE_NAME" split_words:"true"`

	FraudModel       string  `envconfig:"FRAUD_MODEL" split_words:"true"`
	LeadModel        string  `envconfig:"LEAD_MODEL" split_words:"true"`
	OrderModel       string  `envconfig:"ORDER_MODEL" split_words:"true"`
	FraudTemperature float32 `envconfig:"FRAUD_TEMPERATURE" split_words:"true" default:"-1"`
	LeadTemperature  float32 `envconfig:"LEAD_TEMPERATURE" split_words:"true" default:"-1"`
	OrderTemperature float32 `envconfig:"ORDER_TEMPERATURE" split_words:"true" default:"-1"`
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("%w: openrouter api key is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("%w: default model is required", contractx.ErrValidation)
	}
	return nil
}

func (c Config) OpenRouterFor(flow contractx.FlowType) openrouterx.Config {
	modelName := strings.TrimSpace(c.Model)
	temp := c.Temperature

	switch flow {
	case contractx.FlowFraud:
		if v := strings.TrimSpace(c.FraudModel); v != "" {
			modelName = v
		}
		if c.FraudTemperature >= 0 {
			temp = c.FraudTemperature
		}
	case contractx.FlowLead:
		if v := strings.TrimSpace(c.LeadModel); v != "" {
			modelName = v
		}
		if c.LeadTemperature >= 0 {
			temp = c.LeadTemperature
		}
	case contractx.FlowOrder:
		if v := strings.TrimSpace(c.OrderModel); v != "" {
			modelName = v
		}
		if c.OrderTemperature >= 0 {
			temp = c.OrderTemperature
		}
	}

	maxCompletionToken := c.MaxCompletionToken
	return openrouterx.Config{
		BaseURL:            strings.TrimSpace(c.BaseURL),
		APIKey:             strings.TrimSpace(c.APIKey),
		Model:              modelName,
		MaxCompletionToken: &maxCompletionToken,
		Temperature:        temp,
		Timeout:            c.Timeout,
		SiteURL:            strings.TrimSpace(c.SiteURL),
		SiteName:           strings.TrimSpace(c.SiteName),

		// Reasoning tokens are dead air on a voice call.
		DisableReasoning: true,
	}
}
