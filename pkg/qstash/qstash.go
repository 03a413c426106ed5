package qstash

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client publishes messages to Upstash QStash over its REST API. The agent
// hands terminal records (captured leads, placed orders, resolved cases) to
// downstream consumers this way without blocking the call.

type Config struct {
	URL         string        `split_words:"true" required:"true"`
	Token       string        `split_words:"true" required:"true"`
	Destination string        `split_words:"true" required:"true"`
	Timeout     time.Duration `split_words:"true" default:"10s"`
}

type Client struct {
	baseURL     string
	token       string
	destination string
	httpClient  *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimSpace(cfg.URL)
	if baseURL == "" {
		return nil, errors.New("qstash url is required")
	}

	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("qstash token is required")
	}
	if strings.TrimSpace(cfg.Destination) == "" {
		return nil, errors.New("qstash destination is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		token:       strings.TrimSpace(cfg.Token),
		destination: strings.TrimSpace(cfg.Destination),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}

	return client, nil
}

func MustNew(cfg Config) *Client {
	client, err := NewClient(cfg)
	if err != nil {
		panic(err)
	}
	return client
}

type publishResponse struct {
	MessageID string `json:"messageId"`
}

// Publish sends one JSON message to a destination URL or URL group and
// returns the QStash message id.
func (c *Client) Publish(ctx context.Context, destination string, body any) (string, error) {
	destination = strings.TrimSpace(destination)
	if destination == "" {
		return "", errors.New("qstash destination is required")
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal qstash message: %w", err)
	}

	endpoint := c.baseURL + "/v2/publish/" + destination
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build qstash request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("qstash publish: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read qstash response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("qstash publish failed: status %d: %s", resp.StatusCode, string(data))
	}

	var pr publishResponse
	if err := json.Unmarshal(data, &pr); err != nil {
		// URL groups answer with an array of receipts, one per endpoint.
		var multi []publishResponse
		if err := json.Unmarshal(data, &multi); err != nil || len(multi) == 0 {
			return "", fmt.Errorf("decode qstash response: %s", string(data))
		}
		pr = multi[0]
	}
	return pr.MessageID, nil
}

type eventEnvelope struct {
	Event       string    `json:"event"`
	PublishedAt time.Time `json:"published_at"`
	Payload     any       `json:"payload"`
}

// Notify wraps a handoff event in an envelope and publishes it to the
// configured destination.
func (c *Client) Notify(ctx context.Context, event string, payload any) error {
	_, err := c.Publish(ctx, c.destination, eventEnvelope{
		Event:       event,
		PublishedAt: time.Now().UTC(),
		Payload:     payload,
	})
	return err
}
