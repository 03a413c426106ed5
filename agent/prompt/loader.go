package prompt

import (
	_ "embed"
	"strings"
)

var (
	//go:embed template/fraud.txt
	fraudRaw string

	//go:embed template/lead.txt
	leadRaw string

	//go:embed template/order.txt
	orderRaw string
)

// PromptSet holds the system prompt of each call flow.
type PromptSet struct {
	Fraud string
	Lead  string
	Order string
}

// LoadPromptSet returns a PromptSet with trimmed prompt strings.
// This is safe to call concurrently; the embed is compile-time, and trimming is cheap.
func LoadPromptSet() PromptSet {
	return PromptSet{
		Fraud: strings.TrimSpace(fraudRaw),
		Lead:  strings.TrimSpace(leadRaw),
		Order: strings.TrimSpace(orderRaw),
	}
}
