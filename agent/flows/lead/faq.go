package lead

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
)

//go:embed data/company.json
var companyJSON []byte

// CompanyData is the static reference sheet the agent sells from: who the
// company is, the FAQ it may answer verbatim, and the qualification fields
// to collect. Loaded once, never mutated.
type CompanyData struct {
	Company struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	} `json:"company"`
	FAQ               []FAQEntry `json:"faq"`
	LeadQualification struct {
		Fields []QualificationField `json:"fields"`
	} `json:"lead_qualification"`
}

type FAQEntry struct {
	Question string   `json:"question"`
	Keywords []string `json:"keywords"`
	Answer   string   `json:"answer"`
}

type QualificationField struct {
	Field  string `json:"field"`
	Prompt string `json:"prompt"`
}

func LoadCompanyData() (*CompanyData, error) {
	var data CompanyData
	if err := json.Unmarshal(companyJSON, &data); err != nil {
		return nil, fmt.Errorf("decode company data: %w", err)
	}
	if data.Company.Name == "" || len(data.FAQ) == 0 {
		return nil, fmt.Errorf("company data incomplete")
	}
	return &data, nil
}

func MustLoadCompanyData() *CompanyData {
	data, err := LoadCompanyData()
	if err != nil {
		panic(err)
	}
	return data
}

// SearchFAQ ranks entries by how many of their keywords appear in the
// query and returns the best answer. Ties go to the earlier entry; zero
// hits reports no match.
func (c *CompanyData) SearchFAQ(query string) (string, bool) {
	query = strings.ToLower(query)

	bestScore := 0
	bestAnswer := ""
	for _, entry := range c.FAQ {
		score := 0
		for _, kw := range entry.Keywords {
			if strings.Contains(query, strings.ToLower(kw)) {
				score++
			}
		}
		if score > bestScore {
			bestScore = score
			bestAnswer = entry.Answer
		}
	}
	return bestAnswer, bestScore > 0
}

// PromptFor returns the scripted question for a qualification field.
func (c *CompanyData) PromptFor(field string) string {
	for _, f := range c.LeadQualification.Fields {
		if f.Field == field {
			return f.Prompt
		}
	}
	return ""
}

// FieldOrder lists the qualification fields in collection order.
func (c *CompanyData) FieldOrder() []string {
	out := make([]string, 0, len(c.LeadQualification.Fields))
	for _, f := range c.LeadQualification.Fields {
		out = append(out, f.Field)
	}
	return out
}
