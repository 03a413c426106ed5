// Package lead implements the sales-lead qualification call flow: answer
// product questions from the static FAQ, collect the qualification fields
// one answer at a time, and drop a lead file for the sales team when the
// call wraps up.
package lead

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"

	contractx "github.com/voxkit/callflow/agent/contract"
	statex "github.com/voxkit/callflow/agent/state"
	toolx "github.com/voxkit/callflow/agent/tool"
)

const OutcomeLeadCaptured = "lead_captured"

// Tool names exposed to the model.
const (
	ToolCollectLeadInfo     = "collect_lead_info"
	ToolAnswerQuestion      = "answer_product_question"
	ToolQualificationStatus = "get_qualification_status"
	ToolCallSummary         = "generate_call_summary"
)

const faqFallbackReply = "That's a great question. I don't have the full details on hand, but our solutions team can cover that in a follow-up."

// LeadWriter persists the finished lead profile and returns where it landed.
type LeadWriter interface {
	Write(ctx context.Context, lead *statex.LeadProfile) (string, error)
}

// NewRegistry wires the qualification tools against the company reference
// data and the lead sink. A nil now falls back to the wall clock.
func NewRegistry(data *CompanyData, writer LeadWriter, now func() time.Time) *toolx.Registry {
	if now == nil {
		now = time.Now
	}
	f := &flow{data: data, writer: writer, now: now}

	r := toolx.NewRegistry(contractx.FlowLead)
	r.MustRegister(&toolx.Tool{
		Info: &schema.ToolInfo{
			Name: ToolCollectLeadInfo,
			Desc: "Record one qualification detail the caller just shared (name, company, email, role, use_case, team_size or timeline).",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"field": {Type: schema.String, Desc: "Which detail: name, company, email, role, use_case, team_size or timeline", Required: true},
				"value": {Type: schema.String, Desc: "The caller's answer, verbatim", Required: true},
			}),
		},
		MinStage: statex.StageStart,
		Handler:  f.collectLeadInfo,
	})
	r.MustRegister(&toolx.Tool{
		Info: &schema.ToolInfo{
			Name: ToolAnswerQuestion,
			Desc: "Answer a product or pricing question from the FAQ sheet.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"question": {Type: schema.String, Desc: "The caller's question", Required: true},
			}),
		},
		MinStage: statex.StageStart,
		Handler:  f.answerQuestion,
	})
	r.MustRegister(&toolx.Tool{
		Info: &schema.ToolInfo{
			Name:        ToolQualificationStatus,
			Desc:        "Check which qualification details are collected and what to ask next.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{}),
		},
		MinStage: statex.StageStart,
		Handler:  f.qualificationStatus,
	})
	r.MustRegister(&toolx.Tool{
		Info: &schema.ToolInfo{
			Name:        ToolCallSummary,
			Desc:        "Wrap up the call: save the lead for the sales team and give the closing summary.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{}),
		},
		MinStage:   statex.StageDisclosure,
		GuardReply: "I don't have any of your details yet. May I start with your name?",
		Terminal:   true,
		Handler:    f.callSummary,
	})
	return r
}

type flow struct {
	data   *CompanyData
	writer LeadWriter
	now    func() time.Time
}

func (f *flow) collectLeadInfo(ctx context.Context, st *statex.SessionState, args contractx.ToolArgs) (*contractx.ToolReply, error) {
	field, err := toolx.String(args, "field")
	if err != nil {
		return nil, err
	}
	value, err := toolx.String(args, "value")
	if err != nil {
		return nil, err
	}

	if err := st.Lead.Set(field, value); err != nil {
		if errors.Is(err, statex.ErrUnknownLeadField) {
			// Keep the call going; the model can re-ask.
			return &contractx.ToolReply{
				Speech: "I'm sorry, I didn't catch which detail that was. Could you say it again?",
				Result: map[string]any{"error": "unknown_field", "field": field},
			}, nil
		}
		return nil, err
	}

	if st.Stage == statex.StageStart {
		if err := st.AdvanceTo(statex.StageDisclosure, f.now()); err != nil {
			return nil, err
		}
	}

	return &contractx.ToolReply{
		Speech: fmt.Sprintf("Got it, I've noted your %s.", displayLabel(field)),
		Result: map[string]any{
			"collected": st.Lead.CollectedFields(),
			"missing":   f.missingFields(st.Lead),
		},
	}, nil
}

func (f *flow) answerQuestion(ctx context.Context, st *statex.SessionState, args contractx.ToolArgs) (*contractx.ToolReply, error) {
	question, err := toolx.String(args, "question")
	if err != nil {
		return nil, err
	}

	answer, ok := f.data.SearchFAQ(question)
	if !ok {
		return &contractx.ToolReply{
			Speech: faqFallbackReply,
			Result: map[string]any{"matched": false},
		}, nil
	}
	return &contractx.ToolReply{
		Speech: answer,
		Result: map[string]any{"matched": true},
	}, nil
}

func (f *flow) qualificationStatus(ctx context.Context, st *statex.SessionState, args contractx.ToolArgs) (*contractx.ToolReply, error) {
	collected := st.Lead.CollectedFields()
	missing := f.missingFields(st.Lead)

	var speech string
	switch {
	case len(collected) == 0:
		speech = fmt.Sprintf("I don't have any details yet. %s", f.data.PromptFor("name"))
	case len(missing) == 0:
		speech = fmt.Sprintf("I have everything I need: your %s. Shall I wrap up with a quick summary?", strings.Join(collected, ", "))
	default:
		speech = fmt.Sprintf("So far I have your %s. %s", strings.Join(collected, ", "), f.data.PromptFor(missing[0]))
	}

	return &contractx.ToolReply{
		Speech: speech,
		Result: map[string]any{"collected": collected, "missing": missing},
	}, nil
}

func (f *flow) callSummary(ctx context.Context, st *statex.SessionState, args contractx.ToolArgs) (*contractx.ToolReply, error) {
	if st.Lead.Empty() {
		return &contractx.ToolReply{
			Speech: "I don't have any of your details yet. May I start with your name?",
			Result: map[string]any{"saved": false},
		}, nil
	}

	path, err := f.writer.Write(ctx, st.Lead)
	if err != nil {
		return nil, err
	}

	collected := st.Lead.CollectedFields()
	speech := fmt.Sprintf("Thank you for your time! To recap, I've noted your %s. Our team at %s will reach out shortly.",
		strings.Join(collected, ", "), f.data.Company.Name)

	st.Artifact = path
	if err := st.Close(statex.StageClosed, OutcomeLeadCaptured, speech, f.now()); err != nil {
		return nil, err
	}
	return &contractx.ToolReply{
		Speech: speech,
		Result: map[string]any{"saved": true, "path": path, "collected": collected},
	}, nil
}

func (f *flow) missingFields(l *statex.LeadProfile) []string {
	values := l.Values()
	var missing []string
	for _, field := range f.data.FieldOrder() {
		if values[field] == "" {
			missing = append(missing, field)
		}
	}
	return missing
}

func displayLabel(field string) string {
	field = strings.ToLower(strings.TrimSpace(field))
	return strings.ReplaceAll(field, "_", " ")
}
