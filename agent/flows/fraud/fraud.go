// Package fraud implements the fraud-alert verification call flow: bind a
// pending case to the caller, verify identity with the case's security
// question, disclose the flagged transaction, and record the customer's
// decision. Verification is fail-closed: one wrong answer ends the call.
package fraud

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/voxkit/callflow/agent/casedb"
	contractx "github.com/voxkit/callflow/agent/contract"
	statex "github.com/voxkit/callflow/agent/state"
	toolx "github.com/voxkit/callflow/agent/tool"
)

const OutcomeVerificationFailed = "verification_failed"

// Tool names exposed to the model.
const (
	ToolLoadCase           = "load_case"
	ToolSecurityQuestion   = "get_security_question"
	ToolVerifyCustomer     = "verify_customer"
	ToolTransactionDetails = "get_transaction_details"
	ToolConfirmTransaction = "confirm_transaction"
)

const (
	verificationFailedReply = "I'm sorry, but that answer doesn't match our records. For your security, I cannot proceed with this call."
	verifiedReply           = "Thank you for verifying your identity. Now let me tell you about the suspicious transaction."

	noteConfirmedSafe  = "Customer confirmed transaction as legitimate"
	noteConfirmedFraud = "Customer denied making transaction - card blocked and dispute initiated"
)

// CaseFinder looks up the pending case for a caller.
type CaseFinder interface {
	FindPendingByName(ctx context.Context, name string) (*casedb.FraudCase, error)
}

// CaseResolver records the customer's decision on the case row.
type CaseResolver interface {
	Resolve(ctx context.Context, caseID int64, status, note string, cardBlocked bool) error
}

// NewRegistry wires the five fraud tools against the case store. A nil now
// falls back to the wall clock.
func NewRegistry(cases CaseFinder, resolver CaseResolver, now func() time.Time) *toolx.Registry {
	if now == nil {
		now = time.Now
	}
	f := &flow{cases: cases, resolver: resolver, now: now}

	r := toolx.NewRegistry(contractx.FlowFraud)
	r.MustRegister(&toolx.Tool{
		Info: &schema.ToolInfo{
			Name: ToolLoadCase,
			Desc: "Look up the pending fraud alert for a customer by name. Call this first, before anything else.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"customer_name": {Type: schema.String, Desc: "Customer's name as they gave it", Required: true},
			}),
		},
		MinStage:   statex.StageIdentityLookup,
		MaxStage:   statex.StageVerification,
		GuardReply: "We're already past the lookup step on this call.",
		Handler:    f.loadCase,
	})
	r.MustRegister(&toolx.Tool{
		Info: &schema.ToolInfo{
			Name:        ToolSecurityQuestion,
			Desc:        "Fetch the security question that must be answered before any details are shared.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{}),
		},
		MinStage:   statex.StageVerification,
		GuardReply: "No fraud case loaded. Please ask for the customer's name first.",
		Handler:    f.securityQuestion,
	})
	r.MustRegister(&toolx.Tool{
		Info: &schema.ToolInfo{
			Name: ToolVerifyCustomer,
			Desc: "Check the customer's answer to the security question. A wrong answer ends the call.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"answer": {Type: schema.String, Desc: "The customer's answer", Required: true},
			}),
		},
		MinStage:   statex.StageVerification,
		MaxStage:   statex.StageVerification,
		GuardReply: "No fraud case loaded. Please provide your name first.",
		Handler:    f.verifyCustomer,
	})
	r.MustRegister(&toolx.Tool{
		Info: &schema.ToolInfo{
			Name:        ToolTransactionDetails,
			Desc:        "Read out the suspicious transaction. Only available after identity verification.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{}),
		},
		MinStage:   statex.StageDisclosure,
		MaxStage:   statex.StageResolution,
		GuardReply: "Customer identity must be verified before sharing transaction details.",
		Handler:    f.transactionDetails,
	})
	r.MustRegister(&toolx.Tool{
		Info: &schema.ToolInfo{
			Name: ToolConfirmTransaction,
			Desc: "Record whether the customer made the transaction. Closes the case either way.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"made_purchase": {Type: schema.Boolean, Desc: "True if the customer recognizes the transaction", Required: true},
			}),
		},
		MinStage:   statex.StageDisclosure,
		GuardReply: "Cannot process transaction confirmation. Customer must be verified first.",
		Terminal:   true,
		Handler:    f.confirmTransaction,
	})
	return r
}

type flow struct {
	cases    CaseFinder
	resolver CaseResolver
	now      func() time.Time
}

func (f *flow) loadCase(ctx context.Context, st *statex.SessionState, args contractx.ToolArgs) (*contractx.ToolReply, error) {
	username, err := toolx.String(args, "customer_name")
	if err != nil {
		return nil, err
	}
	ident := statex.NormalizeIdentifier(username)

	// Re-asking for the customer we already bound is harmless; switching to
	// a different customer mid-call is not allowed.
	if st.Case != nil {
		if st.Identifier == ident {
			return foundReply(username, st.Case), nil
		}
		return &contractx.ToolReply{
			Speech: fmt.Sprintf("We're already reviewing a case for %s on this call. Let's finish that first.", st.Case.CustomerName),
			Result: map[string]any{"found": true, "case_id": st.Case.CaseID},
		}, nil
	}

	fc, err := f.cases.FindPendingByName(ctx, username)
	if err != nil {
		if errors.Is(err, casedb.ErrCaseNotFound) {
			// No record is bound and nothing advances; the caller may try a
			// corrected name or get redirected.
			return &contractx.ToolReply{
				Speech: fmt.Sprintf("I don't see any pending fraud alerts for %s. You may have the wrong department.", username),
				Result: map[string]any{"found": false},
			}, nil
		}
		return nil, fmt.Errorf("%w: lookup: %v", contractx.ErrPersistence, err)
	}

	st.Case = snapshotCase(fc)
	st.Identifier = ident
	if err := st.AdvanceTo(statex.StageVerification, f.now()); err != nil {
		return nil, err
	}
	return foundReply(username, st.Case), nil
}

func (f *flow) securityQuestion(ctx context.Context, st *statex.SessionState, args contractx.ToolArgs) (*contractx.ToolReply, error) {
	return &contractx.ToolReply{
		Speech: fmt.Sprintf("For security purposes, I need to verify your identity. %s", st.Case.SecurityQuestion),
		Result: map[string]any{"question": st.Case.SecurityQuestion},
	}, nil
}

func (f *flow) verifyCustomer(ctx context.Context, st *statex.SessionState, args contractx.ToolArgs) (*contractx.ToolReply, error) {
	answer, err := toolx.String(args, "answer")
	if err != nil {
		return nil, err
	}

	if !statex.AnswersMatch(st.Case.SecurityAnswer, answer) {
		// Fail closed. The case row stays pending for a human to follow up.
		if err := st.Close(statex.StageVerificationFailed, OutcomeVerificationFailed, verificationFailedReply, f.now()); err != nil {
			return nil, err
		}
		return &contractx.ToolReply{
			Speech: verificationFailedReply,
			Result: map[string]any{"verified": false},
		}, nil
	}

	if err := st.AdvanceTo(statex.StageDisclosure, f.now()); err != nil {
		return nil, err
	}
	return &contractx.ToolReply{
		Speech: verifiedReply,
		Result: map[string]any{"verified": true},
	}, nil
}

func (f *flow) transactionDetails(ctx context.Context, st *statex.SessionState, args contractx.ToolArgs) (*contractx.ToolReply, error) {
	if err := st.AdvanceTo(statex.StageResolution, f.now()); err != nil {
		return nil, err
	}
	summary := st.Case.Summary()
	return &contractx.ToolReply{
		Speech: fmt.Sprintf("Here are the details of the suspicious transaction: %s", summary),
		Result: map[string]any{"summary": summary, "amount": st.Case.Transaction.Amount},
	}, nil
}

func (f *flow) confirmTransaction(ctx context.Context, st *statex.SessionState, args contractx.ToolArgs) (*contractx.ToolReply, error) {
	madePurchase, err := toolx.Bool(args, "made_purchase")
	if err != nil {
		return nil, err
	}

	status := casedb.StatusConfirmedFraud
	note := noteConfirmedFraud
	speech := fmt.Sprintf("I understand this transaction is fraudulent. I've immediately blocked your card ending in %s and initiated a dispute. You'll receive a new card within 3-5 business days. Is there anything else I can help you with regarding this matter?", st.Case.CardEnding)
	if madePurchase {
		status = casedb.StatusConfirmedSafe
		note = noteConfirmedSafe
		speech = "Perfect! I've updated your account to show this transaction is legitimate. No further action is needed. Thank you for your time."
	}

	// The row update happens before the session closes; if it cannot be
	// recorded the session stays open and the customer can try again.
	if err := f.resolver.Resolve(ctx, st.Case.CaseID, status, note, !madePurchase); err != nil {
		return nil, err
	}

	st.Case.Status = status
	st.Artifact = fmt.Sprintf("fraud_cases/%d", st.Case.CaseID)
	if err := st.Close(statex.StageClosed, status, speech, f.now()); err != nil {
		return nil, err
	}
	return &contractx.ToolReply{
		Speech: speech,
		Result: map[string]any{"case_id": st.Case.CaseID, "status": status, "card_blocked": !madePurchase},
	}, nil
}

func foundReply(username string, c *statex.CaseFile) *contractx.ToolReply {
	return &contractx.ToolReply{
		Speech: fmt.Sprintf("Found a fraud alert for %s. I can see a suspicious transaction on your account.", username),
		Result: map[string]any{"found": true, "case_id": c.CaseID},
	}
}

func snapshotCase(fc *casedb.FraudCase) *statex.CaseFile {
	return &statex.CaseFile{
		CaseID:           fc.ID,
		CustomerName:     fc.UserName,
		CardEnding:       fc.CardEnding,
		SecurityQuestion: fc.SecurityQuestion,
		SecurityAnswer:   fc.SecurityAnswer,
		Status:           fc.CaseStatus,
		Transaction: statex.Transaction{
			Name:     fc.TransactionName,
			Time:     fc.TransactionTime,
			Category: fc.TransactionCategory,
			Source:   fc.TransactionSource,
			Amount:   fc.TransactionAmount,
			Location: fc.TransactionLocation,
		},
	}
}
