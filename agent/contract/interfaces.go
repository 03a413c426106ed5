package contract

import "context"

// Notifier forwards a finalized record to an external handoff endpoint
// (CRM webhook, ops queue). Implementations must be safe to skip: the
// dialogue never blocks on a notifier.
type Notifier interface {
	Notify(ctx context.Context, event string, payload any) error
}
