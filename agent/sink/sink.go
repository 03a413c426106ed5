package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	contractx "github.com/voxkit/callflow/agent/contract"
	statex "github.com/voxkit/callflow/agent/state"
)

// Terminal-record persistence. Every writer retries a failed attempt once;
// a second failure surfaces as ErrPersistence so the flow can apologize and
// leave the session open for another try.

const defaultRetryDelay = 100 * time.Millisecond

// Notification events emitted after a record lands.
const (
	EventLeadCaptured = "lead.captured"
	EventOrderPlaced  = "order.placed"
	EventCaseResolved = "case.resolved"
)

type options struct {
	notifier   contractx.Notifier
	now        func() time.Time
	retryDelay time.Duration
}

type Option func(*options)

// WithNotifier forwards a handoff event after each successful write.
// Delivery is best effort: failures are logged and never block the call.
func WithNotifier(n contractx.Notifier) Option {
	return func(o *options) { o.notifier = n }
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func WithRetryDelay(d time.Duration) Option {
	return func(o *options) { o.retryDelay = d }
}

func buildOptions(opts []Option) options {
	o := options{
		now:        time.Now,
		retryDelay: defaultRetryDelay,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) notify(ctx context.Context, event string, payload any) {
	if o.notifier == nil {
		return
	}
	if err := o.notifier.Notify(ctx, event, payload); err != nil {
		log.Warn().Err(err).Str("event", event).Msg("handoff notification failed")
	}
}

// withRetry runs fn, and once more after a pause if the first attempt
// failed. The second failure is wrapped in ErrPersistence.
func (o options) withRetry(ctx context.Context, op string, fn func() error) error {
	err := fn()
	if err == nil {
		return nil
	}
	log.Warn().Err(err).Str("op", op).Msg("persistence attempt failed, retrying once")

	if o.retryDelay > 0 {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s: %v", contractx.ErrPersistence, op, err)
		case <-time.After(o.retryDelay):
		}
	}
	if err := fn(); err != nil {
		return fmt.Errorf("%w: %s: %v", contractx.ErrPersistence, op, err)
	}
	return nil
}

// writeJSONAtomic lands the document via a temp file and rename, so readers
// polling the directory never see a partial record.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	data = append(data, '\n')

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

/* ----- Lead sink ----- */

// LeadSink drops one lead_<timestamp>.json per captured lead.
type LeadSink struct {
	dir  string
	opts options
}

func NewLeadSink(dir string, opts ...Option) *LeadSink {
	return &LeadSink{dir: dir, opts: buildOptions(opts)}
}

func (s *LeadSink) Write(ctx context.Context, lead *statex.LeadProfile) (string, error) {
	if lead == nil {
		return "", fmt.Errorf("%w: nil lead profile", contractx.ErrValidation)
	}

	now := s.opts.now().UTC()
	rec := leadRecordFrom(lead, now)
	path := filepath.Join(s.dir, fmt.Sprintf("lead_%s.json", now.Format("20060102_150405")))

	err := s.opts.withRetry(ctx, "write lead", func() error {
		if err := os.MkdirAll(s.dir, 0o755); err != nil {
			return err
		}
		return writeJSONAtomic(path, rec)
	})
	if err != nil {
		return "", err
	}

	log.Info().Str("path", path).Str("company", rec.Company).Msg("lead captured")
	s.opts.notify(ctx, EventLeadCaptured, rec)
	return path, nil
}

/* ----- Order sink ----- */

// OrderSink drops one order_<id>.json per confirmed order.
type OrderSink struct {
	dir  string
	opts options
}

func NewOrderSink(dir string, opts ...Option) *OrderSink {
	return &OrderSink{dir: dir, opts: buildOptions(opts)}
}

func (s *OrderSink) Write(ctx context.Context, rec *OrderRecord) (string, error) {
	if rec == nil || rec.OrderID == "" {
		return "", fmt.Errorf("%w: order record needs an id", contractx.ErrValidation)
	}
	if rec.Status == "" {
		rec.Status = OrderStatusConfirmed
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.opts.now().UTC()
	}

	path := filepath.Join(s.dir, fmt.Sprintf("order_%s.json", rec.OrderID))
	err := s.opts.withRetry(ctx, "write order", func() error {
		if err := os.MkdirAll(s.dir, 0o755); err != nil {
			return err
		}
		return writeJSONAtomic(path, rec)
	})
	if err != nil {
		return "", err
	}

	log.Info().Str("path", path).Str("order_id", rec.OrderID).Float64("total", rec.Total).Msg("order placed")
	s.opts.notify(ctx, EventOrderPlaced, rec)
	return path, nil
}

/* ----- Case sink ----- */

// CaseResolver is the slice of the case store the sink needs.
type CaseResolver interface {
	Resolve(ctx context.Context, id int64, status, note string, cardBlocked bool) error
}

// CaseSink records a fraud decision on the case row.
type CaseSink struct {
	cases CaseResolver
	opts  options
}

func NewCaseSink(cases CaseResolver, opts ...Option) *CaseSink {
	return &CaseSink{cases: cases, opts: buildOptions(opts)}
}

func (s *CaseSink) Resolve(ctx context.Context, caseID int64, status, note string, cardBlocked bool) error {
	err := s.opts.withRetry(ctx, "resolve case", func() error {
		return s.cases.Resolve(ctx, caseID, status, note, cardBlocked)
	})
	if err != nil {
		return err
	}

	log.Info().Int64("case_id", caseID).Str("status", status).Bool("card_blocked", cardBlocked).Msg("fraud case resolved")
	s.opts.notify(ctx, EventCaseResolved, map[string]any{
		"case_id":      caseID,
		"status":       status,
		"note":         note,
		"card_blocked": cardBlocked,
	})
	return nil
}
