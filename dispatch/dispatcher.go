// Package dispatch sends outbound messages through the resilience
// controls: circuit breaker, rate limiter, bounded retries with backoff,
// and SMS fallback while the circuit is open. Retries are never a
// blocking sleep — a failed send stamps the outbox row with a future
// attempt time and returns; the Scheduler picks it up later.
package dispatch

import (
	"context"
	"log/slog"
	"regexp"
	"time"

	"github.com/manutech/courier-server/db"
	"github.com/manutech/courier-server/gateway"
)

type Breaker interface {
	ShouldAttempt(ctx context.Context) bool
	RecordSuccess(ctx context.Context)
	RecordFailure(ctx context.Context)
}

type Limiter interface {
	CheckLimit(ctx context.Context) (bool, int)
	Increment(ctx context.Context)
}

type TextSender interface {
	SendText(ctx context.Context, to, body string) (*gateway.SendResult, error)
}

type SMSSender interface {
	Send(ctx context.Context, to, message string) error
}

// Publisher receives dispatch events for the operator feed. May be nil.
type Publisher interface {
	Publish(event string, data any)
}

type Code string

const (
	CodeSent             Code = "sent"
	CodeSkipped          Code = "skipped"           // row not due or claimed by another worker
	CodeDeferred         Code = "deferred"          // rate limit hit, rescheduled
	CodeRetryScheduled   Code = "retry_scheduled"   // transient failure, backoff scheduled
	CodeFailed           Code = "failed"            // terminal after max attempts
	CodeInvalidRecipient Code = "invalid_recipient" // validation error, never retried
	CodeCircuitOpenSent  Code = "circuit_open_sent" // delivered via SMS fallback
	CodeCircuitOpenFail  Code = "circuit_open_fail" // SMS fallback failed too
)

// Outcome is what one dispatch attempt produced. RetryAt is set whenever
// the message stays in flight.
type Outcome struct {
	Code    Code
	Detail  string
	RetryAt *time.Time
}

func (o Outcome) Delivered() bool {
	return o.Code == CodeSent || o.Code == CodeCircuitOpenSent
}

const (
	maxRetries    = 3
	deferDelay    = 60 * time.Second
	backoffBase   = 60 * time.Second
	backoffFactor = 5
	claimWindow   = 2 * time.Minute
)

var recipientPattern = regexp.MustCompile(`^[0-9]{10,15}$`)

type Dispatcher struct {
	db      *db.DB
	gw      TextSender
	sms     SMSSender
	breaker Breaker
	limiter Limiter
	events  Publisher
	now     func() time.Time
}

func NewDispatcher(database *db.DB, gw TextSender, sms SMSSender, breaker Breaker, limiter Limiter, events Publisher) *Dispatcher {
	return &Dispatcher{
		db:      database,
		gw:      gw,
		sms:     sms,
		breaker: breaker,
		limiter: limiter,
		events:  events,
		now:     time.Now,
	}
}

// Enqueue creates the outbox row and makes the first delivery attempt
// immediately.
func (d *Dispatcher) Enqueue(ctx context.Context, recipient, body string, priority db.Priority) (*db.OutboundMessage, Outcome, error) {
	m, err := d.db.CreateMessage(recipient, body, priority)
	if err != nil {
		return nil, Outcome{}, err
	}
	return m, d.Send(ctx, m), nil
}

// Send makes exactly one delivery attempt for a pending message and
// returns what happened. The outbox row is updated on every path. The
// row is claimed first, so an inline send and a scheduler tick (or two
// scheduler processes) can never dispatch the same message twice: the
// loser of the claim skips. Every later path overwrites the claim stamp
// with its real outcome.
func (d *Dispatcher) Send(ctx context.Context, m *db.OutboundMessage) Outcome {
	claimed, err := d.db.ClaimMessage(m.ID, d.now(), d.now().Add(claimWindow))
	if err != nil {
		slog.Error("outbox claim failed", "id", m.ID, "err", err)
		return Outcome{Code: CodeSkipped, Detail: err.Error()}
	}
	if !claimed {
		slog.Debug("message not due or already claimed", "id", m.ID)
		return Outcome{Code: CodeSkipped, Detail: "not due or already claimed"}
	}

	if !recipientPattern.MatchString(m.Recipient) {
		d.db.RecordAttempt(m.ID, m.Attempts, "invalid recipient")
		d.db.MarkFailed(m.ID)
		d.publish("dispatch.invalid", m, "")
		return Outcome{Code: CodeInvalidRecipient, Detail: "recipient must be 10-15 digits"}
	}

	// Circuit open: try the secondary channel once, skip the limiter.
	if !d.breaker.ShouldAttempt(ctx) {
		return d.sendFallback(ctx, m)
	}

	// URGENT bypasses the quota entirely.
	if m.Priority < db.PriorityUrgent {
		allowed, remaining := d.limiter.CheckLimit(ctx)
		if !allowed {
			retryAt := d.now().Add(deferDelay)
			d.db.Reschedule(m.ID, retryAt)
			slog.Info("send deferred by rate limit", "id", m.ID, "retryAt", retryAt)
			d.publish("dispatch.deferred", m, "")
			return Outcome{Code: CodeDeferred, Detail: "rate limit reached", RetryAt: &retryAt}
		}
		slog.Debug("rate limit check passed", "id", m.ID, "remaining", remaining)
	}

	res, err := d.gw.SendText(ctx, m.Recipient, m.Body)
	m.Attempts++

	response := ""
	if err != nil {
		response = err.Error()
	} else {
		response = res.Body
	}
	d.db.RecordAttempt(m.ID, m.Attempts, response)

	if err == nil && res.OK() {
		d.breaker.RecordSuccess(ctx)
		d.limiter.Increment(ctx)
		d.db.MarkSent(m.ID)
		slog.Info("message sent", "id", m.ID, "attempts", m.Attempts, "providerId", res.MessageID)
		d.publish("dispatch.sent", m, res.MessageID)
		return Outcome{Code: CodeSent, Detail: res.MessageID}
	}

	d.breaker.RecordFailure(ctx)
	return d.scheduleRetry(m, response)
}

// sendFallback attempts the SMS channel while the circuit is open.
func (d *Dispatcher) sendFallback(ctx context.Context, m *db.OutboundMessage) Outcome {
	err := d.sms.Send(ctx, m.Recipient, m.Body)
	if err == nil {
		d.db.RecordAttempt(m.ID, m.Attempts, "delivered via sms fallback")
		d.db.MarkSent(m.ID)
		slog.Warn("circuit open, delivered via sms", "id", m.ID)
		d.publish("dispatch.fallback", m, "")
		return Outcome{Code: CodeCircuitOpenSent, Detail: "delivered via sms fallback"}
	}

	m.Attempts++
	d.db.RecordAttempt(m.ID, m.Attempts, "sms fallback: "+err.Error())
	out := d.scheduleRetry(m, err.Error())
	if out.Code == CodeRetryScheduled {
		out.Code = CodeCircuitOpenFail
	}
	return out
}

// scheduleRetry applies the backoff policy after a failed attempt:
// 60s, 300s, 1500s, then terminal FAILED.
func (d *Dispatcher) scheduleRetry(m *db.OutboundMessage, detail string) Outcome {
	if m.Attempts > maxRetries {
		d.db.MarkFailed(m.ID)
		slog.Error("message failed after max attempts", "id", m.ID, "attempts", m.Attempts, "detail", detail)
		d.publish("dispatch.failed", m, "")
		return Outcome{Code: CodeFailed, Detail: detail}
	}

	retryAt := d.now().Add(backoffDelay(m.Attempts))
	d.db.Reschedule(m.ID, retryAt)
	slog.Warn("send failed, retry scheduled", "id", m.ID, "attempt", m.Attempts, "retryAt", retryAt)
	d.publish("dispatch.retry", m, "")
	return Outcome{Code: CodeRetryScheduled, Detail: detail, RetryAt: &retryAt}
}

// backoffDelay returns base * factor^(attempt-1).
func backoffDelay(attempt int) time.Duration {
	delay := backoffBase
	for i := 1; i < attempt; i++ {
		delay *= backoffFactor
	}
	return delay
}

func (d *Dispatcher) publish(event string, m *db.OutboundMessage, providerID string) {
	if d.events == nil {
		return
	}
	d.events.Publish(event, map[string]any{
		"id":         m.ID,
		"recipient":  m.Recipient,
		"priority":   m.Priority.String(),
		"attempts":   m.Attempts,
		"providerId": providerID,
	})
}
