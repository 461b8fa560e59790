package dispatch

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/manutech/courier-server/db"
	"github.com/manutech/courier-server/gateway"
)

type fakeBreaker struct {
	allow     bool
	successes int
	failures  int
}

func (b *fakeBreaker) ShouldAttempt(ctx context.Context) bool { return b.allow }
func (b *fakeBreaker) RecordSuccess(ctx context.Context)      { b.successes++ }
func (b *fakeBreaker) RecordFailure(ctx context.Context)      { b.failures++ }

type fakeLimiter struct {
	allowed    bool
	remaining  int
	increments int
	checks     int
}

func (l *fakeLimiter) CheckLimit(ctx context.Context) (bool, int) {
	l.checks++
	return l.allowed, l.remaining
}
func (l *fakeLimiter) Increment(ctx context.Context) { l.increments++ }

type fakeGateway struct {
	status int
	body   string
	err    error
	calls  int
}

func (g *fakeGateway) SendText(ctx context.Context, to, body string) (*gateway.SendResult, error) {
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	return &gateway.SendResult{StatusCode: g.status, Body: g.body}, nil
}

type fakeSMS struct {
	err   error
	calls int
}

func (s *fakeSMS) Send(ctx context.Context, to, message string) error {
	s.calls++
	return s.err
}

type fixture struct {
	db      *db.DB
	breaker *fakeBreaker
	limiter *fakeLimiter
	gw      *fakeGateway
	sms     *fakeSMS
	d       *Dispatcher
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	f := &fixture{
		db:      database,
		breaker: &fakeBreaker{allow: true},
		limiter: &fakeLimiter{allowed: true, remaining: 60},
		gw:      &fakeGateway{status: 200, body: `{"key":{"id":"prov-1"}}`},
		sms:     &fakeSMS{},
		// Rows are created due "now" with a wall-clock stamp; the test
		// clock sits in the future so freshly created rows are claimable.
		now: time.Date(2030, 3, 10, 12, 0, 0, 0, time.UTC),
	}
	f.d = NewDispatcher(database, f.gw, f.sms, f.breaker, f.limiter, nil)
	f.d.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) message(t *testing.T, priority db.Priority) *db.OutboundMessage {
	t.Helper()
	m, err := f.db.CreateMessage("5511988887777", "oi", priority)
	if err != nil {
		t.Fatalf("create message: %v", err)
	}
	return m
}

func TestSendSuccess(t *testing.T) {
	f := newFixture(t)
	m := f.message(t, db.PriorityNormal)

	out := f.d.Send(context.Background(), m)
	if out.Code != CodeSent {
		t.Fatalf("code = %s, want sent", out.Code)
	}
	if f.breaker.successes != 1 || f.limiter.increments != 1 {
		t.Fatalf("successes/increments = %d/%d, want 1/1", f.breaker.successes, f.limiter.increments)
	}

	got, _ := f.db.GetMessage(m.ID)
	if got.Status != db.StatusSent || got.Attempts != 1 {
		t.Fatalf("row = %s/%d, want sent/1", got.Status, got.Attempts)
	}
	if got.LastResponse != `{"key":{"id":"prov-1"}}` {
		t.Fatalf("last response = %q not audited", got.LastResponse)
	}
}

func TestSendInvalidRecipient(t *testing.T) {
	f := newFixture(t)
	m, err := f.db.CreateMessage("not-a-phone", "oi", db.PriorityNormal)
	if err != nil {
		t.Fatalf("create message: %v", err)
	}

	out := f.d.Send(context.Background(), m)
	if out.Code != CodeInvalidRecipient {
		t.Fatalf("code = %s, want invalid_recipient", out.Code)
	}
	if f.gw.calls != 0 || f.sms.calls != 0 {
		t.Fatal("validation failure must not reach any channel")
	}

	got, _ := f.db.GetMessage(m.ID)
	if got.Status != db.StatusFailed {
		t.Fatalf("row status = %s, want failed with no retry", got.Status)
	}
}

func TestSendDeferredByRateLimit(t *testing.T) {
	f := newFixture(t)
	f.limiter.allowed = false
	f.limiter.remaining = 0
	m := f.message(t, db.PriorityNormal)

	out := f.d.Send(context.Background(), m)
	if out.Code != CodeDeferred {
		t.Fatalf("code = %s, want deferred", out.Code)
	}
	if f.gw.calls != 0 {
		t.Fatal("deferred send must not hit the gateway")
	}
	if out.RetryAt == nil || !out.RetryAt.Equal(f.now.Add(deferDelay)) {
		t.Fatalf("retryAt = %v, want now+%s", out.RetryAt, deferDelay)
	}

	// Deferral is not a failure and not an attempt.
	got, _ := f.db.GetMessage(m.ID)
	if got.Status != db.StatusPending || got.Attempts != 0 {
		t.Fatalf("row = %s/%d, want pending/0", got.Status, got.Attempts)
	}
}

func TestUrgentBypassesRateLimit(t *testing.T) {
	f := newFixture(t)
	f.limiter.allowed = false
	f.limiter.remaining = 0
	m := f.message(t, db.PriorityUrgent)

	out := f.d.Send(context.Background(), m)
	if out.Code != CodeSent {
		t.Fatalf("code = %s, want sent", out.Code)
	}
	if f.limiter.checks != 0 {
		t.Fatalf("limiter checked %d times for urgent, want 0", f.limiter.checks)
	}
	if f.gw.calls != 1 {
		t.Fatalf("gateway calls = %d, want 1", f.gw.calls)
	}
}

func TestRetryBackoffSequence(t *testing.T) {
	f := newFixture(t)
	f.gw.status = 500
	f.gw.body = `{"error":"upstream"}`
	m := f.message(t, db.PriorityNormal)

	wantDelays := []time.Duration{60 * time.Second, 300 * time.Second, 1500 * time.Second}
	for i, want := range wantDelays {
		out := f.d.Send(context.Background(), m)
		if out.Code != CodeRetryScheduled {
			t.Fatalf("attempt %d code = %s, want retry_scheduled", i+1, out.Code)
		}
		if out.RetryAt == nil || !out.RetryAt.Equal(f.now.Add(want)) {
			t.Fatalf("attempt %d retryAt = %v, want now+%s", i+1, out.RetryAt, want)
		}
		// The scheduler re-hands the row once the retry time arrives.
		f.now = *out.RetryAt
	}

	// Fourth failure is terminal, never a fourth retry.
	out := f.d.Send(context.Background(), m)
	if out.Code != CodeFailed {
		t.Fatalf("fourth failure code = %s, want failed", out.Code)
	}
	got, _ := f.db.GetMessage(m.ID)
	if got.Status != db.StatusFailed || got.Attempts != 4 {
		t.Fatalf("row = %s/%d, want failed/4", got.Status, got.Attempts)
	}
	if f.breaker.failures != 4 {
		t.Fatalf("breaker failures = %d, want 4", f.breaker.failures)
	}
}

func TestTransportErrorCountsAsFailure(t *testing.T) {
	f := newFixture(t)
	f.gw.err = errors.New("dial tcp: i/o timeout")
	m := f.message(t, db.PriorityNormal)

	out := f.d.Send(context.Background(), m)
	if out.Code != CodeRetryScheduled {
		t.Fatalf("code = %s, want retry_scheduled", out.Code)
	}
	got, _ := f.db.GetMessage(m.ID)
	if got.LastResponse != "dial tcp: i/o timeout" {
		t.Fatalf("last response = %q, want the transport error audited", got.LastResponse)
	}
}

func TestCircuitOpenFallsBackToSMS(t *testing.T) {
	f := newFixture(t)
	f.breaker.allow = false
	m := f.message(t, db.PriorityNormal)

	out := f.d.Send(context.Background(), m)
	if out.Code != CodeCircuitOpenSent {
		t.Fatalf("code = %s, want circuit_open_sent", out.Code)
	}
	if f.gw.calls != 0 || f.sms.calls != 1 {
		t.Fatalf("gw/sms calls = %d/%d, want 0/1", f.gw.calls, f.sms.calls)
	}
	if f.limiter.checks != 0 || f.limiter.increments != 0 {
		t.Fatal("fallback path must not touch the rate limiter")
	}

	got, _ := f.db.GetMessage(m.ID)
	if got.Status != db.StatusSent {
		t.Fatalf("row status = %s, want sent", got.Status)
	}
}

func TestCircuitOpenSMSFailureSchedulesRetry(t *testing.T) {
	f := newFixture(t)
	f.breaker.allow = false
	f.sms.err = errors.New("sms provider down")
	m := f.message(t, db.PriorityNormal)

	out := f.d.Send(context.Background(), m)
	if out.Code != CodeCircuitOpenFail {
		t.Fatalf("code = %s, want circuit_open_fail", out.Code)
	}
	if out.RetryAt == nil {
		t.Fatal("retryAt not set, message would be stranded")
	}

	got, _ := f.db.GetMessage(m.ID)
	if got.Status != db.StatusPending || got.Attempts != 1 {
		t.Fatalf("row = %s/%d, want pending/1", got.Status, got.Attempts)
	}
}

func TestSendClaimsRowAgainstDoubleDispatch(t *testing.T) {
	f := newFixture(t)
	m := f.message(t, db.PriorityNormal)

	if out := f.d.Send(context.Background(), m); out.Code != CodeSent {
		t.Fatalf("first send code = %s, want sent", out.Code)
	}

	// A racing worker holding the same row loses the claim and skips.
	out := f.d.Send(context.Background(), m)
	if out.Code != CodeSkipped {
		t.Fatalf("second send code = %s, want skipped", out.Code)
	}
	if f.gw.calls != 1 {
		t.Fatalf("gateway calls = %d, want 1", f.gw.calls)
	}

	got, _ := f.db.GetMessage(m.ID)
	if got.Status != db.StatusSent || got.Attempts != 1 {
		t.Fatalf("row = %s/%d, want sent/1 untouched by the loser", got.Status, got.Attempts)
	}
}

func TestSendSkipsRowNotYetDue(t *testing.T) {
	f := newFixture(t)
	m := f.message(t, db.PriorityNormal)
	if err := f.db.Reschedule(m.ID, f.now.Add(time.Hour)); err != nil {
		t.Fatalf("reschedule: %v", err)
	}

	out := f.d.Send(context.Background(), m)
	if out.Code != CodeSkipped {
		t.Fatalf("code = %s, want skipped for a future row", out.Code)
	}
	if f.gw.calls != 0 {
		t.Fatal("future row must not reach the gateway")
	}
}

func TestBackoffDelay(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 60 * time.Second},
		{2, 300 * time.Second},
		{3, 1500 * time.Second},
	}
	for _, tt := range tests {
		if got := backoffDelay(tt.attempt); got != tt.want {
			t.Errorf("backoffDelay(%d) = %s, want %s", tt.attempt, got, tt.want)
		}
	}
}
