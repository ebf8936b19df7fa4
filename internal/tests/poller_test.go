package tests

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"delivery/internal/domain"
	"delivery/internal/gateway"
	"delivery/internal/poller"
)

// callbackRecorder captures poller callbacks for assertions.
type callbackRecorder struct {
	confirmed  chan string
	terminated chan terminatedCall
	count      int32
}

type terminatedCall struct {
	status domain.PaymentStatus
	reason string
}

func newCallbackRecorder() *callbackRecorder {
	return &callbackRecorder{
		confirmed:  make(chan string, 8),
		terminated: make(chan terminatedCall, 8),
	}
}

func (r *callbackRecorder) OnPaymentConfirmed(ctx context.Context, paymentID, transactionRef string) error {
	atomic.AddInt32(&r.count, 1)
	r.confirmed <- transactionRef
	return nil
}

func (r *callbackRecorder) OnPaymentTerminated(ctx context.Context, paymentID string, status domain.PaymentStatus, reason string) error {
	atomic.AddInt32(&r.count, 1)
	r.terminated <- terminatedCall{status: status, reason: reason}
	return nil
}

func TestPoller_ConfirmsAfterPendingPolls(t *testing.T) {
	t.Parallel()

	gw := NewMockGateway()
	gw.PollResults = []gateway.PollResult{
		{Status: gateway.PollPending},
		{Status: gateway.PollPending},
		{Status: gateway.PollCompleted, TransactionRef: "txn-9"},
	}
	recorder := newCallbackRecorder()

	p := poller.New(gw, recorder, 5*time.Millisecond, time.Second)
	defer p.Shutdown()

	p.Watch("payment-1", "qr-1")

	select {
	case ref := <-recorder.confirmed:
		if ref != "txn-9" {
			t.Errorf("expected transaction ref txn-9, got %q", ref)
		}
	case call := <-recorder.terminated:
		t.Fatalf("unexpected termination with %s", call.status)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for confirmation")
	}

	if got := atomic.LoadInt32(&gw.PollCallCount); got < 3 {
		t.Errorf("expected at least 3 polls, got %d", got)
	}
}

func TestPoller_FailedPollTerminates(t *testing.T) {
	t.Parallel()

	gw := NewMockGateway()
	gw.PollResults = []gateway.PollResult{
		{Status: gateway.PollFailed, Reason: "wallet declined"},
	}
	recorder := newCallbackRecorder()

	p := poller.New(gw, recorder, 5*time.Millisecond, time.Second)
	defer p.Shutdown()

	p.Watch("payment-1", "qr-1")

	select {
	case call := <-recorder.terminated:
		if call.status != domain.PaymentStatusFailed {
			t.Errorf("expected termination with FAILED, got %s", call.status)
		}
		if call.reason != "wallet declined" {
			t.Errorf("expected the gateway's reason to be forwarded, got %q", call.reason)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for termination")
	}
}

func TestPoller_WindowExpirySynthesizesExpired(t *testing.T) {
	t.Parallel()

	// The gateway never resolves; the wall-clock window must.
	gw := NewMockGateway()
	gw.PollResults = []gateway.PollResult{{Status: gateway.PollPending}}
	recorder := newCallbackRecorder()

	p := poller.New(gw, recorder, 5*time.Millisecond, 30*time.Millisecond)
	defer p.Shutdown()

	p.Watch("payment-1", "qr-1")

	select {
	case call := <-recorder.terminated:
		if call.status != domain.PaymentStatusExpired {
			t.Errorf("expected termination with EXPIRED, got %s", call.status)
		}
		if call.reason == "" {
			t.Error("expected a reason for the synthesized expiry")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for expiry")
	}
}

func TestPoller_PollErrorsBackOffUntilExpiry(t *testing.T) {
	t.Parallel()

	gw := NewMockGateway()
	gw.PollError = errors.New("gateway unreachable")
	recorder := newCallbackRecorder()

	p := poller.New(gw, recorder, 5*time.Millisecond, 40*time.Millisecond)
	defer p.Shutdown()

	p.Watch("payment-1", "qr-1")

	select {
	case call := <-recorder.terminated:
		if call.status != domain.PaymentStatusExpired {
			t.Errorf("expected termination with EXPIRED, got %s", call.status)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for expiry")
	}
}

func TestPoller_StopCancelsWithoutCallback(t *testing.T) {
	t.Parallel()

	gw := NewMockGateway()
	gw.PollResults = []gateway.PollResult{{Status: gateway.PollPending}}
	recorder := newCallbackRecorder()

	p := poller.New(gw, recorder, 5*time.Millisecond, time.Second)
	defer p.Shutdown()

	p.Watch("payment-1", "qr-1")
	time.Sleep(15 * time.Millisecond)
	p.Stop("payment-1")
	time.Sleep(30 * time.Millisecond)

	if got := atomic.LoadInt32(&recorder.count); got != 0 {
		t.Errorf("expected no callbacks after Stop, got %d", got)
	}
}

func TestPoller_WatchIsIdempotent(t *testing.T) {
	t.Parallel()

	gw := NewMockGateway()
	gw.PollResults = []gateway.PollResult{
		{Status: gateway.PollCompleted, TransactionRef: "txn-1"},
	}
	recorder := newCallbackRecorder()

	p := poller.New(gw, recorder, 5*time.Millisecond, time.Second)
	defer p.Shutdown()

	p.Watch("payment-1", "qr-1")
	p.Watch("payment-1", "qr-1")

	select {
	case <-recorder.confirmed:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for confirmation")
	}

	// Give a hypothetical second loop time to fire.
	time.Sleep(30 * time.Millisecond)
	if got := atomic.LoadInt32(&recorder.count); got != 1 {
		t.Errorf("expected exactly one confirmation, got %d callbacks", got)
	}
}

func TestPoller_ShutdownDrainsLoops(t *testing.T) {
	t.Parallel()

	gw := NewMockGateway()
	gw.PollResults = []gateway.PollResult{{Status: gateway.PollPending}}
	recorder := newCallbackRecorder()

	p := poller.New(gw, recorder, 5*time.Millisecond, time.Minute)

	for _, id := range []string{"payment-1", "payment-2", "payment-3"} {
		p.Watch(id, "qr-"+id)
	}

	done := make(chan struct{})
	go func() {
		p.Shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Shutdown did not drain the polling loops")
	}
	if got := atomic.LoadInt32(&recorder.count); got != 0 {
		t.Errorf("expected no callbacks from cancelled loops, got %d", got)
	}
}
