// Package poller drives asynchronous payment confirmation. Each pending
// payment gets its own lightweight polling loop, so confirmation
// completes server-side regardless of client connectivity.
package poller

import (
	"context"
	"log"
	"sync"
	"time"

	"delivery/internal/domain"
	"delivery/internal/gateway"
)

// Callbacks is the surface the poller reports into on each observed
// terminal gateway state. Implemented by the payment orchestrator.
type Callbacks interface {
	OnPaymentConfirmed(ctx context.Context, paymentID, transactionRef string) error
	OnPaymentTerminated(ctx context.Context, paymentID string, status domain.PaymentStatus, reason string) error
}

// Poller polls the gateway for pending payments until completion,
// failure, or expiry of the wall-clock window.
type Poller struct {
	gw       gateway.Gateway
	cb       Callbacks
	interval time.Duration
	window   time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	watches map[string]context.CancelFunc
}

// New creates a poller. interval is the delay between polls, window the
// maximum wall-clock time a payment may stay unresolved before the
// poller synthesizes an EXPIRED result.
func New(gw gateway.Gateway, cb Callbacks, interval, window time.Duration) *Poller {
	ctx, cancel := context.WithCancel(context.Background())
	return &Poller{
		gw:       gw,
		cb:       cb,
		interval: interval,
		window:   window,
		ctx:      ctx,
		cancel:   cancel,
		watches:  make(map[string]context.CancelFunc),
	}
}

// Watch starts a polling loop for the payment. Watching an already
// watched payment is a no-op.
func (p *Poller) Watch(paymentID, gatewayRef string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.watches[paymentID]; ok {
		return
	}

	ctx, cancel := context.WithCancel(p.ctx)
	p.watches[paymentID] = cancel

	p.wg.Add(1)
	go p.run(ctx, paymentID, gatewayRef)
}

// Stop cancels the polling loop for the payment, if any. The payment's
// status is left untouched; terminating it is the caller's job.
func (p *Poller) Stop(paymentID string) {
	p.mu.Lock()
	cancel, ok := p.watches[paymentID]
	if ok {
		delete(p.watches, paymentID)
	}
	p.mu.Unlock()

	if ok {
		cancel()
	}
}

// Shutdown cancels all polling loops and waits for them to drain.
func (p *Poller) Shutdown() {
	p.cancel()
	p.wg.Wait()
}

func (p *Poller) run(ctx context.Context, paymentID, gatewayRef string) {
	defer p.wg.Done()
	defer p.forget(paymentID)

	deadline := time.Now().Add(p.window)
	delay := p.interval

	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		if time.Now().After(deadline) {
			// The gateway never resolved within the window; expire the
			// payment rather than leaving it PROCESSING forever.
			p.terminate(paymentID, domain.PaymentStatusExpired, "confirmation window elapsed")
			return
		}

		result, err := p.gw.PollStatus(ctx, gatewayRef)
		if err != nil {
			// Adapter unreachable; back off and keep trying until the
			// window runs out.
			if delay < p.window/4 {
				delay *= 2
			}
			log.Printf("poller: poll failed for payment %s: %v", paymentID, err)
			continue
		}
		delay = p.interval

		switch result.Status {
		case gateway.PollPending:
			continue
		case gateway.PollCompleted:
			// The observed outcome must reach durable state even if the
			// poller is shutting down, so callbacks get a fresh context.
			if err := p.cb.OnPaymentConfirmed(context.Background(), paymentID, result.TransactionRef); err != nil {
				log.Printf("poller: confirm callback failed for payment %s: %v", paymentID, err)
			}
			return
		case gateway.PollFailed:
			p.terminate(paymentID, domain.PaymentStatusFailed, result.Reason)
			return
		case gateway.PollExpired:
			p.terminate(paymentID, domain.PaymentStatusExpired, "gateway reported the charge expired")
			return
		}
	}
}

func (p *Poller) terminate(paymentID string, status domain.PaymentStatus, reason string) {
	if err := p.cb.OnPaymentTerminated(context.Background(), paymentID, status, reason); err != nil {
		log.Printf("poller: terminate callback failed for payment %s: %v", paymentID, err)
	}
}

func (p *Poller) forget(paymentID string) {
	p.mu.Lock()
	delete(p.watches, paymentID)
	p.mu.Unlock()
}
