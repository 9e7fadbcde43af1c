package goBioKey

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/MrEthical07/goBioKey/challenge"
	"github.com/MrEthical07/goBioKey/session"
)

// Pending is a running request started with Controller.Start. Its Response is
// delivered exactly once.
type Pending struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	resp   Response

	superseded atomic.Bool

	mu          sync.Mutex
	sess        *session.Session
	kind        challenge.Kind
	canFallback bool
	fallback    bool
	fellBack    bool
}

func newPending(parent context.Context, canFallback bool) *Pending {
	ctx, cancel := context.WithCancel(parent)
	return &Pending{
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
		canFallback: canFallback,
	}
}

// Cancel stops the request. A running challenge resolves as cancelled. Cancel
// never blocks. Once the challenge has terminated it no longer changes the
// response.
func (p *Pending) Cancel() {
	p.cancel()
}

// Fallback dismisses the biometric challenge and asks for the device
// credential instead. Whether a credential confirmation can release a key is
// up to the keystore; when it cannot, the request resolves as cancelled.
func (p *Pending) Fallback() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	select {
	case <-p.done:
		return ErrFallbackUnavailable
	default:
	}
	if !p.canFallback || p.fallback || p.sess == nil || p.kind != challenge.KindBiometric {
		return ErrFallbackUnavailable
	}
	if p.sess.State() == session.StateTerminated {
		return ErrFallbackUnavailable
	}
	p.fallback = true
	p.sess.Cancel()
	return nil
}

// Done is closed when the response is available.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the response is available or ctx ends. Ending ctx does
// not cancel the request.
func (p *Pending) Wait(ctx context.Context) (Response, error) {
	select {
	case <-p.done:
		return p.resp, nil
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

// Response returns the delivered response, or the zero Response before Done
// is closed.
func (p *Pending) Response() Response {
	select {
	case <-p.done:
		return p.resp
	default:
		return Response{}
	}
}

// State returns the state of the current challenge, or StateIdle when no
// challenge is running.
func (p *Pending) State() session.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sess == nil {
		return session.StateIdle
	}
	return p.sess.State()
}

// attach makes sess the current challenge. It fails once the request was
// cancelled.
func (p *Pending) attach(sess *session.Session, kind challenge.Kind) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ctx.Err() != nil {
		return false
	}
	p.sess = sess
	p.kind = kind
	return true
}

// takeFallback reports, once, that a fallback was requested.
func (p *Pending) takeFallback() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fallback && !p.fellBack {
		p.fellBack = true
		return true
	}
	return false
}

func (p *Pending) supersede() {
	p.superseded.Store(true)
	p.cancel()
}

func (p *Pending) resolve(resp Response) {
	p.resp = resp
	close(p.done)
	p.cancel()
}
