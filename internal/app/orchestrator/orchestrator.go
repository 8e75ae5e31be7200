// Package orchestrator sends backend requests on behalf of the sync core.
//
// It counts in-flight requests for the drained signal, parks requests that
// fail authentication until a single re-login completes, and replays them
// once in arrival order.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/Overland-East-Bay/club-sync/internal/platform/logging"
	"github.com/Overland-East-Bay/club-sync/internal/ports/out/clubapi"
)

const DefaultDrainDebounce = time.Second

// LoginFunc re-authenticates the transport session.
type LoginFunc func(ctx context.Context) error

type Option func(*Orchestrator)

func WithDrainDebounce(d time.Duration) Option {
	return func(o *Orchestrator) { o.debounce = d }
}

// WithHostUnreachable registers the banner hook for unreachable hosts.
func WithHostUnreachable(fn func(err error)) Option {
	return func(o *Orchestrator) { o.onUnreachable = fn }
}

type result struct {
	resp clubapi.Response
	err  error
}

type parked struct {
	ctx  context.Context
	req  clubapi.Request
	done chan result
}

type Orchestrator struct {
	transport     clubapi.Transport
	login         LoginFunc
	debounce      time.Duration
	onUnreachable func(err error)

	mu         sync.Mutex
	inFlight   int
	generation uint64
	timer      *time.Timer
	drained    []func()
	loginQueue []*parked
	loggingIn  bool
}

func New(transport clubapi.Transport, login LoginFunc, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		transport: transport,
		login:     login,
		debounce:  DefaultDrainDebounce,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Send performs req. An authentication failure parks the request behind a
// single re-login and replays it once; a second authentication failure ends
// in ErrMaxLoginRetries.
func (o *Orchestrator) Send(ctx context.Context, req clubapi.Request) (clubapi.Response, error) {
	o.begin()
	defer o.end()

	resp, err := o.transport.Do(ctx, req)
	if err == nil {
		return resp, nil
	}
	if !clubapi.IsAuthFailure(err) {
		o.report(ctx, req, err)
		return clubapi.Response{}, err
	}

	p := &parked{ctx: ctx, req: req, done: make(chan result, 1)}
	o.park(ctx, p)

	select {
	case r := <-p.done:
		if r.err != nil {
			o.report(ctx, req, r.err)
		}
		return r.resp, r.err
	case <-ctx.Done():
		return clubapi.Response{}, &clubapi.TransportError{Kind: clubapi.ErrRequestCancelled, Err: ctx.Err()}
	}
}

// park queues p and starts a login unless one is already running.
func (o *Orchestrator) park(ctx context.Context, p *parked) {
	o.mu.Lock()
	o.loginQueue = append(o.loginQueue, p)
	start := !o.loggingIn
	o.loggingIn = true
	o.mu.Unlock()

	if start {
		logging.From(ctx).Info("authentication expired, logging in again", slog.String("path", p.req.Path))
		go o.relogin(context.WithoutCancel(ctx))
	}
}

func (o *Orchestrator) relogin(ctx context.Context) {
	var err error
	if o.login == nil {
		err = goerr.Wrap(clubapi.ErrNotLoggedIn, "no login configured")
	} else {
		err = o.login(ctx)
	}

	o.mu.Lock()
	queue := o.loginQueue
	o.loginQueue = nil
	o.loggingIn = false
	o.mu.Unlock()

	if err != nil {
		logging.From(ctx).Warn("re-login failed", slog.Int("queued", len(queue)), logging.ErrAttr(err))
		for _, p := range queue {
			p.done <- result{err: err}
		}
		return
	}

	for _, p := range queue {
		p.done <- o.replay(p)
	}
}

func (o *Orchestrator) replay(p *parked) result {
	if err := p.ctx.Err(); err != nil {
		return result{err: &clubapi.TransportError{Kind: clubapi.ErrRequestCancelled, Err: err}}
	}
	resp, err := o.transport.Do(p.ctx, p.req)
	if clubapi.IsAuthFailure(err) {
		return result{err: goerr.Wrap(clubapi.ErrMaxLoginRetries, "request rejected after re-login",
			goerr.V("path", p.req.Path), goerr.V("cause", err.Error()))}
	}
	return result{resp: resp, err: err}
}

func (o *Orchestrator) report(ctx context.Context, req clubapi.Request, err error) {
	log := logging.From(ctx).With(slog.String("method", req.Method), slog.String("path", req.Path))
	switch {
	case clubapi.IsCancelled(err):
		log.Debug("request cancelled")
	case errors.Is(err, clubapi.ErrHostUnreachable):
		log.Warn("host unreachable", logging.ErrAttr(err))
		if o.onUnreachable != nil {
			o.onUnreachable(err)
		}
	default:
		log.Warn("request failed", logging.ErrAttr(err))
	}
}

// InFlight returns the number of Send calls that have not returned.
func (o *Orchestrator) InFlight() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.inFlight
}

// OnDrained registers fn to run once, after no request has been in flight
// for the debounce interval. When nothing is in flight the interval starts now.
func (o *Orchestrator) OnDrained(fn func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.drained = append(o.drained, fn)
	if o.inFlight == 0 && o.timer == nil {
		o.armLocked()
	}
}

// WaitDrained blocks until the next drained signal or until ctx ends.
func (o *Orchestrator) WaitDrained(ctx context.Context) error {
	done := make(chan struct{})
	o.OnDrained(func() { close(done) })
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) begin() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.inFlight++
	o.generation++
	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}
}

func (o *Orchestrator) end() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.inFlight--
	if o.inFlight == 0 && len(o.drained) > 0 {
		o.armLocked()
	}
}

func (o *Orchestrator) armLocked() {
	gen := o.generation
	o.timer = time.AfterFunc(o.debounce, func() { o.fire(gen) })
}

func (o *Orchestrator) fire(gen uint64) {
	o.mu.Lock()
	if gen != o.generation || o.inFlight != 0 {
		o.mu.Unlock()
		return
	}
	fns := o.drained
	o.drained = nil
	o.timer = nil
	o.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}
