package llm

import (
	"context"
	"errors"
	"time"
)

var errStalled = errors.New("no data received within the timeout")

// idleGuard bounds the wait for each delta of one request attempt. When a
// read stalls longer than idle the attempt's context is cancelled, which
// aborts the body read, and the read fails with KindTimeout.
type idleGuard struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
	idle   time.Duration
}

func newIdleGuard(ctx context.Context, idle time.Duration) *idleGuard {
	ctx, cancel := context.WithCancelCause(ctx)
	return &idleGuard{ctx: ctx, cancel: cancel, idle: idle}
}

func (g *idleGuard) read(next func() (string, error)) (string, error) {
	if g.idle > 0 {
		t := time.AfterFunc(g.idle, func() { g.cancel(errStalled) })
		defer t.Stop()
	}
	delta, err := next()
	if err != nil && errors.Is(context.Cause(g.ctx), errStalled) {
		return "", &ClientError{Kind: KindTimeout, Message: "stream stalled", Cause: errStalled}
	}
	return delta, err
}

func (g *idleGuard) stop() {
	g.cancel(nil)
}
