// Package host runs battle routing on a single goroutine. Network
// readers, the CLI and the API post work to the loop instead of calling
// the router directly.
package host

import (
	"bytes"
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrStopped is returned for work posted after the loop stopped.
var ErrStopped = errors.New("host loop stopped")

// ReceiveFunc consumes one inbound packet from peer origin.
type ReceiveFunc func(data []byte, origin uint8) error

// Loop owns the goroutine that all routing runs on.
type Loop struct {
	inbox   chan func()
	receive ReceiveFunc
	later   []func()
	done    chan struct{}
	stop    sync.Once
	logger  zerolog.Logger
}

// NewLoop creates a loop with an inbox of the given size.
func NewLoop(size int) *Loop {
	if size <= 0 {
		size = 256
	}
	return &Loop{
		inbox:  make(chan func(), size),
		done:   make(chan struct{}),
		logger: log.With().Str("component", "host").Logger(),
	}
}

// SetReceiver binds Deliver to the router's receive function. It must be
// called before Run.
func (l *Loop) SetReceiver(fn ReceiveFunc) {
	l.receive = fn
}

// Run executes posted work in order until ctx is done or Stop is called.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Debug().Int("inbox", cap(l.inbox)).Msg("host loop started")
	defer l.logger.Debug().Msg("host loop stopped")

	for {
		select {
		case <-ctx.Done():
			l.Stop()
			return nil
		case <-l.done:
			return nil
		case fn := <-l.inbox:
			l.run(fn)
			l.drainLater()
		}
	}
}

func (l *Loop) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error().Interface("panic", r).Msg("host loop task panicked")
		}
	}()
	fn()
}

// drainLater runs work scheduled by the previous task, including work
// those tasks schedule in turn.
func (l *Loop) drainLater() {
	for len(l.later) > 0 {
		fn := l.later[0]
		l.later[0] = nil
		l.later = l.later[1:]
		l.run(fn)
	}
}

// Stop ends Run. Work still queued is discarded.
func (l *Loop) Stop() {
	l.stop.Do(func() { close(l.done) })
}

// Done is closed once the loop is stopped.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Do posts fn to the loop. It blocks while the inbox is full and reports
// false if the loop stopped first.
func (l *Loop) Do(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.inbox <- fn:
		return true
	case <-l.done:
		return false
	}
}

// Schedule queues fn to run once the current task returns. It must only
// be called from the loop goroutine, by providers that defer their
// answers instead of re-entering the router.
func (l *Loop) Schedule(fn func()) {
	l.later = append(l.later, fn)
}

// Call runs fn on the loop and waits for it, and any work it scheduled,
// to finish.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.Do(func() {
		defer close(finished)
		fn()
		l.drainLater()
	}) {
		return ErrStopped
	}
	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Deliver posts one inbound packet. The data is copied, so callers may
// reuse their buffer.
func (l *Loop) Deliver(data []byte, origin uint8) {
	if l.receive == nil {
		l.logger.Warn().Uint8("origin", origin).Msg("no receiver bound, dropping packet")
		return
	}
	packet := bytes.Clone(data)
	l.Do(func() {
		// Receive logs its own failures.
		_ = l.receive(packet, origin)
	})
}
