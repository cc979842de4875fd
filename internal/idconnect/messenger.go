package idconnect

import (
	"context"
	"crypto/subtle"
	"sync"
	"time"

	"go.uber.org/atomic"
	"moff.io/idconnect/internal/metrics"
	"moff.io/idconnect/pkg/errors"
	"moff.io/idconnect/pkg/log"
)

const (
	defaultHandshakeTimeout = 5 * time.Minute
	defaultPollInterval     = 500 * time.Millisecond
)

// LaunchFunc opens the id provider for the given correlation token. It returns the popup
// handle to watch, or nil when there is nothing to watch.
type LaunchFunc func(ctx context.Context, state string) (Window, error)

// Messenger correlates one outbound handshake with its inbound response.
//
// At most one handshake is pending at a time; overlapping calls fail with
// ErrConcurrentRequest instead of queueing.
type Messenger struct {
	bus          MessageBus
	origin       string
	timeout      time.Duration
	pollInterval time.Duration
	newState     TokenGenerator

	busy    atomic.Bool
	pending atomic.String
}

// MessengerOption customizes a Messenger.
type MessengerOption func(*Messenger)

// WithTimeout bounds how long a handshake may stay pending.
func WithTimeout(d time.Duration) MessengerOption {
	return func(m *Messenger) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithPollInterval sets how often the popup is checked for being closed.
func WithPollInterval(d time.Duration) MessengerOption {
	return func(m *Messenger) {
		if d > 0 {
			m.pollInterval = d
		}
	}
}

// WithTokenGenerator replaces NewStateToken.
func WithTokenGenerator(gen TokenGenerator) MessengerOption {
	return func(m *Messenger) {
		if gen != nil {
			m.newState = gen
		}
	}
}

// NewMessenger accepts messages on bus from origin only.
func NewMessenger(bus MessageBus, origin string, opts ...MessengerOption) *Messenger {
	m := &Messenger{
		bus:          bus,
		origin:       NormalizeOrigin(origin),
		timeout:      defaultHandshakeTimeout,
		pollInterval: defaultPollInterval,
		newState:     NewStateToken,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Pending reports whether a handshake is outstanding.
func (m *Messenger) Pending() bool {
	return m.busy.Load()
}

// SendRequest generates a correlation token, starts listening, launches the id provider and
// waits for the response carrying method and the token. A type=failure response is returned
// together with ErrRejected.
func (m *Messenger) SendRequest(ctx context.Context, method string, launch LaunchFunc) (*Response, error) {
	if !m.busy.CAS(false, true) {
		metrics.ObserveHandshake(method, metrics.OutcomeConcurrent, 0)
		return nil, ErrConcurrentRequest
	}
	defer m.busy.Store(false)

	start := time.Now()
	resp, err := m.exchange(ctx, method, launch)
	metrics.ObserveHandshake(method, outcomeOf(err), time.Since(start))
	return resp, err
}

func (m *Messenger) exchange(ctx context.Context, method string, launch LaunchFunc) (*Response, error) {
	state, err := m.newState()
	if err != nil {
		return nil, err
	}
	m.pending.Store(state)
	defer m.pending.Store("")

	settled := make(chan *Response, 1)
	var once sync.Once
	remove := m.bus.Listen(func(msg Message) {
		resp, err := m.match(msg, state)
		if err != nil {
			m.drop(msg, err)
			return
		}
		once.Do(func() { settled <- resp })
	})
	defer remove()

	log.Debugf("idconnect - %s request pending, state:%s", method, state)
	win, err := launch(ctx, state)
	if err != nil {
		return nil, err
	}
	if r, ok := win.(Releaser); ok {
		defer r.Release()
	}

	timer := time.NewTimer(m.timeout)
	defer timer.Stop()
	var poll <-chan time.Time
	if win != nil {
		ticker := time.NewTicker(m.pollInterval)
		defer ticker.Stop()
		poll = ticker.C
	}

	for {
		select {
		case resp := <-settled:
			return settle(method, resp)
		case <-poll:
			if !win.Closed() {
				continue
			}
			// The response may have landed between two polls.
			select {
			case resp := <-settled:
				return settle(method, resp)
			default:
			}
			log.Debugf("idconnect - %s popup closed, state:%s", method, state)
			return nil, ErrUserCancelled
		case <-timer.C:
			log.Warnf("idconnect - %s request timed out after %v", method, m.timeout)
			return nil, ErrTimeout
		case <-ctx.Done():
			return nil, errors.WithStack(ctx.Err())
		}
	}
}

// match accepts msg only when it comes from the configured origin and carries the pending token.
func (m *Messenger) match(msg Message, state string) (*Response, error) {
	if NormalizeOrigin(msg.Origin) != m.origin {
		return nil, errors.Wrapf(ErrInvalidOrigin, "%q", msg.Origin)
	}
	pending := m.pending.Load()
	if pending == "" || pending != state {
		return nil, errors.Wrap(ErrInvalidState, "no pending request")
	}
	resp, err := ParseResponse(msg.Data)
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(resp.State), []byte(state)) != 1 {
		return nil, errors.Wrap(ErrInvalidState, "state mismatch")
	}
	return resp, nil
}

func (m *Messenger) drop(msg Message, err error) {
	reason := "payload"
	switch {
	case errors.Is(err, ErrInvalidOrigin):
		reason = "origin"
	case errors.Is(err, ErrInvalidState):
		reason = "state"
	}
	metrics.DropMessage(reason)
	log.Debugf("idconnect - dropped message from %s: %v", msg.Origin, err)
}

func settle(method string, resp *Response) (*Response, error) {
	if resp.Method != method {
		return nil, errors.Wrapf(ErrInvalidPayload, "expected method %q, got %q", method, resp.Method)
	}
	if resp.Status == StatusFailure {
		return resp, errors.Wrapf(ErrRejected, "%s: %s", method, resp.Data)
	}
	return resp, nil
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.Is(err, ErrRejected):
		return metrics.OutcomeRejected
	case errors.Is(err, ErrPopupBlocked):
		return metrics.OutcomeBlocked
	case errors.Is(err, ErrUserCancelled):
		return metrics.OutcomeCancelled
	case errors.Is(err, ErrTimeout):
		return metrics.OutcomeTimeout
	default:
		return metrics.OutcomeError
	}
}
