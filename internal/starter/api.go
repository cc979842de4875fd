package starter

import (
	"context"
)

type Startable interface {
	Start(ctx context.Context) error
}

type Stopable interface {
	Stop()
}

// Start starts elems in order. When one fails, those already started are stopped again. The
// returned func stops every started element in reverse order.
func Start(ctx context.Context, elems ...Startable) (stop func(), err error) {
	started := make([]Startable, 0, len(elems))
	stop = func() {
		for i := len(started) - 1; i >= 0; i-- {
			if s, ok := started[i].(Stopable); ok {
				s.Stop()
			}
		}
	}
	for _, ele := range elems {
		if err := ele.Start(ctx); err != nil {
			stop()
			return func() {}, err
		}
		started = append(started, ele)
	}
	return stop, nil
}
