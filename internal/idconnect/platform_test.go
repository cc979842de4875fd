package idconnect

import (
	"context"
	"net/url"
	"sync"
	"testing"

	"go.uber.org/atomic"
	"moff.io/idconnect/pkg/errors"
)

const (
	testIDOrigin     = "https://id.example.com"
	testCallerOrigin = "http://127.0.0.1:8089"
	testClientID     = "demo"
)

type fakeBus struct {
	mu        sync.Mutex
	next      int
	listeners map[int]func(Message)
	listens   int
}

func newFakeBus() *fakeBus {
	return &fakeBus{listeners: make(map[int]func(Message))}
}

func (b *fakeBus) Listen(listener func(Message)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	b.listens++
	b.listeners[id] = listener
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.listeners, id)
	}
}

func (b *fakeBus) deliver(msg Message) {
	b.mu.Lock()
	ls := make([]func(Message), 0, len(b.listeners))
	for _, l := range b.listeners {
		ls = append(ls, l)
	}
	b.mu.Unlock()
	for _, l := range ls {
		l(msg)
	}
}

func (b *fakeBus) active() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners)
}

type fakeWindow struct {
	closed   atomic.Bool
	released atomic.Int32
}

func (w *fakeWindow) Closed() bool {
	return w.closed.Load()
}

func (w *fakeWindow) Release() {
	w.released.Inc()
}

// fakeOpener records opened urls and lets a test answer through the bus.
type fakeOpener struct {
	mu       sync.Mutex
	urls     []*url.URL
	features []WindowFeatures
	err      error
	nilWin   bool
	window   *fakeWindow
	bus      *fakeBus
	respond  func(u *url.URL) *Response
}

func (o *fakeOpener) Open(_ context.Context, rawURL string, features WindowFeatures) (Window, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	o.mu.Lock()
	o.urls = append(o.urls, u)
	o.features = append(o.features, features)
	o.mu.Unlock()
	if o.err != nil {
		return nil, o.err
	}
	if o.nilWin {
		return nil, nil
	}
	if o.respond != nil && o.bus != nil {
		if resp := o.respond(u); resp != nil {
			o.bus.deliver(Message{Origin: testIDOrigin, Data: resp.Marshal()})
		}
	}
	if o.window == nil {
		o.window = &fakeWindow{}
	}
	return o.window, nil
}

func (o *fakeOpener) opened() []*url.URL {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*url.URL(nil), o.urls...)
}

func (o *fakeOpener) ScreenSize() (int, int) {
	return 1920, 1080
}

type memStorage struct {
	mu      sync.Mutex
	data    map[string]string
	err       error
	deleteErr error
	writes    int
	deletes   int
}

func newMemStorage() *memStorage {
	return &memStorage{data: make(map[string]string)}
}

func (s *memStorage) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", false, s.err
	}
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *memStorage) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.writes++
	s.data[key] = value
	return nil
}

func (s *memStorage) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if s.deleteErr != nil {
		return s.deleteErr
	}
	s.deletes++
	delete(s.data, key)
	return nil
}

func (s *memStorage) value(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok
}

type fakeLocation struct {
	query    url.Values
	replaced []string
	err      error
}

func (l *fakeLocation) Origin() string    { return testCallerOrigin }
func (l *fakeLocation) Query() url.Values { return l.query }
func (l *fakeLocation) Replace(rawURL string) error {
	if l.err != nil {
		return l.err
	}
	l.replaced = append(l.replaced, rawURL)
	return nil
}

// authAnswer answers authorization requests with address and confirmation requests with data.
func authAnswer(address string) func(u *url.URL) *Response {
	return func(u *url.URL) *Response {
		return &Response{
			Method:  MethodAuth,
			Status:  StatusSuccess,
			State:   u.Query().Get("state"),
			Data:    "credential",
			Address: address,
		}
	}
}

type recordedEvents struct {
	mu     sync.Mutex
	events []Event
}

func record(t *testing.T, e *Emitter) *recordedEvents {
	r := &recordedEvents{}
	t.Cleanup(e.Subscribe(func(ev Event) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, ev)
	}))
	return r
}

func (r *recordedEvents) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

var errStorageDown = errors.New("storage down")
