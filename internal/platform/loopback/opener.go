package loopback

import (
	"context"
	"net/url"

	"go.uber.org/atomic"
	"moff.io/idconnect/internal/idconnect"
	"moff.io/idconnect/pkg/errors"
	"moff.io/idconnect/pkg/log"
)

// window is a browser tab opened for one correlation token. It reports closed once the id
// provider page sends its unload beacon to /closed. It is tracked until its request settles.
type window struct {
	state  string
	closed atomic.Bool
	server *Server
}

func (w *window) Closed() bool {
	return w.closed.Load()
}

// Release implements idconnect.Releaser.
func (w *window) Release() {
	w.server.forget(w.state)
}

// Open implements idconnect.Opener. Browsers do not take window features from the command
// line, so features are only logged.
func (s *Server) Open(_ context.Context, rawURL string, features idconnect.WindowFeatures) (idconnect.Window, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse popup url")
	}
	w := &window{state: u.Query().Get("state"), server: s}
	s.mu.Lock()
	s.windows[w.state] = w
	s.mu.Unlock()

	log.Debugf("opening browser for %s://%s%s (%s)", u.Scheme, u.Host, u.Path, features)
	if err := s.openURL(rawURL); err != nil {
		s.forget(w.state)
		return nil, errors.Wrap(err, "open browser")
	}
	return w, nil
}

func (s *Server) forget(state string) {
	s.mu.Lock()
	delete(s.windows, state)
	s.mu.Unlock()
}

func (s *Server) tracked() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.windows)
}
