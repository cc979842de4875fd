// Package loopback runs the idconnect platform on a local HTTP listener. The id provider page
// posts its messages to the listener and the system browser stands in for popups.
package loopback

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/browser"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/atomic"
	"moff.io/idconnect/internal/idconnect"
	"moff.io/idconnect/internal/metrics"
	"moff.io/idconnect/pkg/errors"
	"moff.io/idconnect/pkg/log"
	"moff.io/idconnect/pkg/log/middleware"
)

const maxMessageBytes = 64 << 10

// Server is the loopback platform. It implements idconnect.MessageBus, idconnect.Opener and
// idconnect.Location.
type Server struct {
	listen      string
	allowOrigin string
	openURL     func(rawURL string) error

	engine *gin.Engine
	srv    *http.Server

	mu        sync.RWMutex
	nextID    int
	listeners map[int]func(idconnect.Message)
	windows   map[string]*window
	query     url.Values
	landed    chan struct{}
	started   atomic.Bool
}

// Option customizes a Server.
type Option func(*Server)

// WithBrowser replaces the system browser launcher.
func WithBrowser(open func(rawURL string) error) Option {
	return func(s *Server) {
		s.openURL = open
	}
}

// NewServer serves on listen and accepts cross-origin posts from allowOrigin, normally the id
// provider origin.
func NewServer(listen, allowOrigin string, opts ...Option) *Server {
	s := &Server{
		listen:      listen,
		allowOrigin: idconnect.NormalizeOrigin(allowOrigin),
		openURL:     browser.OpenURL,
		listeners:   make(map[int]func(idconnect.Message)),
		windows:     make(map[string]*window),
		query:       url.Values{},
		landed:      make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.engine = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	if !log.IsDebug() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RecoveredHTTPLog(), middleware.TimeoutHTTP(10*time.Second), s.cors)
	router.GET("/", s.land)
	router.POST("/message", s.message)
	router.OPTIONS("/message", s.preflight)
	router.GET("/callback", s.callback)
	router.GET("/closed", s.closed)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})))
	return router
}

// Handler exposes the routes, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start listens in the background until ctx is done or Stop is called.
func (s *Server) Start(ctx context.Context) error {
	if !s.started.CAS(false, true) {
		return errors.New("loopback server already started")
	}
	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		s.started.Store(false)
		return errors.Wrapf(err, "listen on %s", s.listen)
	}
	s.srv = &http.Server{Handler: s.engine, ReadHeaderTimeout: 10 * time.Second}
	log.Infof("loopback platform listening on %s", ln.Addr())
	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Error(errors.WrapAndReport(err, "loopback server"))
		}
	}()
	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop shuts the listener down.
func (s *Server) Stop() {
	if !s.started.CAS(true, false) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		log.Warnf("shutdown loopback server: %v", err)
	}
}

// Listen implements idconnect.MessageBus.
func (s *Server) Listen(listener func(idconnect.Message)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = listener
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

func (s *Server) deliver(msg idconnect.Message) {
	s.mu.RLock()
	listeners := make([]func(idconnect.Message), 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.RUnlock()
	for _, l := range listeners {
		l(msg)
	}
}

// Origin implements idconnect.Location: the address the id provider answers to.
func (s *Server) Origin() string {
	return "http://" + s.listen
}

// Query implements idconnect.Location: the query of the last redirect that landed on "/".
func (s *Server) Query() url.Values {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q := url.Values{}
	for k, v := range s.query {
		q[k] = append([]string(nil), v...)
	}
	return q
}

// Replace implements idconnect.Location by sending the browser to rawURL.
func (s *Server) Replace(rawURL string) error {
	return errors.Wrap(s.openURL(rawURL), "open browser")
}

// Landed signals each time a redirect lands on "/".
func (s *Server) Landed() <-chan struct{} {
	return s.landed
}

func (s *Server) cors(ctx *gin.Context) {
	origin := ctx.GetHeader("Origin")
	if origin != "" && idconnect.NormalizeOrigin(origin) == s.allowOrigin {
		ctx.Header("Access-Control-Allow-Origin", origin)
		ctx.Header("Access-Control-Allow-Methods", "POST, OPTIONS")
		ctx.Header("Access-Control-Allow-Headers", "Content-Type")
		ctx.Header("Vary", "Origin")
	}
	ctx.Next()
}

func (s *Server) preflight(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"code": 0})
}

// message relays a posted payload; the sender origin is the browser-set Origin header.
func (s *Server) message(ctx *gin.Context) {
	data, err := ioutil.ReadAll(http.MaxBytesReader(ctx.Writer, ctx.Request.Body, maxMessageBytes))
	if err != nil {
		ctx.JSON(http.StatusRequestEntityTooLarge, gin.H{"code": 4130, "msg": "payload too large"})
		return
	}
	if !json.Valid(data) {
		ctx.JSON(http.StatusBadRequest, gin.H{"code": 4000, "msg": "payload must be json"})
		return
	}
	s.deliver(idconnect.Message{Origin: ctx.GetHeader("Origin"), Data: data})
	ctx.JSON(http.StatusAccepted, gin.H{"code": 0})
}

// callback relays a response carried in the query string; the sender origin is the Referer.
func (s *Server) callback(ctx *gin.Context) {
	resp := queryResponse(ctx.Request.URL.Query())
	s.deliver(idconnect.Message{Origin: refererOrigin(ctx.GetHeader("Referer")), Data: resp.Marshal()})
	ctx.JSON(http.StatusOK, gin.H{"code": 0, "msg": "You can close this window."})
}

// closed is the id provider page's unload beacon.
func (s *Server) closed(ctx *gin.Context) {
	state := ctx.Query("state")
	s.mu.RLock()
	w, ok := s.windows[state]
	s.mu.RUnlock()
	if !ok {
		ctx.JSON(http.StatusNotFound, gin.H{"code": 4040, "msg": "unknown window"})
		return
	}
	w.closed.Store(true)
	ctx.JSON(http.StatusOK, gin.H{"code": 0})
}

func (s *Server) land(ctx *gin.Context) {
	s.mu.Lock()
	s.query = ctx.Request.URL.Query()
	s.mu.Unlock()
	select {
	case s.landed <- struct{}{}:
	default:
	}
	ctx.JSON(http.StatusOK, gin.H{"code": 0, "msg": "You can close this window."})
}

func queryResponse(q url.Values) *idconnect.Response {
	return &idconnect.Response{
		Method:  q.Get("method"),
		Status:  idconnect.Status(q.Get("type")),
		State:   q.Get("state"),
		Data:    q.Get("data"),
		Address: q.Get("address"),
	}
}

func refererOrigin(referer string) string {
	if referer == "" {
		return ""
	}
	return idconnect.NormalizeOrigin(referer)
}
