package loopback

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"moff.io/idconnect/internal/idconnect"
	"moff.io/idconnect/pkg/errors"
)

const idOrigin = "https://id.example.com"

type recorder struct {
	opened   []string
	messages chan idconnect.Message
}

func newTestServer(t *testing.T) (*Server, *recorder) {
	rec := &recorder{messages: make(chan idconnect.Message, 4)}
	s := NewServer("127.0.0.1:0", idOrigin, WithBrowser(func(rawURL string) error {
		rec.opened = append(rec.opened, rawURL)
		return nil
	}))
	t.Cleanup(s.Listen(func(msg idconnect.Message) { rec.messages <- msg }))
	return s, rec
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestPostMessage(t *testing.T) {
	s, rec := newTestServer(t)
	body := `{"method":"auth","type":"success","state":"s","address":"0xabc"}`
	req := httptest.NewRequest(http.MethodPost, "/message", strings.NewReader(body))
	req.Header.Set("Origin", idOrigin)

	w := serve(s, req)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, idOrigin, w.Header().Get("Access-Control-Allow-Origin"))

	msg := <-rec.messages
	assert.Equal(t, idOrigin, msg.Origin)
	assert.JSONEq(t, body, string(msg.Data))
}

func TestPostMessageForeignOrigin(t *testing.T) {
	s, rec := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/message", strings.NewReader(`{}`))
	req.Header.Set("Origin", "https://evil.example.com")

	w := serve(s, req)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	// Origin checks belong to the messenger; the platform only reports who sent it.
	assert.Equal(t, "https://evil.example.com", (<-rec.messages).Origin)
}

func TestPostMessageRejectsGarbage(t *testing.T) {
	s, rec := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/message", strings.NewReader(`not json`))
	w := serve(s, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Len(t, rec.messages, 0)
}

func TestCallback(t *testing.T) {
	s, rec := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/callback?method=auth&type=success&state=s&data=tok&address=0xabc", nil)
	req.Header.Set("Referer", idOrigin+"/client/demo/authorize?x=1")

	w := serve(s, req)
	assert.Equal(t, http.StatusOK, w.Code)
	msg := <-rec.messages
	assert.Equal(t, idOrigin, msg.Origin)
	resp, err := idconnect.ParseResponse(msg.Data)
	require.NoError(t, err)
	assert.Equal(t, &idconnect.Response{Method: "auth", Status: idconnect.StatusSuccess, State: "s", Data: "tok", Address: "0xabc"}, resp)
}

func TestOpenAndClosed(t *testing.T) {
	s, rec := newTestServer(t)
	win, err := s.Open(context.Background(), idOrigin+"/client/demo/authorize?state=st-1", idconnect.WindowFeatures{Width: 480})
	require.NoError(t, err)
	assert.Equal(t, []string{idOrigin + "/client/demo/authorize?state=st-1"}, rec.opened)
	assert.False(t, win.Closed())

	w := serve(s, httptest.NewRequest(http.MethodGet, "/closed?state=other", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.False(t, win.Closed())

	w = serve(s, httptest.NewRequest(http.MethodGet, "/closed?state=st-1", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, win.Closed())
}

func TestReleaseForgetsWindow(t *testing.T) {
	s, _ := newTestServer(t)
	win, err := s.Open(context.Background(), idOrigin+"/client/demo/authorize?state=st-2", idconnect.WindowFeatures{})
	require.NoError(t, err)
	assert.Equal(t, 1, s.tracked())

	win.(idconnect.Releaser).Release()
	assert.Equal(t, 0, s.tracked())
	w := serve(s, httptest.NewRequest(http.MethodGet, "/closed?state=st-2", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMessengerOverLoopbackReleasesWindow(t *testing.T) {
	s, _ := newTestServer(t)
	m := idconnect.NewMessenger(s, idOrigin, idconnect.WithTimeout(time.Second))

	_, err := m.SendRequest(context.Background(), idconnect.MethodAuth, func(ctx context.Context, state string) (idconnect.Window, error) {
		win, err := s.Open(ctx, idOrigin+"/client/demo/authorize?state="+state, idconnect.WindowFeatures{})
		if err != nil {
			return nil, err
		}
		body := (&idconnect.Response{Method: "auth", Status: idconnect.StatusSuccess, State: state, Address: "0xabc"}).Marshal()
		req := httptest.NewRequest(http.MethodPost, "/message", strings.NewReader(string(body)))
		req.Header.Set("Origin", idOrigin)
		serve(s, req)
		return win, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 0, s.tracked())
}

func TestOpenBrowserFailure(t *testing.T) {
	s := NewServer("127.0.0.1:0", idOrigin, WithBrowser(func(string) error { return errors.New("no display") }))
	_, err := s.Open(context.Background(), idOrigin+"/x?state=s", idconnect.WindowFeatures{})
	assert.Error(t, err)
}

func TestLandedRedirect(t *testing.T) {
	s, _ := newTestServer(t)
	serve(s, httptest.NewRequest(http.MethodGet, "/?method=auth&type=success&state=s", nil))
	select {
	case <-s.Landed():
	case <-time.After(time.Second):
		t.Fatal("redirect did not land")
	}
	assert.Equal(t, "auth", s.Query().Get("method"))
	assert.Equal(t, "http://127.0.0.1:0", s.Origin())
}

func TestMetrics(t *testing.T) {
	s, _ := newTestServer(t)
	w := serve(s, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStartStop(t *testing.T) {
	s, _ := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx))
	assert.Error(t, s.Start(ctx))
	s.Stop()
}

// The messenger settles on a response posted through the server.
func TestMessengerOverLoopback(t *testing.T) {
	s, _ := newTestServer(t)
	m := idconnect.NewMessenger(s, idOrigin, idconnect.WithTimeout(time.Second))

	resp, err := m.SendRequest(context.Background(), idconnect.MethodAuth, func(_ context.Context, state string) (idconnect.Window, error) {
		go func() {
			body := (&idconnect.Response{Method: "auth", Status: idconnect.StatusSuccess, State: state, Address: "0xabc"}).Marshal()
			req := httptest.NewRequest(http.MethodPost, "/message", strings.NewReader(string(body)))
			req.Header.Set("Origin", idOrigin)
			serve(s, req)
		}()
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "0xabc", resp.Address)
}
