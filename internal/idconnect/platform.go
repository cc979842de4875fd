package idconnect

import (
	"context"
	"net/url"
	"strings"
)

// Window is a handle on an opened popup.
type Window interface {
	Closed() bool
}

// Releaser is implemented by windows that hold resources until their request settles.
type Releaser interface {
	Release()
}

// Opener opens popups. A nil Window with a nil error counts as blocked.
type Opener interface {
	Open(ctx context.Context, rawURL string, features WindowFeatures) (Window, error)
}

// ScreenSizer is implemented by openers that know the screen size, used to center popups.
type ScreenSizer interface {
	ScreenSize() (width, height int)
}

// Message is one inbound cross-window message.
type Message struct {
	Origin string
	Data   []byte
}

// MessageBus delivers inbound messages to listeners until the returned func is called.
type MessageBus interface {
	Listen(listener func(Message)) (remove func())
}

// Storage is origin-scoped persistent key/value storage.
type Storage interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Location is the current page location.
type Location interface {
	Origin() string
	Query() url.Values
	Replace(rawURL string) error
}

// Platform bundles the host capabilities the provider runs on.
type Platform struct {
	Opener   Opener
	Bus      MessageBus
	Storage  Storage
	Location Location
}

// NormalizeOrigin lower-cases scheme and host and drops any path, query or trailing slash.
func NormalizeOrigin(origin string) string {
	u, err := url.Parse(strings.TrimSpace(origin))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return strings.TrimRight(strings.ToLower(strings.TrimSpace(origin)), "/")
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host)
}
