package idconnect

import (
	"context"
	"fmt"
	"net/url"

	"moff.io/idconnect/pkg/errors"
	"moff.io/idconnect/pkg/log"
)

// WindowFeatures positions a popup.
type WindowFeatures struct {
	Width  int
	Height int
	Left   int
	Top    int
}

// String renders the features in window.open form.
func (f WindowFeatures) String() string {
	return fmt.Sprintf("width=%d,height=%d,left=%d,top=%d", f.Width, f.Height, f.Left, f.Top)
}

const (
	defaultPopupWidth  = 480
	defaultPopupHeight = 720
)

// Launcher sends the user to the id provider, in a popup or by replacing the location.
type Launcher struct {
	opener   Opener
	location Location
	width    int
	height   int
}

// NewLauncher returns a launcher opening width x height popups; zero sizes use defaults.
func NewLauncher(opener Opener, location Location, width, height int) *Launcher {
	if width <= 0 {
		width = defaultPopupWidth
	}
	if height <= 0 {
		height = defaultPopupHeight
	}
	return &Launcher{opener: opener, location: location, width: width, height: height}
}

// BuildURL appends params to the query of baseURL, keeping what baseURL already carries.
func BuildURL(baseURL string, params url.Values) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", errors.Wrapf(err, "parse url %q", baseURL)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", errors.Errorf("url %q is not absolute", baseURL)
	}
	q := u.Query()
	for k, vs := range params {
		q.Del(k)
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Features centers the popup when the opener knows the screen size.
func (l *Launcher) Features() WindowFeatures {
	f := WindowFeatures{Width: l.width, Height: l.height}
	if sizer, ok := l.opener.(ScreenSizer); ok {
		sw, sh := sizer.ScreenSize()
		if sw > f.Width {
			f.Left = (sw - f.Width) / 2
		}
		if sh > f.Height {
			f.Top = (sh - f.Height) / 2
		}
	}
	return f
}

// OpenPopup opens the id provider in a new window. A failed or nil window is ErrPopupBlocked.
func (l *Launcher) OpenPopup(ctx context.Context, baseURL string, params url.Values) (Window, error) {
	target, err := BuildURL(baseURL, params)
	if err != nil {
		return nil, err
	}
	if l.opener == nil {
		return nil, errors.Wrap(ErrPopupBlocked, "no opener")
	}
	log.Debugf("idconnect - opening popup %s", target)
	win, err := l.opener.Open(ctx, target, l.Features())
	if err != nil {
		log.Warnf("idconnect - open popup: %v", err)
		return nil, errors.Wrapf(ErrPopupBlocked, "%v", err)
	}
	if win == nil {
		return nil, ErrPopupBlocked
	}
	return win, nil
}

// ReplaceURL navigates the current location to the id provider. On success control has left
// the page and the caller must not expect a response in this process.
func (l *Launcher) ReplaceURL(baseURL string, params url.Values) error {
	target, err := BuildURL(baseURL, params)
	if err != nil {
		return err
	}
	if l.location == nil {
		return errors.New("idconnect: no location to redirect")
	}
	log.Debugf("idconnect - redirecting to %s", target)
	return errors.Wrap(l.location.Replace(target), "replace location")
}
