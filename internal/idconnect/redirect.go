package idconnect

import (
	"context"
	"crypto/subtle"

	"github.com/ethereum/go-ethereum/common"
	"moff.io/idconnect/pkg/errors"
	"moff.io/idconnect/pkg/log"
)

func (p *Provider) stateKey() string {
	return p.session.Key() + ":state"
}

// redirect stores a fresh correlation token and replaces the location with the authorize url.
func (p *Provider) redirect(ctx context.Context) error {
	storage := p.platform.Storage
	if storage == nil {
		return errors.New("idconnect: redirect mode needs storage")
	}
	gen := p.opts.TokenGenerator
	if gen == nil {
		gen = NewStateToken
	}
	state, err := gen()
	if err != nil {
		return err
	}
	if err := storage.Set(ctx, p.stateKey(), state); err != nil {
		return errors.Wrap(err, "persist redirect state")
	}
	if err := p.launcher.ReplaceURL(p.authorizeURL(), p.authorizeParams(state)); err != nil {
		if derr := storage.Delete(ctx, p.stateKey()); derr != nil {
			log.Warnf("idconnect - drop redirect state: %v", derr)
		}
		return err
	}
	return ErrRedirected
}

// ResumeRedirect completes a redirect-mode authorization from the query string of the current
// location: ?method=auth&type=success&state=&data=&address=. The stored correlation token is
// consumed whatever the outcome. Without such a query it returns ErrNoRedirectResponse.
func (p *Provider) ResumeRedirect(ctx context.Context) (common.Address, error) {
	if p.platform.Location == nil {
		return common.Address{}, ErrNoRedirectResponse
	}
	q := p.platform.Location.Query()
	if q.Get("method") == "" && q.Get("type") == "" && q.Get("state") == "" {
		return common.Address{}, ErrNoRedirectResponse
	}
	var expected string
	if storage := p.platform.Storage; storage != nil {
		stored, ok, err := storage.Get(ctx, p.stateKey())
		if err != nil {
			log.Warnf("idconnect - read redirect state: %v", err)
		} else if ok {
			expected = stored
		}
		if err := storage.Delete(ctx, p.stateKey()); err != nil {
			log.Warnf("idconnect - drop redirect state: %v", err)
		}
	}

	if method := q.Get("method"); method != MethodAuth {
		return common.Address{}, errors.Wrapf(ErrInvalidPayload, "unexpected method %q", method)
	}
	if typ := q.Get("type"); typ != string(StatusSuccess) {
		return common.Address{}, errors.Wrapf(ErrRejected, "type %q: %s", typ, q.Get("data"))
	}
	state := q.Get("state")
	if expected == "" || subtle.ConstantTimeCompare([]byte(state), []byte(expected)) != 1 {
		return common.Address{}, errors.Wrap(ErrInvalidState, "redirect state mismatch")
	}
	resp, err := ParseQueryResponse(q)
	if err != nil {
		return common.Address{}, err
	}
	cred, err := Validate(resp)
	if err != nil {
		return common.Address{}, err
	}
	if err := p.establish(ctx, cred); err != nil {
		return common.Address{}, err
	}
	return cred.Address, nil
}
