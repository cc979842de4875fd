package idconnect

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"moff.io/idconnect/internal/chains"
	"moff.io/idconnect/pkg/errors"
	"moff.io/idconnect/pkg/log"
)

// Mode selects how the id provider is reached.
type Mode string

const (
	ModePopup    Mode = "popup"
	ModeRedirect Mode = "redirect"
)

// Provider methods with special handling; everything else goes to the chain rpc client.
const (
	MethodChainID         = "eth_chainId"
	MethodAccounts        = "eth_accounts"
	MethodRequestAccounts = "eth_requestAccounts"
	MethodPersonalSign    = "personal_sign"
	MethodSignTypedDataV4 = "eth_signTypedData_v4"
	MethodSendTransaction = "eth_sendTransaction"
)

// RPCClient is the underlying chain client; *rpc.Client from go-ethereum satisfies it.
type RPCClient interface {
	CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error
}

// Options configure a Provider.
type Options struct {
	IDOrigin         string
	ClientID         string
	ChainID          int
	Scopes           Scopes
	Mode             Mode
	StorageKey       string
	Timeout          time.Duration
	PollInterval     time.Duration
	PopupWidth       int
	PopupHeight      int
	VerifySignatures bool
	TokenGenerator   TokenGenerator
}

// Provider is the EIP-1193 style request router over an id provider session.
// State is Disconnected until a validated address is cached, Connected afterwards.
type Provider struct {
	opts      Options
	chain     *chains.Blockchain
	platform  Platform
	launcher  *Launcher
	messenger *Messenger
	session   *SessionCache
	events    *Emitter
	rpc       RPCClient

	mu    sync.RWMutex
	token string
}

// NewProvider binds a provider to a chain and a platform. An unknown chain id fails with
// *UnsupportedChainError.
func NewProvider(opts Options, platform Platform, rpc RPCClient) (*Provider, error) {
	chain, err := chains.Lookup(opts.ChainID)
	if err != nil {
		return nil, err
	}
	if opts.IDOrigin == "" || opts.ClientID == "" {
		return nil, errors.New("idconnect: id provider origin and client id are required")
	}
	if _, err := url.Parse(opts.IDOrigin); err != nil {
		return nil, errors.Wrap(err, "idconnect: parse id provider origin")
	}
	opts.IDOrigin = strings.TrimRight(opts.IDOrigin, "/")
	if opts.Mode == "" {
		opts.Mode = ModePopup
	}
	if len(opts.Scopes) == 0 {
		opts.Scopes = Scopes{ScopeWallet}
	}
	if platform.Bus == nil {
		return nil, errors.New("idconnect: platform has no message bus")
	}
	p := &Provider{
		opts:     opts,
		chain:    chain,
		platform: platform,
		launcher: NewLauncher(platform.Opener, platform.Location, opts.PopupWidth, opts.PopupHeight),
		messenger: NewMessenger(platform.Bus, opts.IDOrigin,
			WithTimeout(opts.Timeout),
			WithPollInterval(opts.PollInterval),
			WithTokenGenerator(opts.TokenGenerator)),
		session: NewSessionCache(platform.Storage, opts.StorageKey),
		events:  NewEmitter(),
		rpc:     rpc,
	}
	return p, nil
}

// Events exposes the provider's event subscriptions.
func (p *Provider) Events() *Emitter {
	return p.events
}

// Chain is the network the provider is bound to.
func (p *Provider) Chain() chains.Blockchain {
	return *p.chain
}

// ChainIDHex is the bound chain id in 0x form.
func (p *Provider) ChainIDHex() string {
	return hexutil.EncodeUint64(uint64(p.chain.ID))
}

// Session returns the cached session, if any.
func (p *Provider) Session(ctx context.Context) (*Session, bool) {
	addr, ok := p.session.Get(ctx)
	if !ok {
		return nil, false
	}
	return &Session{Address: addr, ChainID: p.chain.ID}, true
}

// Connected reports whether an address is cached.
func (p *Provider) Connected(ctx context.Context) bool {
	_, ok := p.session.Get(ctx)
	return ok
}

// Token is the opaque credential from the last authorization of this instance.
func (p *Provider) Token() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.token
}

// Request dispatches one provider method.
//
// eth_chainId and eth_accounts answer from local state. eth_requestAccounts always re-runs
// the authorization handshake. Signing and transactions need an authorized address, running
// Connect first when none is cached, then ask the id provider to confirm the action. Other
// methods are forwarded to the chain rpc client as json.RawMessage.
func (p *Provider) Request(ctx context.Context, method string, params ...interface{}) (interface{}, error) {
	switch method {
	case MethodChainID:
		return p.ChainIDHex(), nil
	case MethodAccounts:
		return p.Accounts(ctx), nil
	case MethodRequestAccounts:
		addr, err := p.Connect(ctx)
		if err != nil {
			return nil, err
		}
		return []string{addr.Hex()}, nil
	case MethodPersonalSign, MethodSignTypedDataV4, MethodSendTransaction:
		return p.confirm(ctx, method, params)
	default:
		return p.forward(ctx, method, params)
	}
}

// Accounts returns the cached address as a one-element list, or an empty list.
func (p *Provider) Accounts(ctx context.Context) []string {
	addr, ok := p.session.Get(ctx)
	if !ok {
		return []string{}
	}
	return []string{addr.Hex()}
}

// Connect runs the full authorization handshake regardless of any cached address. In
// redirect mode it navigates away and returns ErrRedirected; see ResumeRedirect.
func (p *Provider) Connect(ctx context.Context) (common.Address, error) {
	if p.opts.Mode == ModeRedirect {
		return common.Address{}, p.redirect(ctx)
	}
	resp, err := p.messenger.SendRequest(ctx, MethodAuth, func(ctx context.Context, state string) (Window, error) {
		return p.launcher.OpenPopup(ctx, p.authorizeURL(), p.authorizeParams(state))
	})
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

// Disconnect forgets the session. Events fire only when an address was actually cached and
// removed; a storage failure leaves the provider connected and is returned.
func (p *Provider) Disconnect(ctx context.Context) error {
	addr, ok := p.session.Get(ctx)
	if !ok {
		return nil
	}
	if err := p.session.Clear(ctx); err != nil {
		log.Warnf("idconnect - clear session: %v", err)
		return err
	}
	p.mu.Lock()
	p.token = ""
	p.mu.Unlock()
	log.Infof("idconnect - disconnected %s", addr.Hex())
	p.events.Emit(AccountsChanged{Accounts: []string{}})
	p.events.Emit(Disconnected{Err: newDisconnectedError()})
	return nil
}

func (p *Provider) establish(ctx context.Context, cred *Credential) error {
	if err := p.session.Set(ctx, cred.Address); err != nil {
		return err
	}
	p.mu.Lock()
	p.token = cred.Token
	p.mu.Unlock()
	log.Infof("idconnect - connected %s on %s", cred.Address.Hex(), p.chain.Name)
	p.events.Emit(AccountsChanged{Accounts: []string{cred.Address.Hex()}})
	p.events.Emit(Connected{ConnectInfo{ChainID: p.ChainIDHex()}})
	return nil
}

func (p *Provider) authorizeURL() string {
	return fmt.Sprintf("%s/client/%s/authorize", p.opts.IDOrigin, url.PathEscape(p.opts.ClientID))
}

func (p *Provider) confirmURL() string {
	return fmt.Sprintf("%s/client/%s/confirm", p.opts.IDOrigin, url.PathEscape(p.opts.ClientID))
}

func (p *Provider) callerOrigin() string {
	if p.platform.Location == nil {
		return ""
	}
	return p.platform.Location.Origin()
}

func (p *Provider) baseParams(state string) url.Values {
	q := url.Values{}
	q.Set("state", state)
	q.Set("redirect", p.callerOrigin())
	q.Set("origin", p.callerOrigin())
	return q
}

func (p *Provider) authorizeParams(state string) url.Values {
	q := p.baseParams(state)
	q.Set("scope", p.opts.Scopes.String())
	return q
}

func (p *Provider) forward(ctx context.Context, method string, params []interface{}) (interface{}, error) {
	if p.rpc == nil {
		return nil, ErrNoRPCClient
	}
	var result json.RawMessage
	if err := p.rpc.CallContext(ctx, &result, method, params...); err != nil {
		return nil, errors.Wrapf(err, "call %s", method)
	}
	return result, nil
}
