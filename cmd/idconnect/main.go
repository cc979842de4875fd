package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"moff.io/idconnect/internal/cache"
	"moff.io/idconnect/internal/chains"
	"moff.io/idconnect/internal/config"
	"moff.io/idconnect/internal/databus"
	"moff.io/idconnect/internal/idconnect"
	"moff.io/idconnect/internal/platform/bridge"
	"moff.io/idconnect/internal/platform/loopback"
	"moff.io/idconnect/internal/rpc"
	"moff.io/idconnect/internal/starter"
	"moff.io/idconnect/pkg/errors"
	"moff.io/idconnect/pkg/log"
)

func main() {
	log.Infof("Starting idconnect")
	os.Exit(startApp())
}

func startApp() (code int) {
	defer func() {
		if i := recover(); i != nil {
			log.Error(errors.ErrorfAndReport("%v", i))
			code = 2
		}
	}()
	config.Read()
	cfg := config.Global
	log.SetLevel(cfg.LogLevel)
	if err := errors.NewSentryReporter(cfg.SentryDSN); err != nil {
		log.Warnf("sentry reporter: %v", err)
	}
	if cfg.LarkAlarmWebhook != "" {
		errors.NewLarkReporter(cfg.LarkAlarmWebhook, time.Minute)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	app, err := newApp(ctx, cfg)
	if err != nil {
		log.Error(err)
		return 1
	}
	defer app.close()

	if err := app.run(ctx, flag.Args(), os.Stdout); err != nil {
		log.Errorf("%v (code %d)", err, idconnect.RPCCode(err))
		return 1
	}
	return 0
}

type app struct {
	cfg      *config.Configuration
	provider *idconnect.Provider
	store    cache.Store
	landed   <-chan struct{}
	closers  []func()
}

func newApp(ctx context.Context, cfg *config.Configuration) (*app, error) {
	a := &app{cfg: cfg}
	store, err := cache.New(ctx, &cfg.Storage, cfg.IDProvider.ClientID)
	if err != nil {
		return nil, err
	}
	a.store = store
	a.onClose(func() { store.Close() })

	platform := idconnect.Platform{Storage: store}
	var service starter.Startable
	switch cfg.Platform {
	case config.PlatformBridge:
		client, err := bridge.NewClient(cfg.Bridge.URL,
			bridge.WithTopic(cfg.Bridge.Topic),
			bridge.WithQRCode(cfg.Bridge.QRPath, os.Stdout))
		if err != nil {
			a.close()
			return nil, err
		}
		platform.Opener, platform.Bus, platform.Location = client, client, client
		service = client
	default:
		srv := loopback.NewServer(cfg.Callback.Listen, cfg.IDProvider.Origin)
		platform.Opener, platform.Bus, platform.Location = srv, srv, srv
		a.landed = srv.Landed()
		service = srv
	}
	stop, err := starter.Start(ctx, service)
	if err != nil {
		a.close()
		return nil, err
	}
	a.onClose(stop)

	var rpcClient idconnect.RPCClient
	if chain, err := chains.Lookup(cfg.Chain.ID); err == nil {
		if client, err := rpc.Dial(ctx, chain, cfg.Chain.RPCURL); err != nil {
			log.Warnf("chain rpc unavailable, only wallet methods will work: %v", err)
		} else {
			rpcClient = client
			a.onClose(client.Close)
		}
	}

	scopes, err := idconnect.ParseScopes(cfg.IDProvider.Scopes)
	if err != nil {
		a.close()
		return nil, err
	}
	provider, err := idconnect.NewProvider(idconnect.Options{
		IDOrigin:         cfg.IDProvider.Origin,
		ClientID:         cfg.IDProvider.ClientID,
		ChainID:          cfg.Chain.ID,
		Scopes:           scopes,
		Mode:             idconnect.Mode(cfg.IDProvider.Mode),
		StorageKey:       cfg.Storage.Key,
		Timeout:          cfg.IDProvider.Timeout,
		PollInterval:     cfg.IDProvider.PollInterval,
		PopupWidth:       cfg.Popup.Width,
		PopupHeight:      cfg.Popup.Height,
		VerifySignatures: cfg.VerifySignatures,
	}, platform, rpcClient)
	if err != nil {
		a.close()
		return nil, err
	}
	a.provider = provider
	a.onClose(provider.Events().Subscribe(logEvent))

	if cfg.Kafka.Servers != "" {
		bus, err := databus.InitDataBus(cfg.Kafka.Servers)
		if err != nil {
			a.close()
			return nil, err
		}
		a.onClose(bus.Stop)
		sink, err := databus.NewEventSink(bus, cfg.Kafka.Topic, cfg.IDProvider.ClientID, cfg.Chain.ID)
		if err != nil {
			a.close()
			return nil, err
		}
		a.onClose(sink.Attach(provider.Events()))
	}
	return a, nil
}

func (a *app) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func logEvent(ev idconnect.Event) {
	switch v := ev.(type) {
	case idconnect.AccountsChanged:
		log.Infof("event %s: %v", v.Name(), v.Accounts)
	case idconnect.Connected:
		log.Infof("event %s: chain %s", v.Name(), v.ChainID)
	case idconnect.Disconnected:
		log.Infof("event %s: %v", v.Name(), v.Err)
	}
}
