package errors

import (
	"os"
	"sync"

	"github.com/certifi/gocertifi"
	"github.com/getsentry/sentry-go"
	"moff.io/idconnect/pkg/log"
)

// Reporter receives errors created through the *AndReport helpers.
type Reporter interface {
	Report(error)
}

// Setting this env var disables reporting entirely.
const debugMode = "DEBUG"

var (
	reportersMu sync.RWMutex
	reporters   []Reporter
)

// Register adds r to the reporters fed by the *AndReport helpers.
func Register(r Reporter) {
	if r == nil {
		return
	}
	reportersMu.Lock()
	defer reportersMu.Unlock()
	reporters = append(reporters, r)
}

// ResetReporters drops every registered reporter.
func ResetReporters() {
	reportersMu.Lock()
	defer reportersMu.Unlock()
	reporters = nil
}

func report(err error) {
	if err == nil || os.Getenv(debugMode) != "" {
		return
	}
	reportersMu.RLock()
	defer reportersMu.RUnlock()
	for _, r := range reporters {
		r.Report(err)
	}
}

type sentryReporter struct{}

func (s *sentryReporter) Report(err error) {
	sentry.CaptureException(err)
}

// NewSentryReporter initializes sentry with the certifi CA bundle and registers it.
// An empty DSN is not an error, the reporter is just skipped.
func NewSentryReporter(sentryDSN string) error {
	if sentryDSN == "" {
		log.Warn("empty DSN found, skipping sentry reporter initialization.")
		return nil
	}
	rootCAs, err := gocertifi.CACerts()
	if err != nil {
		return Wrap(err, "init sentry CA")
	}
	if err := sentry.Init(sentry.ClientOptions{Dsn: sentryDSN, CaCerts: rootCAs}); err != nil {
		return Wrap(err, "init sentry")
	}
	Register(&sentryReporter{})
	log.Info("sentry error reporter initialized.")
	return nil
}
