package dispatch

import (
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"golang.org/x/time/rate"

	"github.com/vegeta897/slash-create/internal/config"
	"github.com/vegeta897/slash-create/internal/rest"
)

// NewDispatcher assembles a dispatcher from application config: the
// wire transport, retry and quota tuning, and the optional persisted
// bucket store.
func NewDispatcher(cfg *config.Config, logger *logging.Logger, bucketStore rest.BucketStore) *rest.Dispatcher {
	d := rest.NewDispatcher(NewTransport(cfg), DispatcherConfig(cfg))
	d.Logger = logger
	d.Store = bucketStore
	return d
}

// NewTransport builds the HTTP transport from API config. A positive
// smooth rate adds client-side pacing in front of the wire call.
func NewTransport(cfg *config.Config) *rest.HTTPTransport {
	transport := &rest.HTTPTransport{}
	if cfg == nil {
		return transport
	}

	transport.BaseURL = cfg.API.BaseURL
	transport.Token = cfg.API.Token
	transport.UserAgent = cfg.API.UserAgent

	timeout := cfg.API.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	transport.Client = &http.Client{Timeout: timeout}

	if cfg.API.SmoothRate > 0 {
		burst := cfg.API.SmoothBurst
		if burst < 1 {
			burst = 1
		}
		transport.Limiter = rate.NewLimiter(rate.Limit(cfg.API.SmoothRate), burst)
	}

	return transport
}

// DispatcherConfig maps dispatch settings onto dispatcher tuning.
func DispatcherConfig(cfg *config.Config) rest.Config {
	if cfg == nil {
		return rest.Config{}
	}
	return rest.Config{
		MaxAttempts:             cfg.Dispatch.MaxAttempts,
		BaseBackoff:             cfg.Dispatch.BaseBackoff,
		MaxBackoff:              cfg.Dispatch.MaxBackoff,
		GlobalLimit:             cfg.Dispatch.GlobalLimit,
		GlobalWindow:            cfg.Dispatch.GlobalWindow,
		PerRouteBucketOverrides: cfg.Dispatch.MajorResources,
		BucketTTL:               cfg.Dispatch.BucketTTL,
	}
}
