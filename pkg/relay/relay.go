package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/emerband/relay/pkg/relay/config"
	"github.com/emerband/relay/pkg/relay/connectivity"
	"github.com/emerband/relay/pkg/relay/dispatch"
	"github.com/emerband/relay/pkg/relay/event"
	rerrors "github.com/emerband/relay/pkg/relay/errors"
	"github.com/emerband/relay/pkg/relay/handler"
	"github.com/emerband/relay/pkg/relay/observability"
	"github.com/emerband/relay/pkg/relay/store"
)

// Options supplies the collaborators Settings cannot describe.
// Every field is optional.
type Options struct {
	Logger *slog.Logger

	// SMS and Caller default to a LogOutbound that only logs.
	SMS    handler.SMSSender
	Caller handler.Caller

	// Probe replaces the probe built from Settings.Connectivity.
	Probe connectivity.Probe

	// Store replaces the store built from Settings.Store. Close does not
	// close a store supplied here.
	Store store.Store

	Locator dispatch.Locator
	Metrics observability.MetricsRecorder
	Spans   observability.SpanManager

	OnDelivered        func(ev *event.QueuedEvent)
	OnPermanentFailure func(ev *event.QueuedEvent, err error)
}

// Relay is a wired store, monitor and dispatcher.
type Relay struct {
	Settings   config.Settings
	Store      store.Store
	Monitor    *connectivity.Monitor
	Dispatcher *dispatch.Dispatcher

	logger    *slog.Logger
	ownsStore bool
}

// Open builds a Relay from settings. The store is opened immediately;
// nothing runs until Start.
func Open(ctx context.Context, settings config.Settings, opts Options) (*Relay, error) {
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		l, err := observability.NewLogger(os.Stderr, settings.Log.Format, settings.Log.Level)
		if err != nil {
			return nil, err
		}
		logger = l
	}

	r := &Relay{Settings: settings, logger: logger}

	r.Store = opts.Store
	if r.Store == nil {
		s, err := store.Open(ctx, storeOptions(settings.Store, logger))
		if err != nil {
			return nil, err
		}
		r.Store = s
		r.ownsStore = true
	}

	probe := opts.Probe
	if probe == nil {
		p, err := BuildProbe(settings.Connectivity)
		if err != nil {
			r.closeStore()
			return nil, err
		}
		probe = p
	}
	r.Monitor = connectivity.NewMonitor(probe,
		connectivity.WithInterval(settings.Connectivity.Interval),
		connectivity.WithProbeTimeout(settings.Connectivity.ProbeTimeout),
		connectivity.WithLogger(logger),
	)

	registry, err := buildRegistry(settings, opts, logger)
	if err != nil {
		r.closeStore()
		return nil, err
	}

	dopts := []dispatch.Option{
		dispatch.WithLogger(logger),
		dispatch.WithMetrics(opts.Metrics),
		dispatch.WithSpanManager(opts.Spans),
		dispatch.WithMaxRetryAttempts(settings.Delivery.MaxRetryAttempts),
		dispatch.WithHandlerTimeout(settings.Delivery.HandlerTimeout),
		dispatch.WithQueueOnDirectFailure(settings.Delivery.QueueOnDirectFailure),
		dispatch.WithLocator(opts.Locator),
		dispatch.WithOnDelivered(opts.OnDelivered),
		dispatch.WithOnPermanentFailure(opts.OnPermanentFailure),
	}
	if settings.Delivery.RetryBackoff {
		dopts = append(dopts, dispatch.WithRetryBackoff(rerrors.NewRetryConfig(
			rerrors.WithInitialBackoff(settings.Delivery.RetryInitialBackoff),
			rerrors.WithMaxBackoff(settings.Delivery.RetryMaxBackoff),
			rerrors.WithBackoffFactor(settings.Delivery.RetryBackoffFactor),
			rerrors.WithJitter(settings.Delivery.RetryJitter),
		)))
	}
	r.Dispatcher = dispatch.New(r.Store, r.Monitor, registry, dopts...)

	return r, nil
}

// Start runs the dispatcher and the connectivity monitor.
func (r *Relay) Start(ctx context.Context) error {
	return r.Dispatcher.Start(ctx)
}

// Close stops delivery and closes the store Open created.
func (r *Relay) Close() error {
	r.Dispatcher.Stop()
	return r.closeStore()
}

// Emergency raises an emergency alert.
func (r *Relay) Emergency(ctx context.Context, payload string) (dispatch.Outcome, error) {
	return r.Dispatcher.Emergency(ctx, payload)
}

// CyberAlert raises a cyber cell alert.
func (r *Relay) CyberAlert(ctx context.Context) (dispatch.Outcome, error) {
	return r.Dispatcher.CyberAlert(ctx)
}

// Observe forwards a reachability change reported by the platform.
func (r *Relay) Observe(reachable bool) {
	r.Monitor.Observe(reachable)
}

func (r *Relay) closeStore() error {
	if !r.ownsStore || r.Store == nil {
		return nil
	}
	return r.Store.Close()
}

// BuildProbe creates the probe described by s. "none" returns a nil probe:
// the Monitor then only learns reachability from Observe.
func BuildProbe(s config.ConnectivitySettings) (connectivity.Probe, error) {
	switch s.Probe {
	case "none":
		return nil, nil
	case "tcp":
		probes := make([]connectivity.Probe, 0, len(s.Targets))
		for _, addr := range s.Targets {
			probes = append(probes, connectivity.TCPProbe{Address: addr})
		}
		return oneOrAny(probes), nil
	case "http":
		client := &http.Client{Timeout: s.ProbeTimeout}
		probes := make([]connectivity.Probe, 0, len(s.Targets))
		for _, url := range s.Targets {
			probes = append(probes, connectivity.HTTPProbe{URL: url, Client: client})
		}
		return oneOrAny(probes), nil
	default:
		return nil, fmt.Errorf("unknown probe %q", s.Probe)
	}
}

func oneOrAny(probes []connectivity.Probe) connectivity.Probe {
	if len(probes) == 1 {
		return probes[0]
	}
	return connectivity.AnyOf(probes...)
}

func storeOptions(s config.StoreSettings, logger *slog.Logger) store.Options {
	return store.Options{
		Driver:        s.Driver,
		Path:          s.Path,
		RedisAddr:     s.RedisAddr,
		RedisDB:       s.RedisDB,
		RedisPassword: s.RedisPassword,
		Prefix:        s.Prefix,
		PostgresDSN:   s.PostgresDSN,
		ConnectRetry: rerrors.NewRetryConfig(
			rerrors.WithMaxAttempts(s.ConnectAttempts),
			rerrors.WithInitialBackoff(s.ConnectBackoff),
			rerrors.WithMaxBackoff(10*s.ConnectBackoff),
		),
		Logger: logger,
	}
}

func buildRegistry(s config.Settings, opts Options, logger *slog.Logger) (*dispatch.Registry, error) {
	sms, caller := opts.SMS, opts.Caller
	if sms == nil || caller == nil {
		dry := &handler.LogOutbound{Logger: logger}
		if sms == nil {
			sms = dry
		}
		if caller == nil {
			caller = dry
		}
		logger.Warn("no outbound gateway configured, alerts are only logged")
	}

	reg := dispatch.NewRegistry()
	err := errors.Join(
		reg.Register(event.KindEmergency, &handler.Emergency{
			SMS:          sms,
			Caller:       caller,
			Contacts:     s.Emergency.Contacts,
			CallNumber:   s.Emergency.CallNumber,
			UserName:     s.Emergency.UserName,
			TimeZone:     s.Location(),
			MaxSMSLength: s.Emergency.MaxSMSLength,
			Logger:       logger,
		}),
		reg.Register(event.KindCyberAlert, &handler.Cyber{
			SMS:          sms,
			Caller:       caller,
			Number:       s.Cyber.Number,
			Message:      s.Cyber.Message,
			MaxSMSLength: s.Emergency.MaxSMSLength,
			Logger:       logger,
		}),
	)
	if err != nil {
		return nil, err
	}
	return reg, nil
}
