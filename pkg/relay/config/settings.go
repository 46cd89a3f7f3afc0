package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/emerband/relay/pkg/relay/observability"
)

// Settings is the typed configuration of a relay instance.
type Settings struct {
	Store        StoreSettings
	Delivery     DeliverySettings
	Connectivity ConnectivitySettings
	Emergency    EmergencySettings
	Cyber        CyberSettings
	Log          LogSettings
}

// StoreSettings selects and addresses the durable store.
type StoreSettings struct {
	Driver        string // sqlite, redis, postgres or memory
	Path          string
	RedisAddr     string
	RedisDB       int
	RedisPassword string
	Prefix        string
	PostgresDSN   string

	// ConnectAttempts and ConnectBackoff bound retries while opening a
	// networked store.
	ConnectAttempts int
	ConnectBackoff  time.Duration
}

// DeliverySettings tune the dispatcher.
type DeliverySettings struct {
	MaxRetryAttempts     int
	HandlerTimeout       time.Duration
	QueueOnDirectFailure bool

	// RetryBackoff enables follow-up drains while still online.
	RetryBackoff        bool
	RetryInitialBackoff time.Duration
	RetryMaxBackoff     time.Duration
	RetryBackoffFactor  float64
	RetryJitter         float64 // fraction of each delay, 0 to 1
}

// ConnectivitySettings configure the reachability probe.
type ConnectivitySettings struct {
	Probe        string // tcp, http or none
	Targets      []string
	Interval     time.Duration
	ProbeTimeout time.Duration
}

// EmergencySettings configure the emergency alert recipients.
type EmergencySettings struct {
	Contacts     []string
	CallNumber   string
	UserName     string
	TimeZone     string
	MaxSMSLength int
}

// CyberSettings configure the cyber cell alert.
type CyberSettings struct {
	Number  string
	Message string
}

// LogSettings configure the slog handler.
type LogSettings struct {
	Format string
	Level  string
}

// Default returns the settings used when nothing is configured.
func Default() Settings {
	return Settings{
		Store: StoreSettings{
			Driver:          "sqlite",
			Path:            "relay.db",
			Prefix:          "relay:",
			ConnectAttempts: 3,
			ConnectBackoff:  500 * time.Millisecond,
		},
		Delivery: DeliverySettings{
			MaxRetryAttempts:    3,
			HandlerTimeout:      20 * time.Second,
			RetryInitialBackoff: 5 * time.Second,
			RetryMaxBackoff:     2 * time.Minute,
			RetryBackoffFactor:  2,
			RetryJitter:         0.1,
		},
		Connectivity: ConnectivitySettings{
			Probe:        "tcp",
			Targets:      []string{"1.1.1.1:53", "8.8.8.8:53"},
			Interval:     5 * time.Second,
			ProbeTimeout: 3 * time.Second,
		},
		Emergency: EmergencySettings{
			UserName:     "Unknown User",
			TimeZone:     "Local",
			MaxSMSLength: 160,
		},
		Cyber: CyberSettings{
			Number:  "1930",
			Message: "I'm under digital threat. Please help.",
		},
		Log: LogSettings{
			Format: "text",
			Level:  "info",
		},
	}
}

// FromConfig overlays cfg on Default.
func FromConfig(cfg Config) Settings {
	s := Default()

	st := cfg.Sub("store")
	s.Store.Driver = st.String("driver", s.Store.Driver)
	s.Store.Path = st.String("path", s.Store.Path)
	s.Store.RedisAddr = st.String("redis_addr", s.Store.RedisAddr)
	s.Store.RedisDB = st.Int("redis_db", s.Store.RedisDB)
	s.Store.RedisPassword = st.String("redis_password", s.Store.RedisPassword)
	s.Store.Prefix = st.String("prefix", s.Store.Prefix)
	s.Store.PostgresDSN = st.String("postgres_dsn", s.Store.PostgresDSN)
	s.Store.ConnectAttempts = st.Int("connect_attempts", s.Store.ConnectAttempts)
	s.Store.ConnectBackoff = st.Duration("connect_backoff", s.Store.ConnectBackoff)

	dl := cfg.Sub("delivery")
	s.Delivery.MaxRetryAttempts = dl.Int("max_retry_attempts", s.Delivery.MaxRetryAttempts)
	s.Delivery.HandlerTimeout = dl.Duration("handler_timeout", s.Delivery.HandlerTimeout)
	s.Delivery.QueueOnDirectFailure = dl.Bool("queue_on_direct_failure", s.Delivery.QueueOnDirectFailure)
	s.Delivery.RetryBackoff = dl.Bool("retry_backoff", s.Delivery.RetryBackoff)
	s.Delivery.RetryInitialBackoff = dl.Duration("retry_initial_backoff", s.Delivery.RetryInitialBackoff)
	s.Delivery.RetryMaxBackoff = dl.Duration("retry_max_backoff", s.Delivery.RetryMaxBackoff)
	s.Delivery.RetryBackoffFactor = dl.Float("retry_backoff_factor", s.Delivery.RetryBackoffFactor)
	s.Delivery.RetryJitter = dl.Float("retry_jitter", s.Delivery.RetryJitter)

	cn := cfg.Sub("connectivity")
	s.Connectivity.Probe = cn.String("probe", s.Connectivity.Probe)
	s.Connectivity.Targets = cn.StringSlice("targets", s.Connectivity.Targets)
	s.Connectivity.Interval = cn.Duration("interval", s.Connectivity.Interval)
	s.Connectivity.ProbeTimeout = cn.Duration("probe_timeout", s.Connectivity.ProbeTimeout)

	em := cfg.Sub("emergency")
	s.Emergency.Contacts = em.StringSlice("contacts", s.Emergency.Contacts)
	s.Emergency.CallNumber = em.String("call_number", s.Emergency.CallNumber)
	s.Emergency.UserName = em.String("user_name", s.Emergency.UserName)
	s.Emergency.TimeZone = em.String("time_zone", s.Emergency.TimeZone)
	s.Emergency.MaxSMSLength = em.Int("max_sms_length", s.Emergency.MaxSMSLength)

	cy := cfg.Sub("cyber")
	s.Cyber.Number = cy.String("number", s.Cyber.Number)
	s.Cyber.Message = cy.String("message", s.Cyber.Message)

	lg := cfg.Sub("log")
	s.Log.Format = lg.String("format", s.Log.Format)
	s.Log.Level = lg.String("level", s.Log.Level)

	return s
}

// ApplyEnv overrides fields from RELAY_* variables. Unset or unparsable
// values leave the field unchanged.
func (s *Settings) ApplyEnv(getenv func(string) string) {
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if n, err := strconv.Atoi(getenv(key)); err == nil {
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if d, err := time.ParseDuration(getenv(key)); err == nil {
			*dst = d
		}
	}
	flag := func(key string, dst *bool) {
		if b, err := strconv.ParseBool(getenv(key)); err == nil {
			*dst = b
		}
	}
	list := func(key string, dst *[]string) {
		if v := getenv(key); v != "" {
			*dst = splitList(v)
		}
	}

	str("RELAY_STORE_DRIVER", &s.Store.Driver)
	str("RELAY_STORE_PATH", &s.Store.Path)
	str("RELAY_REDIS_ADDR", &s.Store.RedisAddr)
	num("RELAY_REDIS_DB", &s.Store.RedisDB)
	str("RELAY_REDIS_PASSWORD", &s.Store.RedisPassword)
	str("RELAY_POSTGRES_DSN", &s.Store.PostgresDSN)

	num("RELAY_MAX_RETRY_ATTEMPTS", &s.Delivery.MaxRetryAttempts)
	dur("RELAY_HANDLER_TIMEOUT", &s.Delivery.HandlerTimeout)
	flag("RELAY_QUEUE_ON_DIRECT_FAILURE", &s.Delivery.QueueOnDirectFailure)
	flag("RELAY_RETRY_BACKOFF", &s.Delivery.RetryBackoff)

	str("RELAY_PROBE", &s.Connectivity.Probe)
	list("RELAY_PROBE_TARGETS", &s.Connectivity.Targets)
	dur("RELAY_PROBE_INTERVAL", &s.Connectivity.Interval)

	list("RELAY_EMERGENCY_CONTACTS", &s.Emergency.Contacts)
	str("RELAY_EMERGENCY_CALL_NUMBER", &s.Emergency.CallNumber)
	str("RELAY_USER_NAME", &s.Emergency.UserName)
	str("RELAY_TIME_ZONE", &s.Emergency.TimeZone)

	str("RELAY_CYBER_NUMBER", &s.Cyber.Number)
	str("RELAY_CYBER_MESSAGE", &s.Cyber.Message)

	str("RELAY_LOG_FORMAT", &s.Log.Format)
	str("RELAY_LOG_LEVEL", &s.Log.Level)
}

// Validate reports every invalid field at once.
func (s Settings) Validate() error {
	var errs []error

	switch s.Store.Driver {
	case "", "sqlite", "memory":
	case "redis":
		if s.Store.RedisAddr == "" {
			errs = append(errs, errors.New("store.redis_addr is required for the redis driver"))
		}
	case "postgres":
		if s.Store.PostgresDSN == "" {
			errs = append(errs, errors.New("store.postgres_dsn is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver %q is not supported", s.Store.Driver))
	}
	if s.Store.ConnectAttempts < 1 {
		errs = append(errs, errors.New("store.connect_attempts must be at least 1"))
	}

	if s.Delivery.MaxRetryAttempts < 1 {
		errs = append(errs, errors.New("delivery.max_retry_attempts must be at least 1"))
	}
	if s.Delivery.HandlerTimeout <= 0 {
		errs = append(errs, errors.New("delivery.handler_timeout must be positive"))
	}
	if s.Delivery.RetryBackoffFactor < 1 {
		errs = append(errs, errors.New("delivery.retry_backoff_factor must be at least 1"))
	}
	if s.Delivery.RetryJitter < 0 || s.Delivery.RetryJitter > 1 {
		errs = append(errs, errors.New("delivery.retry_jitter must be between 0 and 1"))
	}

	switch s.Connectivity.Probe {
	case "none":
	case "tcp", "http":
		if len(s.Connectivity.Targets) == 0 {
			errs = append(errs, fmt.Errorf("connectivity.targets is required for the %s probe", s.Connectivity.Probe))
		}
	default:
		errs = append(errs, fmt.Errorf("connectivity.probe %q is not supported", s.Connectivity.Probe))
	}
	if s.Connectivity.Interval <= 0 {
		errs = append(errs, errors.New("connectivity.interval must be positive"))
	}

	if _, err := time.LoadLocation(s.Emergency.TimeZone); err != nil {
		errs = append(errs, fmt.Errorf("emergency.time_zone: %w", err))
	}

	if _, err := observability.ParseLevel(s.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	switch strings.ToLower(s.Log.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not supported", s.Log.Format))
	}

	return errors.Join(errs...)
}

// Location resolves Emergency.TimeZone, falling back to time.Local.
func (s Settings) Location() *time.Location {
	loc, err := time.LoadLocation(s.Emergency.TimeZone)
	if err != nil {
		return time.Local
	}
	return loc
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
