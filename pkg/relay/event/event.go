// Package event defines the queued delivery record shared by the store,
// the dispatcher and the handlers.
package event

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind identifies the variant of a safety event.
// Kinds are persisted as their string value.
type Kind string

// Known event kinds.
const (
	KindEmergency  Kind = "EMERGENCY"
	KindCyberAlert Kind = "CYBER"
)

// String returns the persisted representation of the kind.
func (k Kind) String() string {
	return string(k)
}

// ParseKind validates a persisted kind string.
// Unknown values are accepted as long as they are non-empty and upper case,
// so stores can hold kinds registered by newer builds.
func ParseKind(s string) (Kind, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("empty event kind")
	}
	if s != strings.ToUpper(s) {
		return "", fmt.Errorf("invalid event kind %q: must be upper case", s)
	}
	return Kind(s), nil
}

// Location is a last-known geolocation captured when the event was created.
// Both coordinates are kept as the decimal strings the device reported.
type Location struct {
	Latitude  string `json:"latitude"`
	Longitude string `json:"longitude"`
}

// NewLocation formats a coordinate pair.
func NewLocation(lat, lon float64) *Location {
	return &Location{
		Latitude:  strconv.FormatFloat(lat, 'f', -1, 64),
		Longitude: strconv.FormatFloat(lon, 'f', -1, 64),
	}
}

// String returns "lat,lon".
func (l *Location) String() string {
	if l == nil {
		return ""
	}
	return l.Latitude + "," + l.Longitude
}

// Coordinates parses the pair and checks it is on the globe.
// ok is false for a nil location, unparsable values or out-of-range values.
func (l *Location) Coordinates() (lat, lon float64, ok bool) {
	if l == nil {
		return 0, 0, false
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(l.Latitude), 64)
	if err != nil {
		return 0, 0, false
	}
	lon, err = strconv.ParseFloat(strings.TrimSpace(l.Longitude), 64)
	if err != nil {
		return 0, 0, false
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return 0, 0, false
	}
	return lat, lon, true
}

// QueuedEvent is a unit of undelivered work.
//
// ID is zero until a store assigns one; a zero ID therefore means the event
// is on the direct-send path and has never been persisted.
type QueuedEvent struct {
	ID         int64     `json:"id"`
	Kind       Kind      `json:"kind"`
	CreatedAt  int64     `json:"created_at"` // epoch millis, immutable
	Location   *Location `json:"location,omitempty"`
	Payload    string    `json:"payload,omitempty"`
	RetryCount int       `json:"retry_count"`
}

// Option configures event creation.
type Option func(*QueuedEvent)

// WithCreatedAt sets the creation time (default: time.Now()).
func WithCreatedAt(t time.Time) Option {
	return func(ev *QueuedEvent) {
		ev.CreatedAt = t.UnixMilli()
	}
}

// WithCreatedAtMillis sets the creation time in epoch milliseconds.
func WithCreatedAtMillis(ms int64) Option {
	return func(ev *QueuedEvent) {
		ev.CreatedAt = ms
	}
}

// WithLocation attaches a location. A nil location is ignored.
func WithLocation(loc *Location) Option {
	return func(ev *QueuedEvent) {
		if loc != nil {
			c := *loc
			ev.Location = &c
		}
	}
}

// WithPayload attaches kind-specific context such as "User: Alice".
func WithPayload(payload string) Option {
	return func(ev *QueuedEvent) {
		ev.Payload = payload
	}
}

// New creates an unpersisted event of the given kind.
func New(kind Kind, opts ...Option) *QueuedEvent {
	ev := &QueuedEvent{
		Kind:      kind,
		CreatedAt: time.Now().UnixMilli(),
	}
	for _, opt := range opts {
		opt(ev)
	}
	return ev
}

// Persisted reports whether a store has assigned an id.
func (e *QueuedEvent) Persisted() bool {
	return e.ID != 0
}

// Created returns CreatedAt as a time.Time.
func (e *QueuedEvent) Created() time.Time {
	return time.UnixMilli(e.CreatedAt)
}

// Validate checks the fields every store relies on.
func (e *QueuedEvent) Validate() error {
	if e == nil {
		return fmt.Errorf("nil event")
	}
	if _, err := ParseKind(string(e.Kind)); err != nil {
		return err
	}
	if e.CreatedAt <= 0 {
		return fmt.Errorf("event %d: created_at must be positive", e.ID)
	}
	if e.RetryCount < 0 {
		return fmt.Errorf("event %d: negative retry count %d", e.ID, e.RetryCount)
	}
	if e.Location != nil && (e.Location.Latitude == "") != (e.Location.Longitude == "") {
		return fmt.Errorf("event %d: location needs both latitude and longitude", e.ID)
	}
	return nil
}

// Clone returns a deep copy so stores never share memory with callers.
func (e *QueuedEvent) Clone() *QueuedEvent {
	c := *e
	if e.Location != nil {
		loc := *e.Location
		c.Location = &loc
	}
	return &c
}
