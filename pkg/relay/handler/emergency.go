package handler

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/emerband/relay/pkg/relay/event"
)

// TimestampLayout renders alert times as "yyyy-MM-dd HH:mm:ss".
const TimestampLayout = "2006-01-02 15:04:05"

// DefaultUserName is used when no name is configured.
const DefaultUserName = "Unknown User"

// Emergency texts every contact and calls the primary number.
//
// An event that was never persisted is a live alert. A persisted event was
// queued while offline and gets the delayed-alert wording with the original
// trigger time.
type Emergency struct {
	SMS    SMSSender
	Caller Caller

	// Contacts receive the SMS. The first one is also called unless
	// CallNumber is set.
	Contacts   []string
	CallNumber string

	UserName string

	// TimeZone renders CreatedAt (default time.Local).
	TimeZone *time.Location

	// MaxSMSLength splits long messages; zero sends them whole.
	MaxSMSLength int

	Logger *slog.Logger
}

// Send implements dispatch.Handler.
// Returns true when any SMS or the call went through.
func (h *Emergency) Send(ctx context.Context, ev *event.QueuedEvent) (bool, error) {
	if ev == nil {
		return false, fmt.Errorf("emergency handler: nil event")
	}
	if ev.Kind != event.KindEmergency {
		return false, fmt.Errorf("emergency handler: unexpected kind %q", ev.Kind)
	}

	callNumber := h.callNumber()
	if len(h.Contacts) == 0 && callNumber == "" {
		h.warn("no emergency contacts configured", ev, nil)
		return false, nil
	}

	message := h.Message(ev)

	smsSent := false
	if h.SMS != nil {
		for _, to := range h.Contacts {
			if err := sendSMS(ctx, h.SMS, to, message, h.MaxSMSLength); err != nil {
				h.warn("emergency sms failed", ev, err, slog.String("to", to))
				continue
			}
			smsSent = true
		}
	}

	callPlaced := false
	if h.Caller != nil && callNumber != "" {
		if err := h.Caller.Call(ctx, callNumber); err != nil {
			h.warn("emergency call failed", ev, err, slog.String("to", callNumber))
		} else {
			callPlaced = true
		}
	}

	return smsSent || callPlaced, nil
}

// Message formats the alert text for ev.
func (h *Emergency) Message(ev *event.QueuedEvent) string {
	lat, lon, hasCoords := ev.Location.Coordinates()
	ts := ev.Created().In(h.timeZone()).Format(TimestampLayout)

	var b strings.Builder
	if ev.Persisted() {
		b.WriteString("🚨 DELAYED EMERGENCY ALERT 🚨\n")
		fmt.Fprintf(&b, "Name: %s\n", h.userName())
		fmt.Fprintf(&b, "Alert triggered at: %s\n", ts)
		if hasCoords {
			fmt.Fprintf(&b, "Location: %s,%s\n", formatCoord(lat), formatCoord(lon))
		} else {
			b.WriteString("Location: Location unavailable at time of alert\n")
		}
		writeDetails(&b, ev.Payload)
		b.WriteString("This alert was delayed due to connectivity issues.")
	} else {
		b.WriteString("🚨 Emergency Alert 🚨\n")
		fmt.Fprintf(&b, "Name: %s\n", h.userName())
		if hasCoords {
			fmt.Fprintf(&b, "Location: Latitude %s, Longitude %s\n", formatCoord(lat), formatCoord(lon))
		} else {
			b.WriteString("Location: Unknown\n")
		}
		fmt.Fprintf(&b, "Time: %s\n", ts)
		writeDetails(&b, ev.Payload)
		b.WriteString("\nThis person needs immediate assistance!")
	}

	if hasCoords {
		fmt.Fprintf(&b, "\n\nMap link: %s", MapLink(lat, lon))
	}
	return b.String()
}

// MapLink returns a maps URL centred on the coordinates.
func MapLink(lat, lon float64) string {
	return "https://maps.google.com/maps?q=" + formatCoord(lat) + "," + formatCoord(lon)
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func writeDetails(b *strings.Builder, payload string) {
	if payload = strings.TrimSpace(payload); payload != "" {
		fmt.Fprintf(b, "Details: %s\n", payload)
	}
}

func (h *Emergency) callNumber() string {
	if h.CallNumber != "" {
		return h.CallNumber
	}
	if len(h.Contacts) > 0 {
		return h.Contacts[0]
	}
	return ""
}

func (h *Emergency) userName() string {
	if h.UserName == "" {
		return DefaultUserName
	}
	return h.UserName
}

func (h *Emergency) timeZone() *time.Location {
	if h.TimeZone == nil {
		return time.Local
	}
	return h.TimeZone
}

func (h *Emergency) warn(msg string, ev *event.QueuedEvent, err error, attrs ...any) {
	if h.Logger == nil {
		return
	}
	attrs = append(attrs, slog.Int64("event_id", ev.ID))
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	h.Logger.Warn(msg, attrs...)
}
