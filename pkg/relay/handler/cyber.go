package handler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/emerband/relay/pkg/relay/event"
)

// Cyber cell defaults.
const (
	DefaultCyberCellNumber = "1930"
	DefaultCyberMessage    = "I'm under digital threat. Please help."
)

// Cyber reports a digital threat to the cyber cell helpline by calling it and
// sending a fixed SMS. Location and payload are ignored.
type Cyber struct {
	SMS    SMSSender
	Caller Caller

	Number  string
	Message string

	MaxSMSLength int

	Logger *slog.Logger
}

// Send implements dispatch.Handler. Both channels are always tried.
// Returns true when at least one succeeded.
func (h *Cyber) Send(ctx context.Context, ev *event.QueuedEvent) (bool, error) {
	if ev == nil {
		return false, fmt.Errorf("cyber handler: nil event")
	}
	if ev.Kind != event.KindCyberAlert {
		return false, fmt.Errorf("cyber handler: unexpected kind %q", ev.Kind)
	}

	number := h.number()

	callPlaced := false
	if h.Caller != nil {
		if err := h.Caller.Call(ctx, number); err != nil {
			h.warn("cyber cell call failed", ev, err)
		} else {
			callPlaced = true
		}
	}

	smsSent := false
	if h.SMS != nil {
		if err := sendSMS(ctx, h.SMS, number, h.message(), h.MaxSMSLength); err != nil {
			h.warn("cyber cell sms failed", ev, err)
		} else {
			smsSent = true
		}
	}

	return callPlaced || smsSent, nil
}

func (h *Cyber) number() string {
	if h.Number == "" {
		return DefaultCyberCellNumber
	}
	return h.Number
}

func (h *Cyber) message() string {
	if h.Message == "" {
		return DefaultCyberMessage
	}
	return h.Message
}

func (h *Cyber) warn(msg string, ev *event.QueuedEvent, err error) {
	if h.Logger == nil {
		return
	}
	h.Logger.Warn(msg,
		slog.Int64("event_id", ev.ID),
		slog.String("to", h.number()),
		slog.String("error", err.Error()),
	)
}
