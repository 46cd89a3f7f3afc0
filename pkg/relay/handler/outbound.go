// Package handler delivers safety events over outbound SMS and voice calls.
//
// The handlers here satisfy dispatch.Handler: Send reports expected failures
// (no recipients, carrier refused) through its boolean and reserves the error
// return for programming errors such as a mismatched event kind.
package handler

import (
	"context"
	"log/slog"
	"sync"
)

// SMSSender sends one text message.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// Caller places a voice call.
type Caller interface {
	Call(ctx context.Context, number string) error
}

// SMSFunc adapts a function to SMSSender.
type SMSFunc func(ctx context.Context, to, body string) error

// SendSMS implements SMSSender.
func (f SMSFunc) SendSMS(ctx context.Context, to, body string) error {
	return f(ctx, to, body)
}

// CallFunc adapts a function to Caller.
type CallFunc func(ctx context.Context, number string) error

// Call implements Caller.
func (f CallFunc) Call(ctx context.Context, number string) error {
	return f(ctx, number)
}

// OutboundRecord is one message or call captured by LogOutbound.
type OutboundRecord struct {
	Channel string // "sms" or "call"
	To      string
	Body    string
}

// LogOutbound is a dry-run SMSSender and Caller. It logs every send through
// slog and keeps a copy for inspection. Always succeeds.
type LogOutbound struct {
	Logger *slog.Logger

	mu   sync.Mutex
	sent []OutboundRecord
}

// SendSMS implements SMSSender.
func (o *LogOutbound) SendSMS(_ context.Context, to, body string) error {
	o.record(OutboundRecord{Channel: "sms", To: to, Body: body})
	if o.Logger != nil {
		o.Logger.Info("sms sent",
			slog.String("to", to),
			slog.Int("length", len(body)),
		)
	}
	return nil
}

// Call implements Caller.
func (o *LogOutbound) Call(_ context.Context, number string) error {
	o.record(OutboundRecord{Channel: "call", To: number})
	if o.Logger != nil {
		o.Logger.Info("call placed", slog.String("to", number))
	}
	return nil
}

// Sent returns a copy of everything sent so far.
func (o *LogOutbound) Sent() []OutboundRecord {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]OutboundRecord, len(o.sent))
	copy(out, o.sent)
	return out
}

func (o *LogOutbound) record(r OutboundRecord) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, r)
}

// SplitSMS breaks body into parts of at most limit runes, preferring to cut
// at a newline or space. limit <= 0 returns body unsplit.
func SplitSMS(body string, limit int) []string {
	runes := []rune(body)
	if limit <= 0 || len(runes) <= limit {
		return []string{body}
	}

	var parts []string
	for len(runes) > limit {
		cut := limit
		for i := limit; i > limit/2; i-- {
			if runes[i] == '\n' || runes[i] == ' ' {
				cut = i
				break
			}
		}
		parts = append(parts, string(runes[:cut]))
		runes = runes[cut:]
		// Drop the separator we cut on.
		if len(runes) > 0 && (runes[0] == '\n' || runes[0] == ' ') {
			runes = runes[1:]
		}
	}
	if len(runes) > 0 {
		parts = append(parts, string(runes))
	}
	return parts
}

// sendSMS delivers every part of body to one recipient.
func sendSMS(ctx context.Context, s SMSSender, to, body string, limit int) error {
	for _, part := range SplitSMS(body, limit) {
		if err := s.SendSMS(ctx, to, part); err != nil {
			return err
		}
	}
	return nil
}
