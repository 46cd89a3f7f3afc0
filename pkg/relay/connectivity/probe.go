package connectivity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync/atomic"
)

// Probe answers whether the network is reachable right now.
//
// An unreachable network is (false, nil). A non-nil error means the probe
// itself cannot work (misconfiguration, missing facility) and is reported as
// the facility being unavailable.
type Probe interface {
	Reachable(ctx context.Context) (bool, error)
}

// ProbeFunc adapts a function to the Probe interface.
type ProbeFunc func(ctx context.Context) (bool, error)

// Reachable implements Probe.
func (f ProbeFunc) Reachable(ctx context.Context) (bool, error) {
	return f(ctx)
}

// TCPProbe reports reachable when a TCP connection to Address succeeds.
type TCPProbe struct {
	Address string
	Dialer  *net.Dialer
}

// Reachable implements Probe.
func (p TCPProbe) Reachable(ctx context.Context) (bool, error) {
	if p.Address == "" {
		return false, errors.New("tcp probe: empty address")
	}
	d := p.Dialer
	if d == nil {
		d = &net.Dialer{}
	}
	conn, err := d.DialContext(ctx, "tcp", p.Address)
	if err != nil {
		return false, nil
	}
	conn.Close()
	return true, nil
}

func (p TCPProbe) String() string { return "tcp:" + p.Address }

// HTTPProbe reports reachable when a GET to URL answers.
// With ExpectStatus set the status must match exactly (204 for the common
// "generate_204" endpoints); otherwise any status below 500 counts.
type HTTPProbe struct {
	URL          string
	Client       *http.Client
	ExpectStatus int
}

// Reachable implements Probe.
func (p HTTPProbe) Reachable(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return false, fmt.Errorf("http probe: %w", err)
	}

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return false, nil
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if p.ExpectStatus != 0 {
		return resp.StatusCode == p.ExpectStatus, nil
	}
	return resp.StatusCode < http.StatusInternalServerError, nil
}

func (p HTTPProbe) String() string { return "http:" + p.URL }

// SwitchProbe is a settable reachability flag.
// OS network-change bridges and tests flip it with Set.
type SwitchProbe struct {
	on atomic.Bool
}

// NewSwitchProbe creates a switch in the given state.
func NewSwitchProbe(reachable bool) *SwitchProbe {
	p := &SwitchProbe{}
	p.on.Store(reachable)
	return p
}

// Set changes the reported state.
func (p *SwitchProbe) Set(reachable bool) {
	p.on.Store(reachable)
}

// Reachable implements Probe.
func (p *SwitchProbe) Reachable(context.Context) (bool, error) {
	return p.on.Load(), nil
}

func (p *SwitchProbe) String() string { return "switch" }

// AnyOf is reachable when any of its probes is, like a device that is online
// over wifi, cellular or ethernet.
// It errors only when every probe errored.
func AnyOf(probes ...Probe) Probe {
	return anyProbe(probes)
}

type anyProbe []Probe

func (a anyProbe) Reachable(ctx context.Context) (bool, error) {
	if len(a) == 0 {
		return false, errors.New("no probes configured")
	}

	var errs []error
	for _, p := range a {
		ok, err := p.Reachable(ctx)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			return true, nil
		}
	}
	if len(errs) == len(a) {
		return false, errors.Join(errs...)
	}
	return false, nil
}

func (a anyProbe) String() string { return fmt.Sprintf("any(%d)", len(a)) }

func probeName(p Probe) string {
	if s, ok := p.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%T", p)
}
