package connectivity_test

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emerband/relay/pkg/relay/connectivity"
)

func TestTCPProbe(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	ok, err := connectivity.TCPProbe{Address: addr}.Reachable(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	ln.Close()
	ok, err = connectivity.TCPProbe{Address: addr}.Reachable(context.Background())
	require.NoError(t, err, "a refused dial is offline, not a broken facility")
	assert.False(t, ok)

	_, err = connectivity.TCPProbe{}.Reachable(context.Background())
	assert.Error(t, err)
}

func TestHTTPProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/generate_204":
			w.WriteHeader(http.StatusNoContent)
		case "/down":
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	tests := []struct {
		name   string
		probe  connectivity.HTTPProbe
		want   bool
		hasErr bool
	}{
		{"expected status", connectivity.HTTPProbe{URL: srv.URL + "/generate_204", ExpectStatus: http.StatusNoContent}, true, false},
		{"wrong status", connectivity.HTTPProbe{URL: srv.URL + "/", ExpectStatus: http.StatusNoContent}, false, false},
		{"any non-5xx", connectivity.HTTPProbe{URL: srv.URL + "/"}, true, false},
		{"server error", connectivity.HTTPProbe{URL: srv.URL + "/down"}, false, false},
		{"bad url", connectivity.HTTPProbe{URL: "://nope"}, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := tt.probe.Reachable(context.Background())
			if tt.hasErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}

	srv.Close()
	ok, err := connectivity.HTTPProbe{URL: srv.URL}.Reachable(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSwitchProbe(t *testing.T) {
	sw := connectivity.NewSwitchProbe(false)
	ok, err := sw.Reachable(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	sw.Set(true)
	ok, _ = sw.Reachable(context.Background())
	assert.True(t, ok)
}

func TestAnyOf(t *testing.T) {
	on := connectivity.NewSwitchProbe(true)
	off := connectivity.NewSwitchProbe(false)
	broken := connectivity.ProbeFunc(func(context.Context) (bool, error) {
		return false, errors.New("radio missing")
	})
	ctx := context.Background()

	ok, err := connectivity.AnyOf(off, broken, on).Reachable(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = connectivity.AnyOf(off, broken).Reachable(ctx)
	require.NoError(t, err, "one working transport is enough to trust a false")
	assert.False(t, ok)

	_, err = connectivity.AnyOf(broken, broken).Reachable(ctx)
	assert.ErrorContains(t, err, "radio missing")

	_, err = connectivity.AnyOf().Reachable(ctx)
	assert.Error(t, err)
}
