package health

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serverPort(t *testing.T, srv *httptest.Server) uint16 {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	p, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return uint16(p)
}

func TestProbeSendsAuthHeader(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/status" || r.Header.Get("x-api-key") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()
	port := serverPort(t, srv)
	c := NewChecker(time.Second)

	err := c.Probe(context.Background(), Request{Port: port, Path: "/api/status", AuthHeader: "x-api-key", APIKey: "secret"})
	assert.NoError(t, err)

	err = c.Probe(context.Background(), Request{Port: port, Path: "/api/status", AuthHeader: "x-api-key", APIKey: "wrong"})
	assert.True(t, errors.Is(err, ErrUnhealthy))
}

func TestProbeTimesOut(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	start := time.Now()
	err := NewChecker(time.Second).Probe(context.Background(), Request{Port: serverPort(t, srv), Path: "/", Timeout: 100 * time.Millisecond})
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestProbeNothingListening(t *testing.T) {
	t.Parallel()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := uint16(ln.Addr().(*net.TCPAddr).Port)
	require.NoError(t, ln.Close())

	assert.Error(t, NewChecker(200*time.Millisecond).Probe(context.Background(), Request{Port: port, Path: "/"}))
}

func TestCheckFallsBackToTCP(t *testing.T) {
	t.Parallel()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()

	got := NewChecker(500*time.Millisecond).Check(context.Background(), uint16(ln.Addr().(*net.TCPAddr).Port))
	assert.Equal(t, HealthOK, got.Status)
	assert.Contains(t, got.Message, "TCP")
}

func TestCategorizeResponse(t *testing.T) {
	t.Parallel()
	assert.Equal(t, HealthOK, categorizeResponse(15))
	assert.Equal(t, HealthSlow, categorizeResponse(2500))
	assert.Equal(t, HealthTimeout, categorizeResponse(6000))
}
