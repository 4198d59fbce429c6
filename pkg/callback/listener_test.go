package callback

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startListener(t *testing.T) *Listener {
	t.Helper()
	l := NewListener(Options{ShutdownDelay: 100 * time.Millisecond})
	port, err := l.Start()
	require.NoError(t, err)
	require.NotZero(t, port)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func listening(port uint16) bool {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(int(port))), 100*time.Millisecond)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

func TestRedirectURI(t *testing.T) {
	t.Parallel()
	l := startListener(t)
	assert.Equal(t, "http://127.0.0.1:"+strconv.Itoa(int(l.Port()))+"/callback", l.RedirectURI())
}

func TestAwaitResultCapturesFirstCallback(t *testing.T) {
	t.Parallel()
	l := startListener(t)

	code, body := get(t, l.RedirectURI()+"?code=abc&state=xyz")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "Authorization complete")

	res, err := l.AwaitResult(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, &Result{Code: "abc", State: "xyz"}, res)

	require.Eventually(t, func() bool { return !listening(l.Port()) }, 2*time.Second, 20*time.Millisecond,
		"listener shuts itself down after responding")
}

func TestLaterCallbacksAreGone(t *testing.T) {
	t.Parallel()
	l := NewListener(Options{ShutdownDelay: 2 * time.Second})
	_, err := l.Start()
	require.NoError(t, err)
	defer l.Close()

	status, _ := get(t, l.RedirectURI()+"?code=first&state=s")
	require.Equal(t, http.StatusOK, status)
	status, _ = get(t, l.RedirectURI()+"?code=second&state=s")
	assert.Equal(t, http.StatusGone, status)

	res, err := l.AwaitResult(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "first", res.Code)
}

func TestProviderErrorPage(t *testing.T) {
	t.Parallel()
	l := startListener(t)

	status, body := get(t, l.RedirectURI()+"?error=access_denied&error_description=%3Cb%3Enope%3C%2Fb%3E&state=s")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, body, "access_denied")
	assert.Contains(t, body, "&lt;b&gt;nope&lt;/b&gt;")

	res, err := l.AwaitResult(context.Background(), time.Second)
	require.NoError(t, err)
	var pe *ProviderError
	require.True(t, errors.As(res.Validate("s"), &pe))
	assert.Equal(t, "access_denied", pe.Code)
}

func TestOtherRequestsDoNotResolve(t *testing.T) {
	t.Parallel()
	l := startListener(t)

	status, _ := get(t, "http://127.0.0.1:"+strconv.Itoa(int(l.Port()))+"/favicon.ico")
	assert.Equal(t, http.StatusNotFound, status)

	resp, err := http.Post(l.RedirectURI()+"?code=abc&state=xyz", "text/plain", strings.NewReader(""))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	_, err = l.AwaitResult(context.Background(), 200*time.Millisecond)
	assert.ErrorIs(t, err, ErrCallbackTimeout)
}

func TestAwaitResultTimeoutClosesListener(t *testing.T) {
	t.Parallel()
	l := startListener(t)
	port := l.Port()

	begin := time.Now()
	res, err := l.AwaitResult(context.Background(), 200*time.Millisecond)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrCallbackTimeout)
	assert.Less(t, time.Since(begin), 2*time.Second)
	assert.False(t, listening(port))
}

func TestAwaitResultContextCancel(t *testing.T) {
	t.Parallel()
	l := startListener(t)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)
	_, err := l.AwaitResult(ctx, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCloseIsIdempotent(t *testing.T) {
	t.Parallel()
	l := startListener(t)

	require.NoError(t, l.Close())
	assert.NoError(t, l.Close())

	_, err := l.AwaitResult(context.Background(), time.Second)
	assert.ErrorIs(t, err, ErrListenerClosed)
	_, err = l.Start()
	assert.ErrorIs(t, err, ErrListenerClosed)
}

func TestAwaitResultBeforeStart(t *testing.T) {
	t.Parallel()
	_, err := NewListener(Options{}).AwaitResult(context.Background(), time.Second)
	assert.ErrorIs(t, err, ErrListenerClosed)
}
