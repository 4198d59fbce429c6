package callback

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/devports/procwatch/pkg/logging"
)

const (
	DefaultTimeout       = 300 * time.Second
	DefaultShutdownDelay = 500 * time.Millisecond

	callbackPath = "/callback"
)

var (
	ErrBind            = errors.New("callback: cannot bind loopback listener")
	ErrCallbackTimeout = errors.New("callback: timed out waiting for redirect")
	ErrListenerClosed  = errors.New("callback: listener closed")
)

// Options configures a Listener.
type Options struct {
	ShutdownDelay time.Duration
	Logger        log.FieldLogger
}

// Listener is a single-use loopback HTTP server that captures one
// authorization redirect.
type Listener struct {
	id            string
	shutdownDelay time.Duration
	log           log.FieldLogger

	mu       sync.Mutex
	srv      *http.Server
	port     uint16
	result   *Result
	shutdown *time.Timer

	done      chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
}

// NewListener creates an unstarted listener.
func NewListener(opts Options) *Listener {
	if opts.ShutdownDelay <= 0 {
		opts.ShutdownDelay = DefaultShutdownDelay
	}
	id := uuid.NewString()
	return &Listener{
		id:            id,
		shutdownDelay: opts.ShutdownDelay,
		log:           logging.OrDiscard(opts.Logger).WithFields(log.Fields{"component": "callback", "listener_id": id}),
		done:          make(chan struct{}),
		closed:        make(chan struct{}),
	}
}

// Start binds 127.0.0.1 on an OS-assigned port and begins serving.
func (l *Listener) Start() (uint16, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	select {
	case <-l.closed:
		return 0, ErrListenerClosed
	default:
	}
	if l.srv != nil {
		return l.port, nil
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBind, err)
	}
	mux := http.NewServeMux()
	mux.HandleFunc(callbackPath, l.handleCallback)
	mux.HandleFunc("/", http.NotFound)

	l.srv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	l.port = uint16(ln.Addr().(*net.TCPAddr).Port)
	go func(srv *http.Server) {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.log.WithError(err).Warn("callback server stopped")
		}
	}(l.srv)

	l.log.WithField("port", l.port).Debug("callback listener started")
	return l.port, nil
}

// Port returns the bound port, or 0 before Start.
func (l *Listener) Port() uint16 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.port
}

// RedirectURI is the URI to register with the authorization request.
func (l *Listener) RedirectURI() string {
	return "http://" + net.JoinHostPort("127.0.0.1", strconv.Itoa(int(l.Port()))) + callbackPath
}

// AwaitResult blocks until the first callback arrives, the timeout elapses
// or ctx is done. Timeout and cancellation close the listener.
func (l *Listener) AwaitResult(ctx context.Context, timeout time.Duration) (*Result, error) {
	if l.Port() == 0 {
		return nil, fmt.Errorf("%w: not started", ErrListenerClosed)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-l.done:
		return l.captured(), nil
	case <-timer.C:
		_ = l.Close()
		return nil, ErrCallbackTimeout
	case <-ctx.Done():
		_ = l.Close()
		return nil, ctx.Err()
	case <-l.closed:
		if r := l.captured(); r != nil {
			return r, nil
		}
		return nil, ErrListenerClosed
	}
}

// Close stops the server and cancels any pending shutdown. Safe to call
// more than once.
func (l *Listener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.mu.Lock()
		if l.shutdown != nil {
			l.shutdown.Stop()
		}
		srv := l.srv
		l.mu.Unlock()

		close(l.closed)
		if srv != nil {
			err = srv.Close()
		}
		l.log.Debug("callback listener closed")
	})
	return err
}

func (l *Listener) captured() *Result {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.result == nil {
		return nil
	}
	r := *l.result
	return &r
}

func (l *Listener) handleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	l.mu.Lock()
	if l.result != nil {
		l.mu.Unlock()
		http.Error(w, "authorization already completed", http.StatusGone)
		return
	}
	q := r.URL.Query()
	res := &Result{
		Code:             q.Get("code"),
		State:            q.Get("state"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	}
	l.result = res
	l.shutdown = time.AfterFunc(l.shutdownDelay, func() { _ = l.Close() })
	l.mu.Unlock()
	close(l.done)

	l.log.WithField("provider_error", res.Error).Info("authorization callback received")

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if res.Error != "" || res.Code == "" {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = fmt.Fprintf(w, failurePage, html.EscapeString(res.describe()))
		return
	}
	_, _ = w.Write([]byte(successPage))
}

const successPage = `<!doctype html>
<html><head><meta charset="utf-8"><title>Signed in</title></head>
<body style="font-family: system-ui, sans-serif; text-align: center; margin-top: 15vh">
<h1>Authorization complete</h1>
<p>You can close this window and return to the app.</p>
</body></html>
`

const failurePage = `<!doctype html>
<html><head><meta charset="utf-8"><title>Sign-in failed</title></head>
<body style="font-family: system-ui, sans-serif; text-align: center; margin-top: 15vh">
<h1>Authorization failed</h1>
<p>%s</p>
<p>You can close this window and try again from the app.</p>
</body></html>
`
