package health

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"
)

// Health status levels
type HealthStatus string

const (
	HealthOK      HealthStatus = "ok"
	HealthSlow    HealthStatus = "slow"
	HealthTimeout HealthStatus = "timeout"
	HealthDown    HealthStatus = "down"
	HealthUnknown HealthStatus = "unknown"
)

// HealthCheck represents the result of a port health check
type HealthCheck struct {
	Port       uint16
	Status     HealthStatus
	ResponseMs int
	Message    string
	LastCheck  time.Time
}

// Request describes one liveness probe against a supervised tool.
type Request struct {
	Port       uint16
	Path       string
	AuthHeader string
	APIKey     string
	Timeout    time.Duration
}

// URL returns the loopback status URL for the request.
func (r Request) URL() string {
	return "http://" + net.JoinHostPort("127.0.0.1", strconv.Itoa(int(r.Port))) + r.Path
}

// Prober checks a supervised tool's status endpoint. A nil error means healthy.
type Prober interface {
	Probe(ctx context.Context, req Request) error
}

var ErrUnhealthy = errors.New("status endpoint returned non-success")

// Checker performs health checks on local ports
type Checker struct {
	timeout time.Duration
	client  *http.Client
}

// NewChecker creates a new health checker
func NewChecker(timeout time.Duration) *Checker {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &Checker{
		timeout: timeout,
		client: &http.Client{
			// Status endpoints answer directly; a redirect means something else owns the port.
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		},
	}
}

// Probe issues GET http://127.0.0.1:port/path with the API key header and
// succeeds on any 2xx answer.
func (c *Checker) Probe(ctx context.Context, req Request) error {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL(), nil)
	if err != nil {
		return err
	}
	if req.AuthHeader != "" && req.APIKey != "" {
		httpReq.Header.Set(req.AuthHeader, req.APIKey)
	}
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: HTTP %d", ErrUnhealthy, resp.StatusCode)
	}
	return nil
}

// Check performs a health check on a port
func (c *Checker) Check(ctx context.Context, port uint16) *HealthCheck {
	result := &HealthCheck{
		Port:      port,
		LastCheck: time.Now(),
	}

	// Try HTTP first
	if ok, ms := c.checkHTTP(ctx, port); ok {
		result.Status = categorizeResponse(ms)
		result.ResponseMs = ms
		result.Message = fmt.Sprintf("HTTP responding in %dms", ms)
		return result
	}

	// Fall back to TCP
	if ok, ms := c.checkTCP(ctx, port); ok {
		result.Status = categorizeResponse(ms)
		result.ResponseMs = ms
		result.Message = fmt.Sprintf("TCP responding in %dms", ms)
		return result
	}

	result.Status = HealthDown
	result.Message = "Port listening but no response"
	return result
}

func (c *Checker) checkHTTP(ctx context.Context, port uint16) (bool, int) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, Request{Port: port}.URL(), nil)
	if err != nil {
		return false, 0
	}
	start := time.Now()
	resp, err := c.client.Do(req)
	elapsed := int(time.Since(start).Milliseconds())
	if err != nil {
		return false, 0
	}
	defer resp.Body.Close()

	return true, elapsed
}

func (c *Checker) checkTCP(ctx context.Context, port uint16) (bool, int) {
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(int(port)))
	dialer := net.Dialer{Timeout: c.timeout}

	start := time.Now()
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	elapsed := int(time.Since(start).Milliseconds())
	if err != nil {
		return false, 0
	}
	defer conn.Close()

	return true, elapsed
}

// categorizeResponse categorizes response time into status
func categorizeResponse(ms int) HealthStatus {
	if ms > 5000 {
		return HealthTimeout
	}
	if ms > 2000 {
		return HealthSlow
	}
	return HealthOK
}

// StatusIcon returns an emoji for the health status
func StatusIcon(status HealthStatus) string {
	switch status {
	case HealthOK:
		return "✅"
	case HealthSlow:
		return "⚠️"
	case HealthTimeout:
		return "🐢"
	case HealthDown:
		return "❌"
	default:
		return "❓"
	}
}
