package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// FailureReason classifies an undelivered record.
type FailureReason string

const (
	ReasonNone            FailureReason = ""
	ReasonHTTPError       FailureReason = "http_error"
	ReasonConnectionError FailureReason = "connection_error"
	ReasonTimeout         FailureReason = "timeout"
	ReasonOther           FailureReason = "other"
	ReasonDisabled        FailureReason = "disabled"
)

// Delivery is the outcome of one send attempt.
type Delivery struct {
	Delivered  bool
	Reason     FailureReason
	StatusCode int
	Err        error
}

func (d Delivery) String() string {
	if d.Delivered {
		return "delivered"
	}
	if d.Err != nil {
		return fmt.Sprintf("failed (%s): %v", d.Reason, d.Err)
	}
	return fmt.Sprintf("failed (%s)", d.Reason)
}

const ingestPath = "/log_activity"

// Reporter posts one serialized record per call. There is no retry and no
// queue; a failed send is reported to the caller and forgotten.
type Reporter struct {
	url    string
	client *http.Client
	log    zerolog.Logger
}

// NewReporter targets addr ("host:port" or a full http(s) base URL). An empty
// addr yields a disabled reporter that never touches the network.
func NewReporter(addr string, timeout time.Duration, log zerolog.Logger) *Reporter {
	r := &Reporter{log: log}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return r
	}
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		addr = "http://" + addr
	}
	r.url = strings.TrimRight(addr, "/") + ingestPath
	r.client = &http.Client{Timeout: timeout}
	return r
}

// Enabled reports whether a server address is configured.
func (r *Reporter) Enabled() bool { return r.client != nil }

// URL is the ingestion endpoint, empty when disabled.
func (r *Reporter) URL() string { return r.url }

// Send posts body and classifies the outcome.
func (r *Reporter) Send(ctx context.Context, body []byte) Delivery {
	if !r.Enabled() {
		return Delivery{Reason: ReasonDisabled}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return Delivery{Reason: ReasonOther, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return Delivery{Reason: classify(err), Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode >= 400 {
		return Delivery{
			Reason:     ReasonHTTPError,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("server returned %d", resp.StatusCode),
		}
	}
	return Delivery{Delivered: true, StatusCode: resp.StatusCode}
}

func classify(err error) FailureReason {
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return ReasonTimeout
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ReasonConnectionError
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ReasonConnectionError
	}
	return ReasonOther
}
