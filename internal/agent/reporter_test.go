package agent

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neomars/usage-agent-windows/internal/logging"
)

func TestReporterDelivers(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/log_activity", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		b, _ := io.ReadAll(r.Body)
		got = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	addr := strings.TrimPrefix(srv.URL, "http://")
	r := NewReporter(addr, time.Second, logging.Nop())
	require.True(t, r.Enabled())

	d := r.Send(context.Background(), []byte(`{"log_type":"ping"}`))
	assert.True(t, d.Delivered)
	assert.Equal(t, ReasonNone, d.Reason)
	assert.Equal(t, `{"log_type":"ping"}`, got)
}

func TestReporterHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	d := NewReporter(srv.URL, time.Second, logging.Nop()).Send(context.Background(), []byte("{}"))
	assert.False(t, d.Delivered)
	assert.Equal(t, ReasonHTTPError, d.Reason)
	assert.Equal(t, http.StatusNotFound, d.StatusCode)
}

func TestReporterTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	d := NewReporter(srv.URL, 50*time.Millisecond, logging.Nop()).Send(context.Background(), []byte("{}"))
	assert.False(t, d.Delivered)
	assert.Equal(t, ReasonTimeout, d.Reason)
}

func TestReporterConnectionError(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	d := NewReporter(addr, time.Second, logging.Nop()).Send(context.Background(), []byte("{}"))
	assert.False(t, d.Delivered)
	assert.Equal(t, ReasonConnectionError, d.Reason)
	assert.Error(t, d.Err)
}

func TestReporterDisabled(t *testing.T) {
	r := NewReporter("  ", time.Second, logging.Nop())
	assert.False(t, r.Enabled())
	assert.Empty(t, r.URL())

	d := r.Send(context.Background(), []byte("{}"))
	assert.False(t, d.Delivered)
	assert.Equal(t, ReasonDisabled, d.Reason)
	assert.Equal(t, "failed (disabled)", d.String())
}

func TestReporterURL(t *testing.T) {
	assert.Equal(t, "http://10.0.0.1:5000/log_activity", NewReporter("10.0.0.1:5000", time.Second, logging.Nop()).URL())
	assert.Equal(t, "https://collector.local/log_activity", NewReporter("https://collector.local/", time.Second, logging.Nop()).URL())
}
