package agent

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neomars/usage-agent-windows/internal/logging"
)

func TestParseProbeOutput(t *testing.T) {
	r := parseProbeOutput([]byte(`{
		"wsus_server": "http://wsus.corp:8530",
		"last_scan_time": "2023-10-27T22:00:00",
		"pending_security_updates_count": 3,
		"reboot_pending": true,
		"overall_status": "updates_pending",
		"script_error_message": null
	}`))

	assert.Equal(t, "updates_pending", r.OverallStatus)
	require.NotNil(t, r.WSUSServer)
	assert.Equal(t, "http://wsus.corp:8530", *r.WSUSServer)
	require.NotNil(t, r.PendingSecurityUpdates)
	assert.Equal(t, 3, *r.PendingSecurityUpdates)
	require.NotNil(t, r.RebootPending)
	assert.True(t, *r.RebootPending)
	assert.Nil(t, r.ScriptErrorMessage)
}

func TestParseProbeOutputFailures(t *testing.T) {
	for _, in := range []string{"", "   ", "not json", `["array"]`} {
		r := parseProbeOutput([]byte(in))
		assert.Equal(t, updateStatusError, r.OverallStatus, in)
		require.NotNil(t, r.ScriptErrorMessage, in)
	}

	r := parseProbeOutput([]byte(`{"pending_security_updates_count": 0}`))
	assert.Equal(t, updateStatusUnknown, r.OverallStatus)
}

func TestNewExternalCheckDisabled(t *testing.T) {
	assert.Nil(t, NewExternalCheck("  ", time.Second, logging.Nop()))
}

func TestExternalCheckRun(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses /bin/sh")
	}
	check := NewExternalCheck(`echo '{"overall_status":"compliant","pending_security_updates_count":0}'`, 5*time.Second, logging.Nop())
	r := check.Run(context.Background())
	assert.Equal(t, "compliant", r.OverallStatus)
	require.NotNil(t, r.PendingSecurityUpdates)
	assert.Zero(t, *r.PendingSecurityUpdates)
}

func TestExternalCheckTimeout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses /bin/sh")
	}
	check := NewExternalCheck("sleep 5", 100*time.Millisecond, logging.Nop())
	r := check.Run(context.Background())
	assert.Equal(t, updateStatusError, r.OverallStatus)
	require.NotNil(t, r.ScriptErrorMessage)
	assert.Contains(t, *r.ScriptErrorMessage, "timed out")
}

func TestExternalCheckNonZeroExit(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses /bin/sh")
	}
	check := NewExternalCheck("echo broken >&2; exit 3", 5*time.Second, logging.Nop())
	r := check.Run(context.Background())
	assert.Equal(t, updateStatusError, r.OverallStatus)
	require.NotNil(t, r.ScriptErrorMessage)
	assert.Contains(t, *r.ScriptErrorMessage, "broken")
}
