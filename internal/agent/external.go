package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/neomars/usage-agent-windows/internal/payload"
)

const (
	updateStatusError   = "error"
	updateStatusUnknown = "unknown"
)

// ExternalCheck runs an operator-supplied probe (typically a PowerShell
// script reporting Windows Update compliance) and turns its JSON output into
// an update_status record body.
type ExternalCheck struct {
	command string
	timeout time.Duration
	log     zerolog.Logger
}

// NewExternalCheck returns nil when command is empty.
func NewExternalCheck(command string, timeout time.Duration, log zerolog.Logger) *ExternalCheck {
	command = strings.TrimSpace(command)
	if command == "" {
		return nil
	}
	return &ExternalCheck{command: command, timeout: timeout, log: log}
}

type probeOutput struct {
	WSUSServer             *string `json:"wsus_server"`
	LastScanTime           *string `json:"last_scan_time"`
	PendingSecurityUpdates *int    `json:"pending_security_updates_count"`
	RebootPending          *bool   `json:"reboot_pending"`
	OverallStatus          string  `json:"overall_status"`
	ScriptErrorMessage     *string `json:"script_error_message"`
}

// Run executes the probe. It never fails: a crash, timeout or unparsable
// output becomes a result with overall_status "error".
func (e *ExternalCheck) Run(ctx context.Context) payload.UpdateStatusRecord {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	name, args := shellCommand(e.command)
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.WaitDelay = 5 * time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	e.log.Debug().Dur("took", time.Since(start)).Int("stdout_bytes", stdout.Len()).Msg("external check finished")

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return failedProbe(fmt.Sprintf("external check timed out after %s", e.timeout))
	}
	if err != nil {
		msg := fmt.Sprintf("external check failed: %v", err)
		if s := strings.TrimSpace(stderr.String()); s != "" {
			msg += ": " + s
		}
		return failedProbe(msg)
	}
	return parseProbeOutput(stdout.Bytes())
}

func parseProbeOutput(out []byte) payload.UpdateStatusRecord {
	out = bytes.TrimSpace(out)
	if len(out) == 0 {
		return failedProbe("external check produced no output")
	}
	var p probeOutput
	if err := json.Unmarshal(out, &p); err != nil {
		return failedProbe(fmt.Sprintf("parsing external check output: %v", err))
	}
	if p.OverallStatus == "" {
		p.OverallStatus = updateStatusUnknown
	}
	return payload.UpdateStatusRecord{
		WSUSServer:             p.WSUSServer,
		LastScanTime:           p.LastScanTime,
		PendingSecurityUpdates: p.PendingSecurityUpdates,
		RebootPending:          p.RebootPending,
		OverallStatus:          p.OverallStatus,
		ScriptErrorMessage:     p.ScriptErrorMessage,
	}
}

func failedProbe(msg string) payload.UpdateStatusRecord {
	return payload.UpdateStatusRecord{OverallStatus: updateStatusError, ScriptErrorMessage: &msg}
}

func shellCommand(command string) (string, []string) {
	if runtime.GOOS == "windows" {
		return "powershell.exe", []string{"-NoProfile", "-NonInteractive", "-ExecutionPolicy", "Bypass", "-Command", command}
	}
	return "/bin/sh", []string{"-c", command}
}
