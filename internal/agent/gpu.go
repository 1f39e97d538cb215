package agent

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

var errNoSample = errors.New("provider returned no sample")

const nvidiaSMI = "nvidia-smi"

// gpuProvider reports utilisation of the busiest NVIDIA GPU via nvidia-smi.
// Hosts without the tool get an unavailable capability.
func gpuProvider() Capability[MetricProvider] {
	path, err := exec.LookPath(nvidiaSMI)
	if err != nil {
		return Unavailable[MetricProvider]()
	}
	return Available[MetricProvider](MetricFunc(func(ctx context.Context) (float64, error) {
		out, err := exec.CommandContext(ctx, path,
			"--query-gpu=utilization.gpu", "--format=csv,noheader,nounits").Output()
		if err != nil {
			return 0, fmt.Errorf("running %s: %w", nvidiaSMI, err)
		}
		return parseGPUUtilisation(string(out))
	}))
}

// parseGPUUtilisation takes one percentage per line and returns the maximum.
func parseGPUUtilisation(out string) (float64, error) {
	var (
		peak  float64
		found bool
	)
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		v, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return 0, fmt.Errorf("parsing gpu utilisation %q: %w", line, err)
		}
		if !found || v > peak {
			peak = v
			found = true
		}
	}
	if !found {
		return 0, errNoSample
	}
	return peak, nil
}
