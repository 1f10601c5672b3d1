// Package probe reads the current GPU inventory of the host.
package probe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/gpusched/gpusched/internal/core"
)

// Prober produces a GPU inventory snapshot. Implementations may fail; the
// scheduling tick treats a failed snapshot as "inventory unknown" and skips
// that tick rather than acting on stale or partial data.
type Prober interface {
	Snapshot(ctx context.Context) ([]core.GPURecord, error)
}

const queryTimeout = 5 * time.Second

// NvidiaSMIProbe shells out to nvidia-smi and parses its CSV output.
type NvidiaSMIProbe struct {
	// Binary is the executable name or path to invoke. Defaults to
	// "nvidia-smi" when empty.
	Binary string
}

// NewNvidiaSMIProbe returns a probe that queries the given binary, defaulting
// to "nvidia-smi" on PATH.
func NewNvidiaSMIProbe(binary string) *NvidiaSMIProbe {
	if binary == "" {
		binary = "nvidia-smi"
	}
	return &NvidiaSMIProbe{Binary: binary}
}

// Snapshot runs nvidia-smi with a fixed --query-gpu flag set and parses the
// CSV rows into GPU records. Rows with missing numeric fields become nil
// fields in the record; a row missing a name is dropped since name is the
// admission matching key. A row with fewer than three columns or a
// non-integer index fails the whole snapshot.
func (p *NvidiaSMIProbe) Snapshot(ctx context.Context) ([]core.GPURecord, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.Binary,
		"--query-gpu=index,uuid,name,memory.total,memory.used,utilization.gpu",
		"--format=csv,noheader,nounits",
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return nil, fmt.Errorf("probe: %s not found on PATH: %w", p.Binary, err)
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("probe: %s exited with error: %s", p.Binary, msg)
	}

	return parseCSV(stdout.String())
}

func parseCSV(output string) ([]core.GPURecord, error) {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	records := make([]core.GPURecord, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Split(line, ",")
		for i := range fields {
			fields[i] = strings.TrimSpace(fields[i])
		}
		if len(fields) < 3 {
			return nil, fmt.Errorf("probe: unparseable row %q: expected at least 3 columns", line)
		}
		index, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, fmt.Errorf("probe: unparseable row %q: bad index: %w", line, err)
		}
		name := fields[2]
		if name == "" {
			continue
		}
		rec := core.GPURecord{
			Index:     index,
			UUID:      fields[1],
			ModelName: name,
		}
		if len(fields) > 3 {
			rec.MemoryTotalMiB = parseOptionalInt(fields[3])
		}
		if len(fields) > 4 {
			rec.MemoryUsedMiB = parseOptionalInt(fields[4])
		}
		if len(fields) > 5 {
			rec.UtilizationPct = parseOptionalInt(fields[5])
		}
		records = append(records, rec)
	}
	return records, nil
}

func parseOptionalInt(field string) *int {
	field = strings.TrimSpace(field)
	if field == "" || field == "N/A" || field == "[N/A]" {
		return nil
	}
	v, err := strconv.Atoi(field)
	if err != nil {
		return nil
	}
	return &v
}
