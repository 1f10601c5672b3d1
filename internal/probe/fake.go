package probe

import (
	"context"

	"github.com/gpusched/gpusched/internal/core"
)

// FakeProbe is a deterministic Prober for tests. It returns whatever
// Records/Err are set at call time, so a test can flip GPU availability or
// simulate an outage between ticks.
type FakeProbe struct {
	Records []core.GPURecord
	Err     error
}

// NewFakeProbe returns a FakeProbe seeded with records.
func NewFakeProbe(records ...core.GPURecord) *FakeProbe {
	return &FakeProbe{Records: records}
}

// Snapshot implements Prober.
func (f *FakeProbe) Snapshot(_ context.Context) ([]core.GPURecord, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	out := make([]core.GPURecord, len(f.Records))
	copy(out, f.Records)
	return out, nil
}
