package sampler

import (
	"bytes"
	"context"
	"fmt"
	"runtime/pprof"
	"sort"

	"github.com/google/pprof/profile"

	"github.com/t77yq/healthwatch/internal/model"
)

// HeapAllocationTracker reports the largest live allocation sites of this process from
// the runtime heap profile. Figures are as of the most recent garbage collection.
type HeapAllocationTracker struct {
	writeProfile func(buf *bytes.Buffer) error
}

// NewHeapAllocationTracker creates a tracker reading the runtime heap profile
func NewHeapAllocationTracker() *HeapAllocationTracker {
	return &HeapAllocationTracker{
		writeProfile: func(buf *bytes.Buffer) error {
			return pprof.Lookup("heap").WriteTo(buf, 0)
		},
	}
}

// Snapshot implements diagnostics.AllocationTracker
func (t *HeapAllocationTracker) Snapshot(ctx context.Context, topN int) ([]model.AllocationSite, error) {
	var buf bytes.Buffer
	if err := t.writeProfile(&buf); err != nil {
		return nil, fmt.Errorf("failed to write heap profile: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p, err := profile.Parse(&buf)
	if err != nil {
		return nil, fmt.Errorf("failed to parse heap profile: %w", err)
	}
	return topAllocationSites(p, topN)
}

func topAllocationSites(p *profile.Profile, topN int) ([]model.AllocationSite, error) {
	spaceIdx, objectsIdx := -1, -1
	for i, st := range p.SampleType {
		switch st.Type {
		case "inuse_space":
			spaceIdx = i
		case "inuse_objects":
			objectsIdx = i
		}
	}
	if spaceIdx < 0 {
		return nil, fmt.Errorf("heap profile has no inuse_space samples")
	}

	type site struct {
		bytes   int64
		objects int64
	}
	sites := make(map[string]*site)

	for _, sample := range p.Sample {
		location := sampleLocation(sample)
		s, ok := sites[location]
		if !ok {
			s = &site{}
			sites[location] = s
		}
		s.bytes += sample.Value[spaceIdx]
		if objectsIdx >= 0 {
			s.objects += sample.Value[objectsIdx]
		}
	}

	out := make([]model.AllocationSite, 0, len(sites))
	for location, s := range sites {
		if s.bytes <= 0 {
			continue
		}
		out = append(out, model.AllocationSite{
			Location: location,
			SizeMB:   float64(s.bytes) / bytesPerMB,
			Count:    s.objects,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].SizeMB != out[j].SizeMB {
			return out[i].SizeMB > out[j].SizeMB
		}
		return out[i].Location < out[j].Location
	})
	if len(out) > topN {
		out = out[:topN]
	}
	return out, nil
}

// sampleLocation names the innermost frame of a sample as function (file:line)
func sampleLocation(sample *profile.Sample) string {
	if len(sample.Location) == 0 || len(sample.Location[0].Line) == 0 {
		return "unknown"
	}
	line := sample.Location[0].Line[0]
	if line.Function == nil {
		return "unknown"
	}
	return fmt.Sprintf("%s (%s:%d)", line.Function.Name, line.Function.Filename, line.Line)
}
