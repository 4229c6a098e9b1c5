// Package trialprof converts benchmark trials into a pprof profile so the
// time spent in each session phase can be explored with `go tool pprof`.
//
// Every trial contributes one sample per phase. The stack of a sample is
//
//	bootcheck → warmup|measure → create|add-drive|launch|close
//
// with the trial count and the phase wall time as sample values.
package trialprof

import (
	"fmt"
	"os"
	"time"

	"github.com/google/pprof/profile"

	"github.com/perfgo/bootcheck/bench"
)

const rootFunction = "bootcheck"

// Builder accumulates trials into a profile.
type Builder struct {
	profile   *profile.Profile
	functions map[string]*profile.Function
	locations map[string]*profile.Location
}

// New returns an empty Builder. start is recorded as the profile time.
func New(start time.Time) *Builder {
	return &Builder{
		profile: &profile.Profile{
			SampleType: []*profile.ValueType{
				{Type: "trials", Unit: "count"},
				{Type: "wall", Unit: "nanoseconds"},
			},
			DefaultSampleType: "wall",
			PeriodType:        &profile.ValueType{Type: "wall", Unit: "nanoseconds"},
			Period:            1,
			TimeNanos:         start.UnixNano(),
		},
		functions: make(map[string]*profile.Function),
		locations: make(map[string]*profile.Location),
	}
}

// Add records the phases of one trial. Phases that took no time are
// skipped.
func (b *Builder) Add(t bench.Trial) {
	kind := "measure"
	if t.Warmup {
		kind = "warmup"
	}

	phases := []struct {
		name string
		d    time.Duration
	}{
		{"create", t.Create},
		{"add-drive", t.AddDrive},
		{"launch", t.Launch},
		{"close", t.Close},
	}
	for _, phase := range phases {
		if phase.d <= 0 {
			continue
		}
		b.profile.Sample = append(b.profile.Sample, &profile.Sample{
			// Leaf first.
			Location: []*profile.Location{
				b.getOrCreateLocation(phase.name),
				b.getOrCreateLocation(kind),
				b.getOrCreateLocation(rootFunction),
			},
			Value:    []int64{1, int64(phase.d)},
			Label:    map[string][]string{"kind": {kind}, "phase": {phase.name}},
			NumLabel: map[string][]int64{"pass": {int64(t.Index + 1)}},
		})
		b.profile.DurationNanos += int64(phase.d)
	}
}

// Profile returns the built profile.
func (b *Builder) Profile() *profile.Profile {
	return b.profile
}

func (b *Builder) getOrCreateLocation(name string) *profile.Location {
	if loc, exists := b.locations[name]; exists {
		return loc
	}
	loc := &profile.Location{
		ID:   uint64(len(b.profile.Location) + 1),
		Line: []profile.Line{{Function: b.getOrCreateFunction(name)}},
	}
	b.locations[name] = loc
	b.profile.Location = append(b.profile.Location, loc)
	return loc
}

func (b *Builder) getOrCreateFunction(name string) *profile.Function {
	if fn, exists := b.functions[name]; exists {
		return fn
	}
	fn := &profile.Function{
		ID:         uint64(len(b.profile.Function) + 1),
		Name:       name,
		SystemName: name,
	}
	b.functions[name] = fn
	b.profile.Function = append(b.profile.Function, fn)
	return fn
}

// Build is a shorthand for New, Add for every trial and Profile.
func Build(start time.Time, trials []bench.Trial) *profile.Profile {
	b := New(start)
	for _, t := range trials {
		b.Add(t)
	}
	return b.Profile()
}

// WriteFile writes p gzip-compressed to path.
func WriteFile(path string, p *profile.Profile) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create profile: %w", err)
	}
	if err := p.Write(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write profile: %w", err)
	}
	return f.Close()
}
