/*
Copyright © 2024 the SMB authors.
This file is part of SMB.

SMB is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

SMB is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with SMB.  If not, see <http://www.gnu.org/licenses/>.
*/

package smb

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/ctessum/unit"
)

// testConfig returns a four-zone, eight-column plant with one component
// and a two-cycle run.
func testConfig(t *testing.T, s Solver) SimulationConfig {
	cs, err := NewComponentSystem("A")
	if err != nil {
		t.Fatal(err)
	}
	m2s := unit.Dimensions{unit.LengthDim: 2, unit.TimeDim: -1}
	g, err := NewColumnGeometry(ColumnSpec{
		Length:           unit.New(0.536, unit.Meter),
		Diameter:         unit.New(2.6e-2, unit.Meter),
		BedPorosity:      0.38,
		ParticlePorosity: 1e-5,
		ParticleRadius:   unit.New(1.63e-3, unit.Meter),
		FilmDiffusion:    []*unit.Unit{unit.New(1.6e4, unit.MeterPerSecond)},
		PoreDiffusion:    []*unit.Unit{unit.New(5e-5, m2s)},
		AxialDispersion:  unit.New(3.81e-6, m2s),
		AxialCells:       3,
	}, cs)
	if err != nil {
		t.Fatal(err)
	}
	top, err := fourZoneBuilder().Build()
	if err != nil {
		t.Fatal(err)
	}
	opts := DefaultSolverOptions()
	opts.TimeResolution = 2
	return SimulationConfig{
		Components: cs,
		Column:     g,
		Binding:    &Linear{IsKinetic: true, AdsorptionRate: []float64{1}, DesorptionRate: []float64{1}},
		Topology:   top,
		Boundary:   fourZoneBoundary,
		Profiles:   map[string]Profile{FeedInlet: ConstantProfile{1}},
		SwitchTime: 100,
		NumCycles:  2,
		Solver:     s,
		Options:    opts,
	}
}

// call is one solver call seen by a recorder.
type call struct {
	column   int
	flowRate float64
}

// recorder is a solver that passes the inlet through unchanged and
// counts the intervals each column was solved in. The first bulk value
// of each column holds 100*ID plus that count.
type recorder struct {
	mu    sync.Mutex
	calls []call
	fail  func(n int) error // called with the call number
}

func (r *recorder) SolveInterval(ctx context.Context, req *IntervalRequest) (*IntervalResult, error) {
	r.mu.Lock()
	n := len(r.calls)
	id := int(req.Initial.Bulk[0][0]) / 100
	r.calls = append(r.calls, call{column: id, flowRate: req.Inlet.FlowRate})
	r.mu.Unlock()
	if r.fail != nil {
		if err := r.fail(n); err != nil {
			return nil, err
		}
	}
	final := req.Initial.Clone()
	final.Bulk[0][0]++
	return &IntervalResult{Final: final, Outlet: req.Inlet.Concentration.Clone()}, nil
}

func startMarked(t *testing.T, s *Simulation) *SchedulerState {
	st, err := s.Start(nil)
	if err != nil {
		t.Fatal(err)
	}
	for i, c := range st.Columns {
		c.State.Bulk[0][0] = float64(100 * i)
	}
	return st
}

func count(c *Column) int { return int(c.State.Bulk[0][0]) % 100 }

func TestRotation(t *testing.T) {
	r := new(recorder)
	cfg := testConfig(t, r)
	cfg.NumCycles = 6
	s, err := NewSimulation(cfg)
	if err != nil {
		t.Fatal(err)
	}
	st := startMarked(t, s)
	if err := s.Step(context.Background(), st); err != nil {
		t.Fatal(err)
	}
	want := []int{1, 2, 3, 4, 5, 6, 7, 0}
	for i, id := range st.Assignment() {
		if id != want[i] {
			t.Fatalf("assignment after one switch %v, want %v", st.Assignment(), want)
		}
	}
	if z, pos, _ := st.ZoneOf(0); z.Name != "zone_IV" || pos != 1 {
		t.Errorf("column 0 is in %s position %d after one switch", z.Name, pos)
	}
	if err := s.Run(context.Background(), st); err != nil {
		t.Fatal(err)
	}
	if st.Interval != 48 || st.Phase != Completed {
		t.Errorf("interval %d phase %s", st.Interval, st.Phase)
	}
	for i, id := range st.Assignment() {
		if i != id {
			t.Errorf("after 48 switches slot %d holds column %d", i, id)
		}
	}
}

func TestColumnsKeepTheirState(t *testing.T) {
	r := new(recorder)
	s, err := NewSimulation(testConfig(t, r))
	if err != nil {
		t.Fatal(err)
	}
	st := startMarked(t, s)
	if err := s.Run(context.Background(), st); err != nil {
		t.Fatal(err)
	}
	n := st.Interval
	for id, c := range st.Columns {
		if c.ID != id || count(c) != n || int(c.State.Bulk[0][0])/100 != id {
			t.Errorf("column %d has value %g after %d intervals", id, c.State.Bulk[0][0], n)
		}
	}
	// Every column visits every slot, in the zone that holds the slot.
	top := s.Config().Topology
	nCols := top.NumColumns()
	for k := 0; k < n; k++ {
		seen := make(map[int]bool)
		for _, c := range r.calls[k*nCols : (k+1)*nCols] {
			seen[c.column] = true
			slot := ((c.column-k)%nCols + nCols) % nCols
			z, _ := top.SlotZone(slot)
			if q := s.Flows().ZoneFlow(z.Name); q != c.flowRate {
				t.Errorf("interval %d: column %d solved with flow %g, want %s flow %g",
					k, c.column, c.flowRate, z.Name, q)
			}
		}
		if len(seen) != nCols {
			t.Errorf("interval %d: %d distinct columns solved", k, len(seen))
		}
	}
}

func TestRotateKeepsColumns(t *testing.T) {
	s, err := NewSimulation(testConfig(t, new(recorder)))
	if err != nil {
		t.Fatal(err)
	}
	st := startMarked(t, s)
	states := st.states()
	st.rotate()
	for id, c := range st.Columns {
		if c.State != states[id] {
			t.Errorf("column %d has a new state after switching", id)
		}
	}
	want := []int{1, 2, 3, 4, 5, 6, 7, 0}
	for i, id := range st.Assignment() {
		if id != want[i] {
			t.Fatalf("assignment %v, want %v", st.Assignment(), want)
		}
	}
	if c := st.ColumnAt(7); c != st.Columns[0] {
		t.Errorf("slot 7 holds column %d", c.ID)
	}
}

func TestFailedCommit(t *testing.T) {
	s, err := NewSimulation(testConfig(t, new(recorder)))
	if err != nil {
		t.Fatal(err)
	}
	st := startMarked(t, s)
	for i := 0; i < 2; i++ {
		if err := s.Step(context.Background(), st); err != nil {
			t.Fatal(err)
		}
	}
	// An eluent record that ends in the future cannot be extended.
	e := st.Results.Inlets[EluentInlet]
	e.Times[len(e.Times)-1] = 1e9
	outLen := make(map[string]int)
	for name, tr := range st.Results.Outlets {
		outLen[name] = tr.Len()
	}
	assignment := st.Assignment()

	if err := s.Step(context.Background(), st); err == nil {
		t.Fatal("step should fail")
	}
	if st.Phase != Failed {
		t.Errorf("phase %s", st.Phase)
	}
	if n := st.Results.NumIntervals(); n != 2 {
		t.Errorf("%d intervals in the results, want 2", n)
	}
	for id, c := range st.Columns {
		if count(c) != 2 {
			t.Errorf("column %d has been advanced %d times", id, count(c))
		}
	}
	for name, tr := range st.Results.Outlets {
		if tr.Len() != outLen[name] {
			t.Errorf("outlet %s grew from %d to %d samples", name, outLen[name], tr.Len())
		}
	}
	for i, id := range st.Assignment() {
		if id != assignment[i] {
			t.Fatalf("assignment %v, want %v", st.Assignment(), assignment)
		}
	}
}

func TestParallel(t *testing.T) {
	r := new(recorder)
	cfg := testConfig(t, r)
	cfg.Parallel = true
	s, err := NewSimulation(cfg)
	if err != nil {
		t.Fatal(err)
	}
	st := startMarked(t, s)
	if err := s.Run(context.Background(), st); err != nil {
		t.Fatal(err)
	}
	if st.Phase != Completed || len(r.calls) != 16*8 {
		t.Errorf("phase %s with %d calls", st.Phase, len(r.calls))
	}
	for id, c := range st.Columns {
		if count(c) != 16 {
			t.Errorf("column %d solved %d times", id, count(c))
		}
	}
	// The feed reaches the raffinate in the first interval. The extract
	// is fed by zone IV, whose outlet is not known yet.
	if v := st.Results.Outlets["raffinate"].Values[0][0]; v <= 0 {
		t.Errorf("raffinate concentration %g", v)
	}
	if v := st.Results.Outlets["extract"].Values[0][0]; v != 0 {
		t.Errorf("extract concentration %g in the first interval", v)
	}
}

func TestPassThroughMixing(t *testing.T) {
	// With a pass-through solver the serial schedule carries the feed
	// around the loop within one interval.
	s, err := NewSimulation(testConfig(t, new(recorder)))
	if err != nil {
		t.Fatal(err)
	}
	st, err := s.Start(nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Step(context.Background(), st); err != nil {
		t.Fatal(err)
	}
	fs := s.Flows()
	feed, eluent := 2e-8, 4.14e-8
	qIII := fs.ZoneFlow("zone_III")
	if v := st.Results.Outlets["raffinate"].Values[0][0]; math.Abs(v-feed/qIII) > 1e-12 {
		t.Errorf("raffinate %g, want %g", v, feed/qIII)
	}
	// Zone I receives the eluent and the solvent in zone IV from the
	// previous (first) interval.
	if v := st.Results.Outlets["extract"].Values[0][0]; v != 0 {
		t.Errorf("extract %g, want 0", v)
	}
	if err := s.Step(context.Background(), st); err != nil {
		t.Fatal(err)
	}
	qI, qIV := fs.ZoneFlow("zone_I"), fs.ZoneFlow("zone_IV")
	want := (feed / qIII) * qIV / (qIV + eluent)
	if v := st.Results.Outlets["extract"].Values[0][3]; math.Abs(v-want) > 1e-12 || math.Abs(qI-qIV-eluent) > 1e-20 {
		t.Errorf("extract %g, want %g", v, want)
	}
}

func TestDivergence(t *testing.T) {
	r := &recorder{fail: func(n int) error {
		if n == 2*8+3 {
			return errors.New("step size too small")
		}
		return nil
	}}
	s, err := NewSimulation(testConfig(t, r))
	if err != nil {
		t.Fatal(err)
	}
	st := startMarked(t, s)
	err = s.Run(context.Background(), st)
	if !errors.Is(err, ErrDiverged) {
		t.Fatalf("have error %v, want %v", err, ErrDiverged)
	}
	var de *SolverDivergenceError
	if !errors.As(err, &de) || de.Interval != 2 {
		t.Errorf("error %v should name interval 2", err)
	}
	if st.Phase != Failed || st.Err != err {
		t.Errorf("phase %s, error %v", st.Phase, st.Err)
	}
	if n := st.Results.NumIntervals(); n != 2 {
		t.Errorf("%d intervals in the results, want 2", n)
	}
	for id, c := range st.Columns {
		if count(c) != 2 {
			t.Errorf("column %d has been advanced %d times", id, count(c))
		}
	}
	if err := s.Step(context.Background(), st); err == nil {
		t.Error("a failed run should not step")
	}
}

func TestIncompleteResult(t *testing.T) {
	s, err := NewSimulation(testConfig(t, SolverFunc(func(ctx context.Context, req *IntervalRequest) (*IntervalResult, error) {
		return &IntervalResult{Final: NewColumnState(1, 1, 2), Outlet: req.Inlet.Concentration}, nil
	})))
	if err != nil {
		t.Fatal(err)
	}
	st, err := s.Start(nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Run(context.Background(), st); !errors.Is(err, ErrDiverged) {
		t.Errorf("a result of the wrong shape should fail the run, have %v", err)
	}
}

func TestTimeout(t *testing.T) {
	cfg := testConfig(t, SolverFunc(func(ctx context.Context, req *IntervalRequest) (*IntervalResult, error) {
		time.Sleep(time.Second)
		return nil, fmt.Errorf("too late")
	}))
	cfg.Options.Timeout = 20 * time.Millisecond
	s, err := NewSimulation(cfg)
	if err != nil {
		t.Fatal(err)
	}
	st, err := s.Start(nil)
	if err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	err = s.Run(context.Background(), st)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("have error %v, want %v", err, ErrTimeout)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("the run waited for the abandoned call")
	}
	if st.Phase != Failed || st.Results.NumIntervals() != 0 {
		t.Errorf("phase %s, %d intervals", st.Phase, st.Results.NumIntervals())
	}
}

func TestCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := &recorder{fail: func(n int) error {
		if n == 8+2 {
			cancel()
		}
		return nil
	}}
	s, err := NewSimulation(testConfig(t, r))
	if err != nil {
		t.Fatal(err)
	}
	st := startMarked(t, s)
	if err := s.Run(ctx, st); err != ErrCancelled {
		t.Fatalf("have error %v, want %v", err, ErrCancelled)
	}
	if st.Phase != Cancelled || st.Interval != 1 || st.Results.NumIntervals() != 1 {
		t.Errorf("phase %s at interval %d", st.Phase, st.Interval)
	}
	for id, c := range st.Columns {
		if count(c) != 1 {
			t.Errorf("column %d has been advanced %d times", id, count(c))
		}
	}
}

func TestCyclicSteadyState(t *testing.T) {
	// A solver that always returns the same state converges after the
	// second cycle.
	cfg := testConfig(t, SolverFunc(func(ctx context.Context, req *IntervalRequest) (*IntervalResult, error) {
		final := NewColumnState(1, 1, 3)
		final.Bulk[0] = []float64{1, 2, 3}
		return &IntervalResult{Final: final, Outlet: req.Inlet.Concentration.Clone()}, nil
	}))
	cfg.NumCycles = 10
	cfg.CSSTolerance = 1e-6
	s, err := NewSimulation(cfg)
	if err != nil {
		t.Fatal(err)
	}
	st, err := s.Start(nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Run(context.Background(), st); err != nil {
		t.Fatal(err)
	}
	if st.Phase != ConvergedCSS || st.Interval != 16 {
		t.Errorf("phase %s after %d intervals", st.Phase, st.Interval)
	}
}

func TestRunFuncs(t *testing.T) {
	s, err := NewSimulation(testConfig(t, new(recorder)))
	if err != nil {
		t.Fatal(err)
	}
	c := make(chan SimulationStatus, 16)
	var cleaned bool
	s.RunFuncs = append(s.RunFuncs, Status(c))
	s.CleanupFuncs = append(s.CleanupFuncs, func(st *SchedulerState) error {
		cleaned = true
		return nil
	})
	st, err := s.Start(nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Run(context.Background(), st); err != nil {
		t.Fatal(err)
	}
	close(c)
	var n int
	for status := range c {
		n++
		if status.Interval != n {
			t.Errorf("status %d reports interval %d", n, status.Interval)
		}
	}
	if n != 16 || !cleaned {
		t.Errorf("%d statuses, cleaned up: %v", n, cleaned)
	}
}

func TestNewSimulationErrors(t *testing.T) {
	for _, test := range []struct {
		field string
		edit  func(*SimulationConfig)
	}{
		{"Solver", func(c *SimulationConfig) { c.Solver = nil }},
		{"SwitchTime", func(c *SimulationConfig) { c.SwitchTime = -1 }},
		{"NumCycles", func(c *SimulationConfig) { c.NumCycles = 0 }},
		{"Profiles", func(c *SimulationConfig) { c.Profiles["raffinate"] = ConstantProfile{1} }},
		{"Profiles", func(c *SimulationConfig) { c.Profiles[FeedInlet] = ConstantProfile{1, 2} }},
		{"Solver.TimeResolution", func(c *SimulationConfig) { c.Options.TimeResolution = -1 }},
	} {
		cfg := testConfig(t, new(recorder))
		test.edit(&cfg)
		_, err := NewSimulation(cfg)
		var ce *ConfigurationError
		if !errors.As(err, &ce) || ce.Field != test.field {
			t.Errorf("%s: have error %v", test.field, err)
		}
	}
	cfg := testConfig(t, new(recorder))
	cfg.Boundary = Boundary{Inlets: map[string]float64{FeedInlet: 1}}
	var fe *FlowBalanceError
	if _, err := NewSimulation(cfg); !errors.As(err, &fe) {
		t.Errorf("have error %v, want a flow balance error", err)
	}
}

func TestStartInitialState(t *testing.T) {
	s, err := NewSimulation(testConfig(t, new(recorder)))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Start(NewColumnState(2, 2, 3)); err == nil {
		t.Error("an initial state of the wrong shape should be rejected")
	}
	initial := NewColumnState(1, 1, 3)
	initial.Bulk[0][1] = 5
	st, err := s.Start(initial)
	if err != nil {
		t.Fatal(err)
	}
	st.Columns[0].State.Bulk[0][1] = 7
	if st.Columns[1].State.Bulk[0][1] != 5 || initial.Bulk[0][1] != 5 {
		t.Error("columns should start from independent copies of the initial state")
	}
}

func TestSaveLoad(t *testing.T) {
	ref, err := NewSimulation(testConfig(t, new(recorder)))
	if err != nil {
		t.Fatal(err)
	}
	refSt := startMarked(t, ref)
	if err := ref.Run(context.Background(), refSt); err != nil {
		t.Fatal(err)
	}

	// Run one cycle, save, and continue for the second cycle.
	cfg := testConfig(t, new(recorder))
	cfg.NumCycles = 1
	s1, err := NewSimulation(cfg)
	if err != nil {
		t.Fatal(err)
	}
	buf := new(bytes.Buffer)
	s1.CleanupFuncs = append(s1.CleanupFuncs, Save(buf))
	st1 := startMarked(t, s1)
	if err := s1.Run(context.Background(), st1); err != nil {
		t.Fatal(err)
	}

	s2, err := NewSimulation(testConfig(t, new(recorder)))
	if err != nil {
		t.Fatal(err)
	}
	st2, err := s2.Start(nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := Load(buf)(st2); err != nil {
		t.Fatal(err)
	}
	if st2.Phase != Running || st2.Interval != 8 {
		t.Fatalf("loaded phase %s at interval %d", st2.Phase, st2.Interval)
	}
	if err := s2.Run(context.Background(), st2); err != nil {
		t.Fatal(err)
	}
	for i, c := range st2.Columns {
		if !c.State.Equal(refSt.Columns[i].State) {
			t.Errorf("column %d: have %v, want %v", i, c.State.Bulk, refSt.Columns[i].State.Bulk)
		}
	}
	if n := st2.Results.NumIntervals(); n != 16 {
		t.Errorf("%d intervals in the results", n)
	}
	if a, b := st2.Results.Outlets["raffinate"].Len(), refSt.Results.Outlets["raffinate"].Len(); a != b {
		t.Errorf("raffinate has %d samples, want %d", a, b)
	}
}
