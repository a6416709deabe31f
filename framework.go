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
	"fmt"
	"io/ioutil"
	"math"

	"github.com/sirupsen/logrus"
)

// StateManipulator is a function that operates on the state of a run.
type StateManipulator func(st *SchedulerState) error

// Phase is the phase of a run.
type Phase int

// The phases of a run. Completed, ConvergedCSS, Failed and Cancelled are
// terminal.
const (
	Idle Phase = iota
	Running
	Switching
	Completed
	ConvergedCSS
	Failed
	Cancelled
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "Idle"
	case Running:
		return "Running"
	case Switching:
		return "Switching"
	case Completed:
		return "Completed"
	case ConvergedCSS:
		return "ConvergedCSS"
	case Failed:
		return "Failed"
	case Cancelled:
		return "Cancelled"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// Terminal reports whether no more intervals can be run in phase p.
func (p Phase) Terminal() bool { return p >= Completed }

// SimulationConfig is the complete, immutable description of a run.
type SimulationConfig struct {
	Components *ComponentSystem
	Column     *ColumnGeometry
	Binding    BindingModel
	Topology   *Topology
	Boundary   Boundary

	// Profiles gives the concentration of each inlet. Inlets without a
	// profile carry pure solvent.
	Profiles map[string]Profile

	SwitchTime float64 // [s]

	// NumCycles is the number of full carousel rotations to run.
	NumCycles int

	// CSSTolerance enables stopping at cyclic steady state when > 0.
	CSSTolerance float64
	// CSSFloor is the floor of the denominator of relative differences.
	CSSFloor float64
	// CSSPoints is the number of axial points kept per profile in
	// cyclic steady state snapshots. Zero keeps every cell.
	CSSPoints int

	Solver  Solver
	Options SolverOptions

	// Parallel solves all zones of an interval concurrently, each fed by
	// the outlet of its upstream zone from the previous interval.
	// Otherwise zones are solved in carousel order and only the recycle
	// into the first zone lags by one interval.
	Parallel bool

	// Log receives progress messages. Nil discards them.
	Log logrus.FieldLogger
}

// Simulation is a validated run description. It holds no run-time state,
// which lives in a SchedulerState.
type Simulation struct {
	cfg   SimulationConfig
	flows *FlowSheet

	// RunFuncs are run after every switch event.
	RunFuncs []StateManipulator

	// CleanupFuncs are run when the run ends, whether it succeeded or not.
	CleanupFuncs []StateManipulator
}

// NewSimulation checks cfg and solves the flow balance. It fails before
// any solver call if anything is missing or inconsistent.
func NewSimulation(cfg SimulationConfig) (*Simulation, error) {
	switch {
	case cfg.Components == nil:
		return nil, configErrorf("Components", "is not specified")
	case cfg.Column == nil:
		return nil, configErrorf("Column", "is not specified")
	case cfg.Binding == nil:
		return nil, configErrorf("Binding", "is not specified")
	case cfg.Topology == nil:
		return nil, configErrorf("Topology", "is not specified")
	case cfg.Solver == nil:
		return nil, configErrorf("Solver", "is not specified")
	case !(cfg.SwitchTime > 0) || math.IsInf(cfg.SwitchTime, 0):
		return nil, configErrorf("SwitchTime", "must be > 0 but is %g", cfg.SwitchTime)
	case cfg.NumCycles < 1:
		return nil, configErrorf("NumCycles", "must be >= 1 but is %d", cfg.NumCycles)
	case cfg.CSSTolerance < 0:
		return nil, configErrorf("CSSTolerance", "must be >= 0 but is %g", cfg.CSSTolerance)
	case cfg.CSSPoints < 0:
		return nil, configErrorf("CSSPoints", "must be >= 0 but is %d", cfg.CSSPoints)
	}
	if err := cfg.Binding.Validate(cfg.Components); err != nil {
		return nil, err
	}
	if len(cfg.Column.FilmDiffusion) != cfg.Components.N() {
		return nil, configErrorf("Column", "geometry was created for %d components, not %d",
			len(cfg.Column.FilmDiffusion), cfg.Components.N())
	}
	if cfg.Options == (SolverOptions{}) {
		cfg.Options = DefaultSolverOptions()
	}
	if err := cfg.Options.validate(); err != nil {
		return nil, err
	}
	for name, p := range cfg.Profiles {
		if cfg.Topology.Kind(name) != InletNode {
			return nil, configErrorf("Profiles", "%q is not an inlet", name)
		}
		if p.NumComponents() != cfg.Components.N() {
			return nil, configErrorf("Profiles", "inlet %s has %d components but there are %d",
				name, p.NumComponents(), cfg.Components.N())
		}
	}
	if bs, ok := cfg.Solver.(BindingSupporter); ok && !bs.Supports(cfg.Binding) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedBinding, cfg.Binding.Name())
	}
	if cfg.Log == nil {
		l := logrus.New()
		l.Out = ioutil.Discard
		cfg.Log = l
	}
	flows, err := SolveFlows(cfg.Topology, cfg.Boundary)
	if err != nil {
		return nil, err
	}
	return &Simulation{cfg: cfg, flows: flows}, nil
}

// Config returns the configuration of s.
func (s *Simulation) Config() SimulationConfig { return s.cfg }

// Flows returns the solved flow sheet.
func (s *Simulation) Flows() *FlowSheet { return s.flows }

// NumSwitches returns the number of switch events in a complete run.
func (s *Simulation) NumSwitches() int {
	return s.cfg.Topology.NumColumns() * s.cfg.NumCycles
}

// SchedulerState is the mutable state of one run. It is owned by the
// caller and must not be shared between concurrent calls.
type SchedulerState struct {
	Phase Phase

	// Interval is the number of completed intervals, which equals the
	// number of switch events so far.
	Interval int

	// Time is the process time [s] at the start of the next interval.
	Time float64

	// Columns holds the physical columns by ID.
	Columns []*Column

	Tracker *CycleTracker
	Results *Results

	// Err is the error that ended the run, if any.
	Err error

	// slots maps carousel slot to column ID.
	slots []int

	// zoneOutlets holds each zone's outlet trace from the previous
	// interval, in interval-local time.
	zoneOutlets []*Trace

	sim *Simulation
}

// Start creates the state of a new run with every column set to a copy of
// initial, or to zero if initial is nil, and moves it from Idle to
// Running. Column i starts in slot i.
func (s *Simulation) Start(initial *ColumnState) (*SchedulerState, error) {
	cfg := s.cfg
	nComp, nBound, nCells := cfg.Components.N(), NumBound(cfg.Binding), cfg.Column.AxialCells
	if initial != nil {
		if err := initial.check(nComp, nBound, nCells); err != nil {
			return nil, configErrorf("InitialState", "%v", err)
		}
	}
	n := cfg.Topology.NumColumns()
	st := &SchedulerState{
		Phase:       Idle,
		Columns:     make([]*Column, n),
		Tracker:     NewCycleTracker(cfg.CSSFloor, cfg.CSSPoints),
		Results:     newResults(cfg.Components, cfg.Topology, cfg.SwitchTime),
		slots:       make([]int, n),
		zoneOutlets: make([]*Trace, cfg.Topology.NumZones()),
		sim:         s,
	}
	for i := range st.Columns {
		c := &Column{ID: i, Geometry: cfg.Column, Binding: cfg.Binding}
		if initial != nil {
			c.State = initial.Clone()
		} else {
			c.State = NewColumnState(nComp, nBound, nCells)
		}
		st.Columns[i] = c
		st.slots[i] = i
	}
	st.Tracker.RecordCycleSnapshot(st.states())
	st.updateResults()
	st.Phase = Running
	return st, nil
}

// Assignment returns the column ID held in each carousel slot.
func (st *SchedulerState) Assignment() []int { return append([]int(nil), st.slots...) }

// ColumnAt returns the column in carousel slot s.
func (st *SchedulerState) ColumnAt(s int) *Column { return st.Columns[st.slots[s]] }

// ZoneOf returns the zone currently holding a column and the column's
// position within the zone.
func (st *SchedulerState) ZoneOf(columnID int) (Zone, int, bool) {
	for s, id := range st.slots {
		if id == columnID {
			z, pos := st.sim.cfg.Topology.SlotZone(s)
			return z, pos, true
		}
	}
	return Zone{}, 0, false
}

// Cycle returns the number of completed full carousel rotations.
func (st *SchedulerState) Cycle() int { return st.Interval / len(st.slots) }

// states returns the column states in column ID order.
func (st *SchedulerState) states() []*ColumnState {
	o := make([]*ColumnState, len(st.Columns))
	for i, c := range st.Columns {
		o[i] = c.State
	}
	return o
}

func (st *SchedulerState) updateResults() {
	st.Results.Final = st.states()
	st.Results.Assignment = st.Assignment()
}

// rotate moves every column one slot against the direction of flow: the
// column in slot s moves to slot s-1 and the column in slot 0 moves to the
// last slot. Column states are not touched.
func (st *SchedulerState) rotate() {
	first := st.slots[0]
	copy(st.slots, st.slots[1:])
	st.slots[len(st.slots)-1] = first
}
