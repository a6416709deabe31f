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
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// zoneResult is the outcome of solving the column chain of one zone.
type zoneResult struct {
	states map[int]*ColumnState // by column ID
	outlet *Trace
	err    error
}

// Step runs one switch interval: it solves every zone, commits the new
// column states, records the outlet streams and switches the columns.
// On a solver error the run is Failed and the results through the
// previous interval are kept. If ctx is cancelled the interval in progress
// is discarded and the run is Cancelled.
func (s *Simulation) Step(ctx context.Context, st *SchedulerState) error {
	if st.sim != s {
		return fmt.Errorf("smb: state belongs to a different simulation")
	}
	switch {
	case st.Phase == Idle:
		return fmt.Errorf("smb: run has not been started")
	case st.Phase.Terminal():
		return fmt.Errorf("smb: run has already ended in phase %s", st.Phase)
	}
	if ctx.Err() != nil {
		return st.cancel(s)
	}

	cfg := s.cfg
	top := cfg.Topology
	times := UniformTimes(cfg.SwitchTime, cfg.Options.TimeResolution)
	log := cfg.Log.WithFields(logrus.Fields{"interval": st.Interval, "time": st.Time})

	inlets := make(map[string]*Trace, len(top.inlets))
	for _, name := range top.inlets {
		p, ok := cfg.Profiles[name]
		if !ok {
			p = ConstantProfile(make([]float64, cfg.Components.N()))
		}
		tr, err := sampleProfile(p, st.Time, times)
		if err != nil {
			return st.fail(s, fmt.Errorf("smb: inlet %s: %v", name, err))
		}
		inlets[name] = tr
	}

	zoneOut := make([]*Trace, top.NumZones())
	results := make([]zoneResult, top.NumZones())
	if cfg.Parallel {
		s.solveParallel(ctx, st, inlets, times, results)
		for i, r := range results {
			if r.err != nil {
				return st.abort(s, r.err)
			}
			zoneOut[i] = r.outlet
		}
	} else {
		for i := range top.zones {
			upstream := st.zoneOutlets[top.upstreamZone(i)]
			if i > 0 {
				upstream = zoneOut[i-1]
			}
			results[i] = s.solveZone(ctx, st, i, inlets, upstream, times)
			if results[i].err != nil {
				return st.abort(s, results[i].err)
			}
			zoneOut[i] = results[i].outlet
			log.WithField("zone", top.zones[i].Name).Debug("zone solved")
		}
	}

	outlets := make(map[string]*Trace, len(top.outlets))
	for _, name := range top.outlets {
		tr, err := s.mixInbound(name, inlets, func(zone int) *Trace { return zoneOut[zone] }, times)
		if err != nil {
			return st.fail(s, err)
		}
		outlets[name] = tr
	}

	// Commit.
	st.Phase = Switching
	rec := IntervalRecord{
		Index:      st.Interval,
		Start:      st.Time,
		Assignment: st.Assignment(),
		ZoneFlows:  s.flows.ZoneFlows(),
	}
	for name, tr := range outlets {
		outlets[name] = tr.Shift(st.Time)
		if err := st.Results.Outlets[name].checkAppend(outlets[name]); err != nil {
			return st.fail(s, fmt.Errorf("smb: outlet %s: %v", name, err))
		}
	}
	for name, tr := range inlets {
		inlets[name] = tr.Shift(st.Time)
		if err := st.Results.Inlets[name].checkAppend(inlets[name]); err != nil {
			return st.fail(s, fmt.Errorf("smb: inlet %s: %v", name, err))
		}
	}
	// Nothing below can fail.
	for _, r := range results {
		for id, state := range r.states {
			st.Columns[id].State = state
		}
	}
	for name, tr := range outlets {
		st.Results.Outlets[name].Append(tr)
	}
	for name, tr := range inlets {
		st.Results.Inlets[name].Append(tr)
	}
	st.Results.Intervals = append(st.Results.Intervals, rec)
	st.zoneOutlets = zoneOut

	st.rotate()
	st.Interval++
	st.Time = float64(st.Interval) * cfg.SwitchTime
	st.updateResults()

	if st.Interval%top.NumColumns() == 0 {
		st.Tracker.RecordCycleSnapshot(st.states())
		log.WithField("css_difference", st.Tracker.MaxRelativeDifference()).Info("cycle completed")
		if cfg.CSSTolerance > 0 && st.Tracker.IsConverged(cfg.CSSTolerance) {
			st.Phase = ConvergedCSS
			return nil
		}
	}
	if st.Interval >= s.NumSwitches() {
		st.Phase = Completed
		return nil
	}
	st.Phase = Running
	return nil
}

// solveZone solves the serial chain of columns in zone i. upstream is the
// outlet of the upstream zone in interval-local time, or nil if it is not
// known yet.
func (s *Simulation) solveZone(ctx context.Context, st *SchedulerState, i int, inlets map[string]*Trace, upstream *Trace, times []float64) zoneResult {
	cfg := s.cfg
	z := cfg.Topology.zones[i]
	feed, err := s.mixInbound(z.Name, inlets, func(int) *Trace { return upstream }, times)
	if err != nil {
		return zoneResult{err: err}
	}
	q := s.flows.ZoneFlow(z.Name)
	r := zoneResult{states: make(map[int]*ColumnState, z.NumColumns)}
	for pos := 0; pos < z.NumColumns; pos++ {
		col := st.ColumnAt(z.FirstSlot + pos)
		req := &IntervalRequest{
			Components: cfg.Components.Names(),
			Geometry:   cfg.Column,
			Binding:    cfg.Binding,
			Initial:    col.State.Clone(),
			Inlet:      BoundaryCondition{FlowRate: q, Concentration: feed},
			Duration:   cfg.SwitchTime,
			DeadVolume: z.ValveDeadVolume,
			Options:    cfg.Options,
		}
		res, err := callSolver(ctx, cfg.Solver, req, callLocation{interval: st.Interval, zone: z.Name, column: col.ID})
		if err != nil {
			return zoneResult{err: err}
		}
		if ctx.Err() != nil {
			return zoneResult{err: ErrCancelled}
		}
		r.states[col.ID] = res.Final
		feed = res.Outlet
	}
	r.outlet = feed
	return r
}

// solveParallel solves every zone concurrently, each fed by the outlet of
// its upstream zone from the previous interval.
func (s *Simulation) solveParallel(ctx context.Context, st *SchedulerState, inlets map[string]*Trace, times []float64, results []zoneResult) {
	nprocs := runtime.GOMAXPROCS(0)
	if nprocs > len(results) {
		nprocs = len(results)
	}
	top := s.cfg.Topology
	var wg sync.WaitGroup
	wg.Add(nprocs)
	for pp := 0; pp < nprocs; pp++ {
		go func(pp int) {
			defer wg.Done()
			for i := pp; i < len(results); i += nprocs {
				results[i] = s.solveZone(ctx, st, i, inlets, st.zoneOutlets[top.upstreamZone(i)], times)
			}
		}(pp)
	}
	wg.Wait()
}

// mixInbound returns the concentration entering node: the flow-weighted
// mix of every inlet and zone connected to it. zoneOutlet gives the
// outlet trace of a zone by carousel index; a nil trace is pure solvent.
func (s *Simulation) mixInbound(node string, inlets map[string]*Trace, zoneOutlet func(zone int) *Trace, times []float64) (*Trace, error) {
	top := s.cfg.Topology
	var traces []*Trace
	var flows []float64
	for _, c := range top.Inbound(node) {
		var tr *Trace
		switch top.Kind(c.From) {
		case InletNode:
			tr = inlets[c.From]
		case ZoneNode:
			tr = zoneOutlet(top.zoneIndex[c.From])
		}
		if tr == nil {
			tr = NewTrace(times, s.cfg.Components.N())
		}
		traces = append(traces, tr)
		flows = append(flows, s.flows.Flow(c))
	}
	if len(traces) == 0 {
		return NewTrace(times, s.cfg.Components.N()), nil
	}
	tr, err := Mix(traces, flows)
	if err != nil {
		return nil, fmt.Errorf("smb: mixing streams into %s: %v", node, err)
	}
	return tr, nil
}

func (st *SchedulerState) fail(s *Simulation, err error) error {
	st.Phase = Failed
	st.Err = err
	s.cfg.Log.WithField("interval", st.Interval).WithError(err).Error("run failed")
	return err
}

func (st *SchedulerState) cancel(s *Simulation) error {
	st.Phase = Cancelled
	st.Err = ErrCancelled
	s.cfg.Log.WithField("interval", st.Interval).Warn("run cancelled")
	return ErrCancelled
}

// abort ends the run after an interval could not be completed.
func (st *SchedulerState) abort(s *Simulation, err error) error {
	if err == ErrCancelled {
		return st.cancel(s)
	}
	return st.fail(s, err)
}

// Run steps st until the run ends, running s.RunFuncs after every switch
// event and s.CleanupFuncs at the end. It returns the error that ended the
// run, which is nil if the run was Completed or reached ConvergedCSS.
func (s *Simulation) Run(ctx context.Context, st *SchedulerState) error {
	var err error
	for !st.Phase.Terminal() {
		if err = s.Step(ctx, st); err != nil {
			break
		}
		for _, f := range s.RunFuncs {
			if err = f(st); err != nil {
				st.fail(s, err)
				break
			}
		}
		if err != nil {
			break
		}
	}
	for _, f := range s.CleanupFuncs {
		if cerr := f(st); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// SimulationStatus holds information about the progress of a run.
type SimulationStatus struct {
	Phase      Phase
	Interval   int
	Cycle      int
	Time       float64 // process time [s]
	Walltime   time.Duration
	Assignment []int

	// CSSDifference is the maximum relative difference between the last
	// two cycle snapshots, +Inf before two are available.
	CSSDifference float64
}

func (st *SchedulerState) status(start time.Time) SimulationStatus {
	return SimulationStatus{
		Phase:         st.Phase,
		Interval:      st.Interval,
		Cycle:         st.Cycle(),
		Time:          st.Time,
		Walltime:      time.Since(start),
		Assignment:    st.Assignment(),
		CSSDifference: st.Tracker.MaxRelativeDifference(),
	}
}

// Log writes the progress of the run to l after every switch event.
func Log(l logrus.FieldLogger) StateManipulator {
	startTime := time.Now()
	stepTime := time.Now()
	return func(st *SchedulerState) error {
		l.WithFields(logrus.Fields{
			"interval":   st.Interval,
			"cycle":      st.Cycle(),
			"walltime":   time.Since(startTime).Round(time.Millisecond),
			"Δwalltime":  time.Since(stepTime).Round(time.Millisecond),
			"phase":      st.Phase,
			"css_diff":   st.Tracker.MaxRelativeDifference(),
			"time_hours": st.Time / 3600,
		}).Info("interval completed")
		stepTime = time.Now()
		return nil
	}
}

// Status sends the status of the run to c after every switch event. The
// send blocks until c is read.
func Status(c chan<- SimulationStatus) StateManipulator {
	startTime := time.Now()
	return func(st *SchedulerState) error {
		c <- st.status(startTime)
		return nil
	}
}
