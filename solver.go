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
	"errors"
	"fmt"
	"time"
)

// SolverOptions are the numerical tuning parameters passed to the solver
// with every interval.
type SolverOptions struct {
	AbsTol       float64
	RelTol       float64
	InitStepSize float64 // [s]
	MaxStepSize  float64 // [s]

	// TimeResolution is the number of samples per interval in the inlet
	// and outlet traces.
	TimeResolution int

	// Timeout is the wall-clock limit of one solver call. Zero means no
	// limit.
	Timeout time.Duration
}

// DefaultSolverOptions returns the options used when none are given.
func DefaultSolverOptions() SolverOptions {
	return SolverOptions{
		AbsTol:         1e-8,
		RelTol:         1e-6,
		InitStepSize:   1e-6,
		MaxStepSize:    5e6,
		TimeResolution: 100,
	}
}

func (o SolverOptions) validate() error {
	switch {
	case o.AbsTol < 0:
		return configErrorf("Solver.AbsTol", "must be >= 0 but is %g", o.AbsTol)
	case o.RelTol < 0:
		return configErrorf("Solver.RelTol", "must be >= 0 but is %g", o.RelTol)
	case o.InitStepSize < 0:
		return configErrorf("Solver.InitStepSize", "must be >= 0 but is %g", o.InitStepSize)
	case o.MaxStepSize < 0:
		return configErrorf("Solver.MaxStepSize", "must be >= 0 but is %g", o.MaxStepSize)
	case o.TimeResolution < 1:
		return configErrorf("Solver.TimeResolution", "must be >= 1 but is %d", o.TimeResolution)
	case o.Timeout < 0:
		return configErrorf("Solver.Timeout", "must be >= 0 but is %v", o.Timeout)
	}
	return nil
}

// BoundaryCondition is the inlet stream of a column over one interval.
type BoundaryCondition struct {
	FlowRate float64 // [m³/s]

	// Concentration is the inlet concentration in interval-local time,
	// covering [0, Duration].
	Concentration *Trace
}

// IntervalRequest asks a Solver to advance one column by one switch
// interval. Initial is a copy owned by the request.
type IntervalRequest struct {
	Components []string
	Geometry   *ColumnGeometry
	Binding    BindingModel
	Initial    *ColumnState
	Inlet      BoundaryCondition
	Duration   float64 // [s]

	// DeadVolume is the valve dead volume [m³] in front of the column.
	DeadVolume float64

	Options SolverOptions
}

// IntervalResult is the outcome of a successful solver call.
type IntervalResult struct {
	Final *ColumnState

	// Outlet is the outlet concentration in interval-local time.
	Outlet *Trace
}

// Solver is the transport-reaction solver. SolveInterval must not retain
// or modify req after returning. An error that cannot be attributed to a
// timeout is treated as a divergence of the integration.
type Solver interface {
	SolveInterval(ctx context.Context, req *IntervalRequest) (*IntervalResult, error)
}

// BindingSupporter is implemented by solvers that handle only some
// binding models.
type BindingSupporter interface {
	Supports(b BindingModel) bool
}

// SolverFunc adapts a function to the Solver interface.
type SolverFunc func(ctx context.Context, req *IntervalRequest) (*IntervalResult, error)

// SolveInterval implements Solver.
func (f SolverFunc) SolveInterval(ctx context.Context, req *IntervalRequest) (*IntervalResult, error) {
	return f(ctx, req)
}

// callLocation identifies a solver call in errors.
type callLocation struct {
	interval int
	zone     string
	column   int
}

// callSolver runs one solver call with the configured timeout. The call
// is detached from the cancellation of ctx: a cancelled run waits for the
// call to return or time out. A call that outlives its timeout is
// abandoned and its result is never used.
func callSolver(ctx context.Context, s Solver, req *IntervalRequest, loc callLocation) (*IntervalResult, error) {
	cctx := context.WithoutCancel(ctx)
	var cancel context.CancelFunc
	if req.Options.Timeout > 0 {
		cctx, cancel = context.WithTimeout(cctx, req.Options.Timeout)
	} else {
		cctx, cancel = context.WithCancel(cctx)
	}
	defer cancel()

	type result struct {
		r   *IntervalResult
		err error
	}
	done := make(chan result, 1)
	go func() {
		r, err := s.SolveInterval(cctx, req)
		done <- result{r, err}
	}()

	timeoutErr := &SolverTimeoutError{
		Interval: loc.interval, Zone: loc.zone, Column: loc.column,
		Timeout: req.Options.Timeout.Seconds(),
	}
	select {
	case <-cctx.Done():
		return nil, timeoutErr
	case res := <-done:
		if res.err != nil {
			if errors.Is(res.err, context.DeadlineExceeded) || errors.Is(res.err, ErrTimeout) {
				return nil, timeoutErr
			}
			return nil, &SolverDivergenceError{
				Interval: loc.interval, Zone: loc.zone, Column: loc.column, Err: res.err,
			}
		}
		if err := checkResult(res.r, req); err != nil {
			return nil, &SolverDivergenceError{
				Interval: loc.interval, Zone: loc.zone, Column: loc.column, Err: err,
			}
		}
		return res.r, nil
	}
}

func checkResult(r *IntervalResult, req *IntervalRequest) error {
	if r == nil || r.Final == nil || r.Outlet == nil {
		return fmt.Errorf("incomplete result")
	}
	if err := r.Final.check(len(req.Components), NumBound(req.Binding), req.Geometry.AxialCells); err != nil {
		return fmt.Errorf("final state: %v", err)
	}
	if err := r.Outlet.Validate(); err != nil {
		return fmt.Errorf("outlet: %v", err)
	}
	if r.Outlet.NumComponents() != len(req.Components) {
		return fmt.Errorf("outlet has %d components but %d are required",
			r.Outlet.NumComponents(), len(req.Components))
	}
	return nil
}
