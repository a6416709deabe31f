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
	"errors"
	"fmt"
)

// Sentinel errors that can be matched with errors.Is.
var (
	// ErrDiverged is returned by a Solver whose integration failed to converge.
	ErrDiverged = errors.New("smb: solver diverged")

	// ErrTimeout indicates that a solver call exceeded its time limit.
	ErrTimeout = errors.New("smb: solver timed out")

	// ErrCancelled indicates that a run was cancelled between intervals.
	ErrCancelled = errors.New("smb: run cancelled")

	// ErrUnsupportedBinding is returned by a Solver that cannot handle
	// the requested binding model.
	ErrUnsupportedBinding = errors.New("smb: unsupported binding model")
)

// TopologyError reports a malformed or inconsistent flow network. It is
// detected when the network is built and is never retried.
type TopologyError struct {
	// Node is the zone or unit the problem was found at, if any.
	Node string
	// Edge is the offending connection, if any, in the form "from->to".
	Edge string
	Msg  string
}

func (e *TopologyError) Error() string {
	switch {
	case e.Edge != "":
		return fmt.Sprintf("smb: topology: connection %s: %s", e.Edge, e.Msg)
	case e.Node != "":
		return fmt.Sprintf("smb: topology: %s: %s", e.Node, e.Msg)
	default:
		return "smb: topology: " + e.Msg
	}
}

// FlowBalanceError reports an over- or under-determined or physically
// invalid flow solution.
type FlowBalanceError struct {
	Node string
	Edge string
	Msg  string
	Err  error
}

func (e *FlowBalanceError) Error() string {
	var where string
	switch {
	case e.Edge != "":
		where = " connection " + e.Edge + ":"
	case e.Node != "":
		where = " " + e.Node + ":"
	}
	if e.Err != nil {
		return fmt.Sprintf("smb: flow balance:%s %s: %v", where, e.Msg, e.Err)
	}
	return fmt.Sprintf("smb: flow balance:%s %s", where, e.Msg)
}

func (e *FlowBalanceError) Unwrap() error { return e.Err }

// ConfigurationError reports a missing or contradictory configuration field.
type ConfigurationError struct {
	Field string
	Msg   string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "smb: configuration: " + e.Msg
	}
	return fmt.Sprintf("smb: configuration: %s: %s", e.Field, e.Msg)
}

func configErrorf(field, format string, args ...interface{}) error {
	return &ConfigurationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// SolverDivergenceError wraps a solver failure with the interval, zone and
// column it happened in.
type SolverDivergenceError struct {
	Interval int
	Zone     string
	Column   int
	Err      error
}

func (e *SolverDivergenceError) Error() string {
	return fmt.Sprintf("smb: interval %d, zone %s, column %d: solver failed: %v",
		e.Interval, e.Zone, e.Column, e.Err)
}

func (e *SolverDivergenceError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrDiverged) true for every divergence error.
func (e *SolverDivergenceError) Is(target error) bool { return target == ErrDiverged }

// SolverTimeoutError reports a solver call that did not return within
// SolverOptions.Timeout.
type SolverTimeoutError struct {
	Interval int
	Zone     string
	Column   int
	Timeout  float64 // seconds
}

func (e *SolverTimeoutError) Error() string {
	return fmt.Sprintf("smb: interval %d, zone %s, column %d: solver timed out after %gs",
		e.Interval, e.Zone, e.Column, e.Timeout)
}

// Is makes errors.Is(err, ErrTimeout) true for every timeout error.
func (e *SolverTimeoutError) Is(target error) bool { return target == ErrTimeout }
