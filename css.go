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
	"math"

	"gonum.org/v1/gonum/floats"
)

// CycleTracker detects cyclic steady state. It keeps the two most recent
// full-cycle snapshots of the column states, each downsampled to a fixed
// number of axial points per profile.
type CycleTracker struct {
	floor  float64
	points int

	snapshots [2][]float64
	n         int // number of snapshots recorded, at most 2
	head      int // index of the most recent snapshot
}

// NewCycleTracker returns a tracker. floor is the smallest magnitude used
// as the denominator of a relative difference. points is the number of
// axial points kept from each profile; points < 1 keeps every cell.
func NewCycleTracker(floor float64, points int) *CycleTracker {
	return &CycleTracker{floor: math.Abs(floor), points: points}
}

// RecordCycleSnapshot stores a snapshot of states, which must be given in
// the same (column ID) order at every call. The oldest snapshot is
// dropped once two are held.
func (c *CycleTracker) RecordCycleSnapshot(states []*ColumnState) {
	var snap []float64
	for _, s := range states {
		for _, p := range s.Bulk {
			snap = append(snap, downsample(p, c.points)...)
		}
		for _, p := range s.Solid {
			snap = append(snap, downsample(p, c.points)...)
		}
	}
	if c.n > 0 {
		c.head = 1 - c.head
	}
	c.snapshots[c.head] = snap
	if c.n < 2 {
		c.n++
	}
}

// Len returns the number of snapshots held.
func (c *CycleTracker) Len() int { return c.n }

// MaxRelativeDifference returns the max norm of
// (current-previous)/max(|previous|, floor) over all values of the two
// most recent snapshots. It is +Inf if fewer than two snapshots are held
// or if they have different shapes.
func (c *CycleTracker) MaxRelativeDifference() float64 {
	if c.n < 2 {
		return math.Inf(1)
	}
	cur, prev := c.snapshots[c.head], c.snapshots[1-c.head]
	if len(cur) != len(prev) {
		return math.Inf(1)
	}
	if len(cur) == 0 {
		return 0
	}
	d := make([]float64, len(cur))
	for i := range cur {
		den := math.Max(math.Abs(prev[i]), c.floor)
		diff := math.Abs(cur[i] - prev[i])
		switch {
		case diff == 0:
		case den == 0:
			d[i] = math.Inf(1)
		default:
			d[i] = diff / den
		}
	}
	return floats.Max(d)
}

// IsConverged reports whether a previous snapshot exists and the maximum
// relative difference to it is below tolerance.
func (c *CycleTracker) IsConverged(tolerance float64) bool {
	return c.n == 2 && c.MaxRelativeDifference() < tolerance
}

// downsample picks n evenly spaced values of p, always including the
// first and the last.
func downsample(p []float64, n int) []float64 {
	if n < 1 || n >= len(p) {
		return append([]float64(nil), p...)
	}
	o := make([]float64, n)
	if n == 1 {
		o[0] = p[len(p)-1]
		return o
	}
	for i := range o {
		o[i] = p[i*(len(p)-1)/(n-1)]
	}
	return o
}
