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

	"gonum.org/v1/gonum/integrate"
)

// PerformanceResult holds the separation performance of one outlet over a
// time window. Slices are indexed by component.
type PerformanceResult struct {
	Outlet     string
	Start, End float64

	// Mass is the amount of each component leaving through the outlet
	// [mol], the integral of flow rate times concentration.
	Mass []float64

	// Purity is the fraction of each component in the total amount
	// leaving through the outlet.
	Purity []float64

	// Recovery is the amount leaving through the outlet over the amount
	// entering through the feed.
	Recovery []float64
}

// Performance computes the purity and recovery of every component at
// outlet over the process time window [start, end], relative to the
// amount entering through the feed inlet. Components to exclude from the
// purity, such as a salt, can be given in ignore.
func Performance(r *Results, fs *FlowSheet, feed, outlet string, start, end float64, ignore ...string) (*PerformanceResult, error) {
	out, ok := r.Outlets[outlet]
	if !ok {
		return nil, fmt.Errorf("smb: performance: unknown outlet %q", outlet)
	}
	in, ok := r.Inlets[feed]
	if !ok {
		return nil, fmt.Errorf("smb: performance: unknown inlet %q", feed)
	}
	if !(end > start) {
		return nil, fmt.Errorf("smb: performance: empty window [%g, %g]", start, end)
	}
	if out.Len() == 0 {
		return nil, fmt.Errorf("smb: performance: no results")
	}
	skip := make(map[int]bool)
	for _, name := range ignore {
		found := false
		for i, c := range r.Components {
			if c == name {
				skip[i] = true
				found = true
			}
		}
		if !found {
			return nil, fmt.Errorf("smb: performance: unknown component %q", name)
		}
	}

	qOut, qIn := fs.OutletFlow(outlet), fs.InletFlow(feed)
	outMass := windowIntegral(out, start, end)
	inMass := windowIntegral(in, start, end)
	p := &PerformanceResult{
		Outlet:   outlet,
		Start:    start,
		End:      end,
		Mass:     make([]float64, len(r.Components)),
		Purity:   make([]float64, len(r.Components)),
		Recovery: make([]float64, len(r.Components)),
	}
	var total float64
	for i := range p.Mass {
		p.Mass[i] = qOut * outMass[i]
		if !skip[i] {
			total += p.Mass[i]
		}
		if fed := qIn * inMass[i]; fed > 0 {
			p.Recovery[i] = p.Mass[i] / fed
		}
	}
	for i := range p.Purity {
		if total > 0 && !skip[i] {
			p.Purity[i] = p.Mass[i] / total
		}
	}
	return p, nil
}

// windowIntegral returns the time integral of each component of tr over
// [start, end] by the trapezoidal rule.
func windowIntegral(tr *Trace, start, end float64) []float64 {
	x := []float64{start}
	idx := []int{-1}
	for i, t := range tr.Times {
		if t > start && t < end {
			x = append(x, t)
			idx = append(idx, i)
		}
	}
	x = append(x, end)
	idx = append(idx, -1)

	startVal, endVal := tr.At(start), tr.At(end)
	o := make([]float64, tr.NumComponents())
	f := make([]float64, len(x))
	for c := range o {
		for j, i := range idx {
			switch {
			case j == 0:
				f[j] = startVal[c]
			case j == len(idx)-1:
				f[j] = endVal[c]
			default:
				f[j] = tr.Values[c][i]
			}
		}
		o[c] = integrate.Trapezoidal(x, f)
	}
	return o
}
