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

// IntervalRecord describes one completed switch interval.
type IntervalRecord struct {
	Index int
	Start float64 // [s]

	// Assignment gives the column ID in each carousel slot during the
	// interval.
	Assignment []int

	// ZoneFlows gives the flow rate [m³/s] through each zone in carousel
	// order.
	ZoneFlows []float64
}

// Results holds the output of a run through the last successful interval.
type Results struct {
	Components []string
	SwitchTime float64
	NumColumns int

	// Outlets and Inlets hold the concentration of each external stream
	// in absolute process time.
	Outlets map[string]*Trace
	Inlets  map[string]*Trace

	Intervals []IntervalRecord

	// Final holds the column states after the last successful interval,
	// by column ID, and Assignment the slot-to-column mapping at that
	// point, after switching.
	Final      []*ColumnState
	Assignment []int

	// Zones holds the zones in carousel order.
	Zones []Zone
}

func newResults(cs *ComponentSystem, t *Topology, switchTime float64) *Results {
	r := &Results{
		Components: cs.Names(),
		SwitchTime: switchTime,
		NumColumns: t.NumColumns(),
		Outlets:    make(map[string]*Trace),
		Inlets:     make(map[string]*Trace),
		Zones:      t.Zones(),
	}
	for _, name := range t.outlets {
		r.Outlets[name] = &Trace{Values: make([][]float64, cs.N())}
	}
	for _, name := range t.inlets {
		r.Inlets[name] = &Trace{Values: make([][]float64, cs.N())}
	}
	return r
}

// CycleTime returns the duration of one full carousel rotation [s].
func (r *Results) CycleTime() float64 { return r.SwitchTime * float64(r.NumColumns) }

// NumIntervals returns the number of completed intervals.
func (r *Results) NumIntervals() int { return len(r.Intervals) }

// AxialProfile returns the bulk concentration along the whole carousel in
// slot (flow) order, indexed [component][position], together with the
// position of each value in units of column lengths from the inlet of
// slot 0.
func (r *Results) AxialProfile() (positions []float64, conc [][]float64) {
	conc = make([][]float64, len(r.Components))
	for slot, id := range r.Assignment {
		s := r.Final[id]
		n := s.NumCells()
		for c := range conc {
			conc[c] = append(conc[c], s.Bulk[c]...)
		}
		for i := 0; i < n; i++ {
			positions = append(positions, float64(slot)+(float64(i)+0.5)/float64(n))
		}
	}
	return positions, conc
}
