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
	"math"
	"sort"

	"github.com/ctessum/unit"
	"gonum.org/v1/gonum/mat"
)

// flowTolerance is the relative tolerance for residuals and negative
// flows in the flow balance.
const flowTolerance = 1e-9

// Boundary holds the volumetric flow rates [m³/s] imposed at the plant
// boundary.
type Boundary struct {
	// Inlets gives the flow rate of every inlet. All inlets are required.
	Inlets map[string]float64

	// Outlets optionally gives target flow rates of outlets. An outlet
	// target together with a fixed split fraction on the same branch must
	// agree, otherwise the balance is over-determined.
	Outlets map[string]float64

	// Zones optionally fixes the flow rate through a zone, as set by the
	// recycle pump of a real plant.
	Zones map[string]float64
}

// FlowRate converts a volumetric flow rate to m³/s, checking its
// dimensions.
func FlowRate(q *unit.Unit) (float64, error) {
	if q == nil {
		return 0, fmt.Errorf("smb: flow rate is not specified")
	}
	if err := q.Check(unit.Meter3PerSecond); err != nil {
		return 0, fmt.Errorf("smb: flow rate: %v", err)
	}
	return q.Value(), nil
}

func (b Boundary) check(t *Topology) error {
	for _, name := range t.inlets {
		q, ok := b.Inlets[name]
		if !ok {
			return &FlowBalanceError{Node: name, Msg: "inlet flow rate is not specified"}
		}
		if q < 0 || math.IsNaN(q) || math.IsInf(q, 0) {
			return &FlowBalanceError{Node: name, Msg: fmt.Sprintf("invalid inlet flow rate %g", q)}
		}
	}
	for _, m := range []struct {
		kind NodeKind
		v    map[string]float64
	}{{InletNode, b.Inlets}, {OutletNode, b.Outlets}, {ZoneNode, b.Zones}} {
		for _, name := range sortedFlowKeys(m.v) {
			if t.kinds[name] != m.kind {
				return &FlowBalanceError{Node: name, Msg: fmt.Sprintf("flow rate given for unknown %s", m.kind)}
			}
			if q := m.v[name]; q < 0 || math.IsNaN(q) || math.IsInf(q, 0) {
				return &FlowBalanceError{Node: name, Msg: fmt.Sprintf("invalid flow rate %g", q)}
			}
		}
	}
	return nil
}

func sortedFlowKeys(m map[string]float64) []string {
	o := make([]string, 0, len(m))
	for k := range m {
		o = append(o, k)
	}
	sort.Strings(o)
	return o
}

// SolveFlows computes the volumetric flow rate on every connection of t so
// that flow is conserved at every zone, given the boundary flow rates and
// the fixed split fractions. It is a direct linear solve with one unknown
// per connection.
func SolveFlows(t *Topology, b Boundary) (*FlowSheet, error) {
	if err := b.check(t); err != nil {
		return nil, err
	}
	if fs, ok := passThrough(t, b); ok {
		return fs, nil
	}

	nE := len(t.edges)
	var rows [][]float64
	var rhs []float64
	addRow := func(row []float64, v float64) {
		rows = append(rows, row)
		rhs = append(rhs, v)
	}
	for _, name := range t.inlets {
		row := make([]float64, nE)
		for _, e := range t.out[name] {
			row[e] = 1
		}
		addRow(row, b.Inlets[name])
	}
	for _, z := range t.zones {
		row := make([]float64, nE)
		for _, e := range t.in[z.Name] {
			row[e] += 1
		}
		for _, e := range t.out[z.Name] {
			row[e] -= 1
		}
		addRow(row, 0)
	}
	for _, name := range append(t.Inlets(), zoneNames(t)...) {
		f, ok := t.fractions[name]
		out := t.out[name]
		if !ok || len(out) < 2 {
			continue
		}
		// The last fraction follows from the others and conservation.
		for j := 0; j < len(out)-1; j++ {
			row := make([]float64, nE)
			for _, e := range out {
				row[e] -= f[j]
			}
			row[out[j]] += 1
			addRow(row, 0)
		}
	}
	for _, name := range t.outlets {
		q, ok := b.Outlets[name]
		if !ok {
			continue
		}
		row := make([]float64, nE)
		for _, e := range t.in[name] {
			row[e] = 1
		}
		addRow(row, q)
	}
	for _, z := range t.zones {
		q, ok := b.Zones[z.Name]
		if !ok {
			continue
		}
		row := make([]float64, nE)
		for _, e := range t.in[z.Name] {
			row[e] = 1
		}
		addRow(row, q)
	}

	A := mat.NewDense(len(rows), nE, nil)
	for i, r := range rows {
		A.SetRow(i, r)
	}
	if r := rank(A); r < nE {
		return nil, &FlowBalanceError{
			Msg: fmt.Sprintf("under-determined: %d independent equations for %d unknown flow rates; "+
				"give more outlet or zone flow rates or fix more split fractions", r, nE),
		}
	}
	bv := mat.NewVecDense(len(rhs), rhs)
	var x mat.VecDense
	if err := x.SolveVec(A, bv); err != nil {
		return nil, &FlowBalanceError{Msg: "singular flow network: the constraints are redundant or incomplete", Err: err}
	}

	scale := 0.
	for _, v := range rhs {
		scale = math.Max(scale, math.Abs(v))
	}
	if len(rows) > nE {
		var r mat.VecDense
		r.MulVec(A, &x)
		r.SubVec(&r, bv)
		for i := 0; i < r.Len(); i++ {
			if math.Abs(r.AtVec(i)) > flowTolerance*scale {
				return nil, &FlowBalanceError{
					Msg: fmt.Sprintf("over-determined: the %d constraints on %d flow rates are "+
						"incompatible (residual %g m³/s)", len(rows), nE, math.Abs(r.AtVec(i))),
				}
			}
		}
	}

	fs := &FlowSheet{top: t, edges: make([]float64, nE)}
	for e := 0; e < nE; e++ {
		v := x.AtVec(e)
		if v < 0 {
			if -v > flowTolerance*scale {
				return nil, &FlowBalanceError{Edge: t.edges[e].String(),
					Msg: fmt.Sprintf("negative flow rate %g m³/s", v)}
			}
			v = 0
		}
		fs.edges[e] = v
	}
	return fs, nil
}

// rank returns the numerical rank of a, counting the singular values
// above max(m, n) * eps * the largest one.
func rank(a mat.Matrix) int {
	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDNone) {
		return 0
	}
	v := svd.Values(nil)
	if len(v) == 0 {
		return 0
	}
	m, n := a.Dims()
	tol := float64(max(m, n)) * v[0] * 0x1p-52
	r := 0
	for _, s := range v {
		if s > tol {
			r++
		}
	}
	return r
}

func zoneNames(t *Topology) []string {
	o := make([]string, len(t.zones))
	for i, z := range t.zones {
		o[i] = z.Name
	}
	return o
}

// passThrough handles a single zone without branch points, whose outflow
// equals the sum of its inflows.
func passThrough(t *Topology, b Boundary) (*FlowSheet, bool) {
	if len(t.zones) != 1 {
		return nil, false
	}
	z := t.zones[0]
	if len(t.out[z.Name]) != 1 {
		return nil, false
	}
	for _, name := range t.inlets {
		if len(t.out[name]) != 1 {
			return nil, false
		}
	}
	if len(b.Outlets) > 0 || len(b.Zones) > 0 {
		return nil, false
	}
	fs := &FlowSheet{top: t, edges: make([]float64, len(t.edges))}
	var total float64
	for _, name := range t.inlets {
		e := t.out[name][0]
		fs.edges[e] = b.Inlets[name]
		total += b.Inlets[name]
	}
	fs.edges[t.out[z.Name][0]] = total
	return fs, true
}

// FlowSheet holds the solved volumetric flow rate [m³/s] of every
// connection of a topology.
type FlowSheet struct {
	top   *Topology
	edges []float64
}

// Topology returns the topology the flows were solved for.
func (f *FlowSheet) Topology() *Topology { return f.top }

// Flow returns the flow rate of a connection.
func (f *FlowSheet) Flow(c Connection) float64 { return f.edges[c.Index] }

// EdgeFlow returns the flow rate of the connection from one node to
// another.
func (f *FlowSheet) EdgeFlow(from, to string) (float64, bool) {
	for _, e := range f.top.out[from] {
		if f.top.edges[e].To == to {
			return f.edges[e], true
		}
	}
	return 0, false
}

func (f *FlowSheet) sumIn(node string) float64 {
	var s float64
	for _, e := range f.top.in[node] {
		s += f.edges[e]
	}
	return s
}

func (f *FlowSheet) sumOut(node string) float64 {
	var s float64
	for _, e := range f.top.out[node] {
		s += f.edges[e]
	}
	return s
}

// ZoneFlow returns the flow rate through the columns of a zone.
func (f *FlowSheet) ZoneFlow(zone string) float64 { return f.sumIn(zone) }

// ZoneFlows returns the flow rate through each zone in carousel order.
func (f *FlowSheet) ZoneFlows() []float64 {
	o := make([]float64, len(f.top.zones))
	for i, z := range f.top.zones {
		o[i] = f.sumIn(z.Name)
	}
	return o
}

// OutletFlow returns the flow rate leaving through an outlet.
func (f *FlowSheet) OutletFlow(outlet string) float64 { return f.sumIn(outlet) }

// InletFlow returns the flow rate entering through an inlet.
func (f *FlowSheet) InletFlow(inlet string) float64 { return f.sumOut(inlet) }

// Fractions returns the split fractions at node, aligned with
// Topology.Outbound(node), as the flow on each outbound connection over
// the total outflow. Fixed fractions are reproduced and free fractions
// are derived.
func (f *FlowSheet) Fractions(node string) []float64 {
	out := f.top.out[node]
	o := make([]float64, len(out))
	total := f.sumOut(node)
	if total == 0 {
		if fixed, ok := f.top.fractions[node]; ok {
			copy(o, fixed)
		}
		return o
	}
	for i, e := range out {
		o[i] = f.edges[e] / total
	}
	return o
}

// TotalIn returns the sum of the inlet flow rates.
func (f *FlowSheet) TotalIn() float64 {
	var s float64
	for _, name := range f.top.inlets {
		s += f.sumOut(name)
	}
	return s
}

// TotalOut returns the sum of the outlet flow rates.
func (f *FlowSheet) TotalOut() float64 {
	var s float64
	for _, name := range f.top.outlets {
		s += f.sumIn(name)
	}
	return s
}

// Imbalance returns TotalIn - TotalOut.
func (f *FlowSheet) Imbalance() float64 { return f.TotalIn() - f.TotalOut() }
