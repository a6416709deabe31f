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
)

// SplitTolerance is the tolerance on the sum of the split fractions at a
// branch point.
const SplitTolerance = 1e-6

// NodeKind is the kind of a node in the flow network.
type NodeKind int

// The kinds of node.
const (
	ZoneNode NodeKind = iota + 1
	InletNode
	OutletNode
)

func (k NodeKind) String() string {
	switch k {
	case ZoneNode:
		return "zone"
	case InletNode:
		return "inlet"
	case OutletNode:
		return "outlet"
	default:
		return fmt.Sprintf("NodeKind(%d)", int(k))
	}
}

// Zone is a logical position in the carousel holding a serial chain of
// NumColumns identical columns.
type Zone struct {
	Name string

	// Index is the position of the zone in carousel (flow) order.
	Index int

	NumColumns int

	// FirstSlot is the carousel slot of the first column in the zone.
	// The zone holds slots FirstSlot through FirstSlot+NumColumns-1.
	FirstSlot int

	// ValveDeadVolume is the volume [m³] of the piping and valves in
	// front of each column of the zone.
	ValveDeadVolume float64
}

// ZoneOption sets an optional zone parameter.
type ZoneOption func(*Zone)

// ValveDeadVolume sets the valve dead volume [m³] of a zone.
func ValveDeadVolume(v float64) ZoneOption {
	return func(z *Zone) { z.ValveDeadVolume = v }
}

// Connection is a directed edge of the flow network.
type Connection struct {
	From, To string
	// Index is the position of the connection in Topology.Connections.
	Index int
}

func (c Connection) String() string { return c.From + "->" + c.To }

type node struct {
	name string
	kind NodeKind
	zone *Zone
}

// Builder assembles a Topology. Methods record the first error they
// encounter, which is returned by Build, so calls can be chained.
type Builder struct {
	nodes     map[string]*node
	order     []string
	edges     []Connection
	fractions map[string][]float64
	free      map[string]bool
	err       error
}

// NewBuilder returns an empty topology builder.
func NewBuilder() *Builder {
	return &Builder{
		nodes:     make(map[string]*node),
		fractions: make(map[string][]float64),
		free:      make(map[string]bool),
	}
}

func (b *Builder) fail(err error) *Builder {
	if b.err == nil {
		b.err = err
	}
	return b
}

func (b *Builder) add(name string, kind NodeKind, z *Zone) *Builder {
	if name == "" {
		return b.fail(&TopologyError{Msg: fmt.Sprintf("%s with empty name", kind)})
	}
	if _, ok := b.nodes[name]; ok {
		return b.fail(&TopologyError{Node: name, Msg: "duplicate name"})
	}
	b.nodes[name] = &node{name: name, kind: kind, zone: z}
	b.order = append(b.order, name)
	return b
}

// AddZone adds a zone of nColumns columns in series.
func (b *Builder) AddZone(name string, nColumns int, opts ...ZoneOption) *Builder {
	z := &Zone{Name: name, NumColumns: nColumns}
	for _, o := range opts {
		o(z)
	}
	return b.add(name, ZoneNode, z)
}

// AddInlet adds an external source such as the feed or the eluent.
func (b *Builder) AddInlet(name string) *Builder { return b.add(name, InletNode, nil) }

// AddOutlet adds an external sink such as an extract or a raffinate.
func (b *Builder) AddOutlet(name string) *Builder { return b.add(name, OutletNode, nil) }

// AddConnection adds a directed edge from one node to another.
func (b *Builder) AddConnection(from, to string) *Builder {
	c := Connection{From: from, To: to, Index: len(b.edges)}
	for _, e := range b.edges {
		if e.From == from && e.To == to {
			return b.fail(&TopologyError{Edge: c.String(), Msg: "duplicate connection"})
		}
	}
	b.edges = append(b.edges, c)
	return b
}

// SetOutputState fixes the split of the outflow of node across its
// outbound connections, in the order the connections were added.
func (b *Builder) SetOutputState(node string, fractions ...float64) *Builder {
	if _, ok := b.fractions[node]; ok || b.free[node] {
		return b.fail(&TopologyError{Node: node, Msg: "output state set twice"})
	}
	b.fractions[node] = append([]float64(nil), fractions...)
	return b
}

// SetOutputFree declares that the split at a branch point is not fixed but
// is determined by the outlet flow rates given to SolveFlows.
func (b *Builder) SetOutputFree(node string) *Builder {
	if _, ok := b.fractions[node]; ok || b.free[node] {
		return b.fail(&TopologyError{Node: node, Msg: "output state set twice"})
	}
	b.free[node] = true
	return b
}

// Build validates the network and returns the immutable topology.
func (b *Builder) Build() (*Topology, error) {
	if b.err != nil {
		return nil, b.err
	}
	t := &Topology{
		kinds:     make(map[string]NodeKind),
		zoneIndex: make(map[string]int),
		in:        make(map[string][]int),
		out:       make(map[string][]int),
		fractions: make(map[string][]float64),
		free:      make(map[string]bool),
	}
	var zones []*Zone
	for _, name := range b.order {
		n := b.nodes[name]
		t.kinds[name] = n.kind
		switch n.kind {
		case ZoneNode:
			if n.zone.NumColumns < 1 {
				return nil, &TopologyError{Node: name,
					Msg: fmt.Sprintf("zone has %d columns", n.zone.NumColumns)}
			}
			if n.zone.ValveDeadVolume < 0 || math.IsNaN(n.zone.ValveDeadVolume) {
				return nil, &TopologyError{Node: name,
					Msg: fmt.Sprintf("invalid valve dead volume %g", n.zone.ValveDeadVolume)}
			}
			z := *n.zone
			zones = append(zones, &z)
		case InletNode:
			t.inlets = append(t.inlets, name)
		case OutletNode:
			t.outlets = append(t.outlets, name)
		}
	}
	if len(zones) == 0 {
		return nil, &TopologyError{Msg: "no zones"}
	}

	for _, e := range b.edges {
		fk, ok := t.kinds[e.From]
		if !ok {
			return nil, &TopologyError{Edge: e.String(), Msg: fmt.Sprintf("unknown node %q", e.From)}
		}
		tk, ok := t.kinds[e.To]
		if !ok {
			return nil, &TopologyError{Edge: e.String(), Msg: fmt.Sprintf("unknown node %q", e.To)}
		}
		switch {
		case e.From == e.To:
			return nil, &TopologyError{Edge: e.String(), Msg: "connection to itself"}
		case tk == InletNode:
			return nil, &TopologyError{Edge: e.String(), Node: e.To, Msg: "inlet cannot receive flow"}
		case fk == OutletNode:
			return nil, &TopologyError{Edge: e.String(), Node: e.From, Msg: "outlet cannot send flow"}
		case fk == InletNode && tk == OutletNode:
			return nil, &TopologyError{Edge: e.String(), Msg: "inlet connected directly to outlet"}
		}
		t.edges = append(t.edges, e)
		t.out[e.From] = append(t.out[e.From], e.Index)
		t.in[e.To] = append(t.in[e.To], e.Index)
	}

	for _, name := range b.order {
		switch t.kinds[name] {
		case ZoneNode:
			if len(t.out[name]) == 0 {
				return nil, &TopologyError{Node: name, Msg: "zone has no outgoing connection"}
			}
			if len(t.in[name]) == 0 {
				return nil, &TopologyError{Node: name, Msg: "zone has no incoming connection"}
			}
		case InletNode:
			if len(t.out[name]) == 0 {
				return nil, &TopologyError{Node: name, Msg: "inlet is not connected"}
			}
		case OutletNode:
			if len(t.in[name]) == 0 {
				return nil, &TopologyError{Node: name, Msg: "outlet is not connected"}
			}
		}
	}

	for name := range b.fractions {
		if _, ok := t.kinds[name]; !ok {
			return nil, &TopologyError{Node: name, Msg: "output state set for unknown node"}
		}
	}
	for name := range b.free {
		if _, ok := t.kinds[name]; !ok {
			return nil, &TopologyError{Node: name, Msg: "output state set for unknown node"}
		}
	}
	for _, name := range b.order {
		if err := b.checkSplit(t, name); err != nil {
			return nil, err
		}
	}

	order, err := carouselOrder(t, zones)
	if err != nil {
		return nil, err
	}
	slot := 0
	for i, z := range order {
		z.Index = i
		z.FirstSlot = slot
		slot += z.NumColumns
		t.zoneIndex[z.Name] = i
	}
	t.zones = order
	t.nColumns = slot
	return t, nil
}

func (b *Builder) checkSplit(t *Topology, name string) error {
	nOut := len(t.out[name])
	f, fixed := b.fractions[name]
	if t.kinds[name] == OutletNode {
		if fixed || b.free[name] {
			return &TopologyError{Node: name, Msg: "outlet cannot have an output state"}
		}
		return nil
	}
	if b.free[name] {
		if nOut < 2 {
			return &TopologyError{Node: name, Msg: "free output state on a node without a branch"}
		}
		t.free[name] = true
		return nil
	}
	if !fixed {
		if nOut > 1 {
			return &TopologyError{Node: name,
				Msg: fmt.Sprintf("split fractions missing for %d outgoing connections", nOut)}
		}
		t.fractions[name] = []float64{1}
		return nil
	}
	if len(f) != nOut {
		return &TopologyError{Node: name,
			Msg: fmt.Sprintf("%d split fractions for %d outgoing connections", len(f), nOut)}
	}
	var sum float64
	for i, w := range f {
		if !(w >= 0 && w <= 1) {
			return &TopologyError{Node: name, Edge: t.edges[t.out[name][i]].String(),
				Msg: fmt.Sprintf("split fraction %g outside [0, 1]", w)}
		}
		sum += w
	}
	if math.Abs(sum-1) > SplitTolerance {
		return &TopologyError{Node: name,
			Msg: fmt.Sprintf("split fractions sum to %g, not 1", sum)}
	}
	t.fractions[name] = f
	return nil
}

// carouselOrder follows the zone-to-zone connections from the first zone
// and checks that they form exactly one closed cycle through every zone.
func carouselOrder(t *Topology, zones []*Zone) ([]*Zone, error) {
	byName := make(map[string]*Zone, len(zones))
	for _, z := range zones {
		byName[z.Name] = z
	}
	next := make(map[string]string)
	for _, z := range zones {
		var nIn int
		for _, e := range t.in[z.Name] {
			if t.kinds[t.edges[e].From] == ZoneNode {
				nIn++
			}
		}
		for _, e := range t.out[z.Name] {
			c := t.edges[e]
			if t.kinds[c.To] != ZoneNode {
				continue
			}
			if _, ok := next[z.Name]; ok {
				return nil, &TopologyError{Node: z.Name, Edge: c.String(),
					Msg: "zone feeds more than one zone"}
			}
			next[z.Name] = c.To
		}
		if nIn > 1 {
			return nil, &TopologyError{Node: z.Name, Msg: "zone is fed by more than one zone"}
		}
	}
	if len(zones) == 1 {
		// A single zone is a pass-through and closes no carousel.
		return zones, nil
	}
	order := make([]*Zone, 0, len(zones))
	visited := make(map[string]bool)
	cur := zones[0].Name
	for {
		if visited[cur] {
			break
		}
		visited[cur] = true
		order = append(order, byName[cur])
		n, ok := next[cur]
		if !ok {
			return nil, &TopologyError{Node: cur, Msg: "carousel is not closed: zone feeds no zone"}
		}
		cur = n
	}
	if cur != zones[0].Name {
		return nil, &TopologyError{Node: cur, Msg: "carousel is not closed: cycle does not return to the first zone"}
	}
	if len(order) != len(zones) {
		for _, z := range zones {
			if !visited[z.Name] {
				return nil, &TopologyError{Node: z.Name, Msg: "zone is not part of the carousel"}
			}
		}
	}
	return order, nil
}

// Topology is a validated, immutable flow network.
type Topology struct {
	zones     []*Zone
	zoneIndex map[string]int
	inlets    []string
	outlets   []string
	edges     []Connection
	kinds     map[string]NodeKind
	in, out   map[string][]int
	fractions map[string][]float64
	free      map[string]bool
	nColumns  int
}

// Zones returns the zones in carousel order.
func (t *Topology) Zones() []Zone {
	o := make([]Zone, len(t.zones))
	for i, z := range t.zones {
		o[i] = *z
	}
	return o
}

// NumZones returns the number of zones.
func (t *Topology) NumZones() int { return len(t.zones) }

// Zone returns the named zone.
func (t *Topology) Zone(name string) (Zone, bool) {
	i, ok := t.zoneIndex[name]
	if !ok {
		return Zone{}, false
	}
	return *t.zones[i], true
}

// Inlets returns the inlet names in the order they were added.
func (t *Topology) Inlets() []string { return append([]string(nil), t.inlets...) }

// Outlets returns the outlet names in the order they were added.
func (t *Topology) Outlets() []string { return append([]string(nil), t.outlets...) }

// Connections returns every connection.
func (t *Topology) Connections() []Connection { return append([]Connection(nil), t.edges...) }

// Kind returns the kind of the named node, or 0 if it does not exist.
func (t *Topology) Kind(name string) NodeKind { return t.kinds[name] }

// Outbound returns the connections leaving node, in the order they were
// added.
func (t *Topology) Outbound(node string) []Connection {
	o := make([]Connection, len(t.out[node]))
	for i, e := range t.out[node] {
		o[i] = t.edges[e]
	}
	return o
}

// Inbound returns the connections entering node.
func (t *Topology) Inbound(node string) []Connection {
	o := make([]Connection, len(t.in[node]))
	for i, e := range t.in[node] {
		o[i] = t.edges[e]
	}
	return o
}

// SplitFractions returns the fixed split fractions at node, aligned with
// Outbound(node). ok is false if the split is free.
func (t *Topology) SplitFractions(node string) (fractions []float64, ok bool) {
	f, ok := t.fractions[node]
	if !ok {
		return nil, false
	}
	return append([]float64(nil), f...), true
}

// NumColumns returns the total number of columns (carousel slots).
func (t *Topology) NumColumns() int { return t.nColumns }

// SlotZone returns the zone holding carousel slot s and the position of
// the slot within the zone.
func (t *Topology) SlotZone(s int) (Zone, int) {
	for _, z := range t.zones {
		if s >= z.FirstSlot && s < z.FirstSlot+z.NumColumns {
			return *z, s - z.FirstSlot
		}
	}
	panic(fmt.Errorf("smb: slot %d out of range [0, %d)", s, t.nColumns))
}

// upstreamZone returns the zone that feeds zone i in the carousel.
func (t *Topology) upstreamZone(i int) int {
	return (i - 1 + len(t.zones)) % len(t.zones)
}

// cycleEdge returns the index of the zone-to-zone connection leaving zone i.
func (t *Topology) cycleEdge(i int) (int, bool) {
	for _, e := range t.out[t.zones[i].Name] {
		if t.kinds[t.edges[e].To] == ZoneNode {
			return e, true
		}
	}
	return 0, false
}
