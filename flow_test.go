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
	"math"
	"strings"
	"testing"

	"github.com/ctessum/unit"
	"gonum.org/v1/gonum/floats"
)

var fourZoneBoundary = Boundary{Inlets: map[string]float64{FeedInlet: 2e-8, EluentInlet: 4.14e-8}}

func TestSolveFlowsFourZone(t *testing.T) {
	top, err := fourZoneBuilder().Build()
	if err != nil {
		t.Fatal(err)
	}
	fs, err := SolveFlows(top, fourZoneBoundary)
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{1.397192e-7, 1.049292e-7, 1.249292e-7, 9.831924e-8}
	if have := fs.ZoneFlows(); !floats.EqualFunc(have, want, func(a, b float64) bool {
		return math.Abs(a-b)/b < 1e-5
	}) {
		t.Errorf("zone flows %v, want %v", have, want)
	}
	if q, _ := fs.EdgeFlow("zone_I", "extract"); math.Abs(q-3.47900e-8)/3.479e-8 > 1e-4 {
		t.Errorf("extract flow %g", q)
	}
	if f := fs.Fractions("zone_III"); math.Abs(f[0]-0.213) > 1e-12 {
		t.Errorf("raffinate fraction %g", f[0])
	}
	if imb := fs.Imbalance(); math.Abs(imb) > 1e-9*6.14e-8 {
		t.Errorf("imbalance %g", imb)
	}
	for _, z := range top.Zones() {
		var in, out float64
		for _, c := range top.Inbound(z.Name) {
			in += fs.Flow(c)
		}
		for _, c := range top.Outbound(z.Name) {
			out += fs.Flow(c)
		}
		if math.Abs(in-out) > 1e-20 {
			t.Errorf("%s: in %g out %g", z.Name, in, out)
		}
	}
}

// freeSplitBuilder returns a four-zone plant whose outlet splits are set by
// flow rates instead of fixed fractions.
func freeSplitBuilder() *Builder {
	return NewBuilder().
		AddInlet(EluentInlet).AddInlet(FeedInlet).
		AddOutlet("extract").AddOutlet("raffinate").
		AddZone("zone_I", 1).AddZone("zone_II", 1).AddZone("zone_III", 1).AddZone("zone_IV", 1).
		AddConnection(EluentInlet, "zone_I").
		AddConnection("zone_I", "extract").AddConnection("zone_I", "zone_II").
		AddConnection("zone_II", "zone_III").
		AddConnection(FeedInlet, "zone_III").
		AddConnection("zone_III", "raffinate").AddConnection("zone_III", "zone_IV").
		AddConnection("zone_IV", "zone_I").
		SetOutputFree("zone_I").SetOutputFree("zone_III")
}

func TestSolveFlowsOutletTargets(t *testing.T) {
	top, err := freeSplitBuilder().Build()
	if err != nil {
		t.Fatal(err)
	}
	b := Boundary{
		Inlets:  map[string]float64{FeedInlet: 2e-8, EluentInlet: 4e-8},
		Outlets: map[string]float64{"extract": 3.5e-8},
	}
	if _, err := SolveFlows(top, b); err == nil || !strings.Contains(err.Error(), "under-determined") {
		t.Errorf("have error %v, want under-determined", err)
	}
	b.Zones = map[string]float64{"zone_IV": 1e-7}
	fs, err := SolveFlows(top, b)
	if err != nil {
		t.Fatal(err)
	}
	if q := fs.OutletFlow("raffinate"); math.Abs(q-2.5e-8) > 1e-20 {
		t.Errorf("raffinate flow %g", q)
	}
	if q := fs.ZoneFlow("zone_I"); math.Abs(q-1.4e-7) > 1e-20 {
		t.Errorf("zone_I flow %g", q)
	}
}

func TestSolveFlowsErrors(t *testing.T) {
	top, err := fourZoneBuilder().Build()
	if err != nil {
		t.Fatal(err)
	}
	for _, test := range []struct {
		name string
		b    Boundary
		msg  string
	}{
		{
			name: "missing inlet",
			b:    Boundary{Inlets: map[string]float64{FeedInlet: 1}},
			msg:  "inlet flow rate is not specified",
		},
		{
			name: "negative inlet",
			b:    Boundary{Inlets: map[string]float64{FeedInlet: -1, EluentInlet: 1}},
			msg:  "invalid inlet flow rate",
		},
		{
			name: "unknown outlet",
			b: Boundary{Inlets: fourZoneBoundary.Inlets,
				Outlets: map[string]float64{"waste": 1}},
			msg: "unknown outlet",
		},
		{
			name: "over-determined",
			b: Boundary{Inlets: fourZoneBoundary.Inlets,
				Outlets: map[string]float64{"extract": 1e-8}},
			msg: "over-determined",
		},
		{
			name: "zone conflict",
			b: Boundary{Inlets: fourZoneBoundary.Inlets,
				Zones: map[string]float64{"zone_II": 0}},
			msg: "over-determined",
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			_, err := SolveFlows(top, test.b)
			var fe *FlowBalanceError
			if !errors.As(err, &fe) {
				t.Fatalf("error %v is not a FlowBalanceError", err)
			}
			if !strings.Contains(err.Error(), test.msg) {
				t.Errorf("error %q does not contain %q", err, test.msg)
			}
		})
	}
}

func TestSolveFlowsFreeSplitErrors(t *testing.T) {
	top, err := freeSplitBuilder().Build()
	if err != nil {
		t.Fatal(err)
	}
	inlets := map[string]float64{FeedInlet: 2e-8, EluentInlet: 4e-8}

	// Taking more from the extract than the inlets supply.
	_, err = SolveFlows(top, Boundary{
		Inlets:  inlets,
		Outlets: map[string]float64{"extract": 8e-8},
		Zones:   map[string]float64{"zone_IV": 1e-7},
	})
	var fe *FlowBalanceError
	if !errors.As(err, &fe) {
		t.Fatalf("error %v is not a FlowBalanceError", err)
	}
	if fe.Edge != "zone_III->raffinate" || !strings.Contains(err.Error(), "negative flow rate") {
		t.Errorf("have error %v, want a negative flow on zone_III->raffinate", err)
	}

	// Both outlet flows leave the recycle flow open even though there are
	// as many equations as unknowns.
	_, err = SolveFlows(top, Boundary{
		Inlets:  inlets,
		Outlets: map[string]float64{"extract": 3.5e-8, "raffinate": 2.5e-8},
	})
	if !errors.As(err, &fe) || !strings.Contains(err.Error(), "under-determined") {
		t.Errorf("have error %v, want under-determined", err)
	}
}

func TestSolveFlowsRecycleOnly(t *testing.T) {
	// With all inlets at zero and fixed fractions, the only solution is
	// no flow at all.
	top, err := fourZoneBuilder().Build()
	if err != nil {
		t.Fatal(err)
	}
	fs, err := SolveFlows(top, Boundary{Inlets: map[string]float64{FeedInlet: 0, EluentInlet: 0}})
	if err != nil {
		t.Fatal(err)
	}
	for _, q := range fs.ZoneFlows() {
		if q != 0 {
			t.Errorf("zone flows %v", fs.ZoneFlows())
			break
		}
	}
}

func TestSolveFlowsPassThrough(t *testing.T) {
	top, err := Config{NumZones: 1, ColumnsPerZone: []int{1}, SwitchTime: 1, NumCycles: 1}.Topology()
	if err != nil {
		t.Fatal(err)
	}
	fs, err := SolveFlows(top, Boundary{Inlets: map[string]float64{FeedInlet: 1e-8, EluentInlet: 2e-8}})
	if err != nil {
		t.Fatal(err)
	}
	if q := fs.OutletFlow("raffinate"); math.Abs(q-3e-8) > 1e-22 {
		t.Errorf("outlet flow %g", q)
	}
	if q := fs.ZoneFlow("zone_I"); math.Abs(q-3e-8) > 1e-22 {
		t.Errorf("zone flow %g", q)
	}
}

func TestFlowRate(t *testing.T) {
	q, err := FlowRate(unit.New(2e-8, unit.Meter3PerSecond))
	if err != nil || q != 2e-8 {
		t.Errorf("have %g, %v", q, err)
	}
	if _, err := FlowRate(unit.New(2e-8, unit.MeterPerSecond)); err == nil {
		t.Error("a velocity is not a flow rate")
	}
	if _, err := FlowRate(nil); err == nil {
		t.Error("missing flow rate should be an error")
	}
}
