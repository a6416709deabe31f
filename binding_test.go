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
	"testing"

	"github.com/kr/pretty"
	"gonum.org/v1/gonum/floats"
)

func TestComponentSystem(t *testing.T) {
	cs, err := NewComponentSystem("Salt", " A ", "B")
	if err != nil {
		t.Fatal(err)
	}
	if i, ok := cs.Index("A"); !ok || i != 1 {
		t.Errorf("index of A is %d, %v", i, ok)
	}
	names := cs.Names()
	names[0] = "changed"
	if cs.Names()[0] != "Salt" {
		t.Error("Names should return a copy")
	}
	for _, bad := range [][]string{nil, {"A", "A"}, {"A", ""}} {
		if _, err := NewComponentSystem(bad...); err == nil {
			t.Errorf("%q should be rejected", bad)
		}
	}
}

func TestLinear(t *testing.T) {
	cs, err := NewComponentSystem("A", "B")
	if err != nil {
		t.Fatal(err)
	}
	l := &Linear{AdsorptionRate: []float64{2, 3}, DesorptionRate: []float64{1, 1}}
	if err := l.Validate(cs); err != nil {
		t.Fatal(err)
	}
	if h := l.Henry(1); h != 3 {
		t.Errorf("Henry coefficient %g", h)
	}
	if n := NumBound(l); n != 2 {
		t.Errorf("%d bound states", n)
	}
	for _, bad := range []*Linear{
		{AdsorptionRate: []float64{2}, DesorptionRate: []float64{1, 1}},
		{AdsorptionRate: []float64{2, -3}, DesorptionRate: []float64{1, 1}},
		{AdsorptionRate: []float64{2, 3}, DesorptionRate: []float64{1, 0}},
	} {
		var ce *ConfigurationError
		if err := bad.Validate(cs); !errors.As(err, &ce) {
			t.Errorf("%+v: have error %v", bad, err)
		}
	}
}

// multistate returns a salt and one protein with two bound states.
func multistate() *MultistateSMA {
	return &MultistateSMA{
		BoundStatesPerComponent:  []int{1, 2},
		IsKinetic:                true,
		AdsorptionRate:           []float64{0, 1.935, 1.935},
		DesorptionRate:           []float64{0, 1, 1},
		CharacteristicCharge:     []float64{0, 4.7, 4.7},
		StericFactor:             []float64{0, 11.83, 11.83},
		Capacity:                 1200,
		ReferenceLiquidPhaseConc: 1,
		ReferenceSolidPhaseConc:  1200,
		ConversionRates: map[Transition]float64{
			{Component: "A", From: 0, To: 1}: 9.4e39,
			{Component: "A", From: 1, To: 0}: 9.5,
		},
	}
}

func TestMultistateSMA(t *testing.T) {
	cs, err := NewComponentSystem("Salt", "A")
	if err != nil {
		t.Fatal(err)
	}
	m := multistate()
	if err := m.Validate(cs); err != nil {
		t.Fatal(err)
	}
	if n := NumBound(m); n != 3 {
		t.Errorf("%d bound states", n)
	}
	v := m.ConversionRateVector()
	if want := []float64{0, 0, 9.4e39, 9.5, 0}; !floats.Equal(v, want) {
		t.Errorf("conversion rate vector %v, want %v", v, want)
	}
	back, err := ConversionRatesFromVector(cs.Names(), m.BoundStates(), v)
	if err != nil {
		t.Fatal(err)
	}
	want := map[Transition]float64{
		{Component: "A", From: 0, To: 0}: 0,
		{Component: "A", From: 0, To: 1}: 9.4e39,
		{Component: "A", From: 1, To: 0}: 9.5,
		{Component: "A", From: 1, To: 1}: 0,
	}
	if diff := pretty.Diff(back, want); len(diff) != 0 {
		t.Error(diff)
	}
	if _, err := ConversionRatesFromVector(cs.Names(), m.BoundStates(), v[:4]); err == nil {
		t.Error("a short vector should be rejected")
	}
}

func TestMultistateSMAErrors(t *testing.T) {
	cs, err := NewComponentSystem("Salt", "A")
	if err != nil {
		t.Fatal(err)
	}
	for _, test := range []struct {
		name, field string
		edit        func(*MultistateSMA)
	}{
		{"states", "Binding.BoundStates", func(m *MultistateSMA) { m.BoundStatesPerComponent = []int{1, 0} }},
		{"per state", "Binding.StericFactor", func(m *MultistateSMA) { m.StericFactor = m.StericFactor[:2] }},
		{"capacity", "Binding.Capacity", func(m *MultistateSMA) { m.Capacity = 0 }},
		{"missing transition", "Binding.ConversionRates", func(m *MultistateSMA) {
			delete(m.ConversionRates, Transition{Component: "A", From: 1, To: 0})
		}},
		{"self conversion", "Binding.ConversionRates", func(m *MultistateSMA) {
			m.ConversionRates[Transition{Component: "A", From: 1, To: 1}] = 2
		}},
		{"out of range", "Binding.ConversionRates", func(m *MultistateSMA) {
			m.ConversionRates[Transition{Component: "A", From: 0, To: 2}] = 2
		}},
		{"unknown component", "Binding.ConversionRates", func(m *MultistateSMA) {
			m.ConversionRates[Transition{Component: "B", From: 0, To: 1}] = 2
		}},
	} {
		m := multistate()
		test.edit(m)
		var ce *ConfigurationError
		if err := m.Validate(cs); !errors.As(err, &ce) || ce.Field != test.field {
			t.Errorf("%s: have error %v", test.name, err)
		}
	}
}
