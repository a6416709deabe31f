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
	"encoding/gob"
	"fmt"
	"sort"
)

func init() {
	gob.Register(&Linear{})
	gob.Register(&MultistateSMA{})
}

// BindingModel holds the adsorption parameters of the stationary phase.
// Binding kinetics are evaluated by the Solver; the implementations here
// only carry and validate parameters.
type BindingModel interface {
	// Name identifies the model to solvers.
	Name() string

	// BoundStates returns the number of bound states of each component.
	BoundStates() []int

	// Validate checks the parameters against the component system.
	Validate(cs *ComponentSystem) error
}

// NumBound returns the total number of bound states of a binding model.
func NumBound(b BindingModel) int {
	n := 0
	for _, s := range b.BoundStates() {
		n += s
	}
	return n
}

// Linear is a linear isotherm with one bound state per component.
type Linear struct {
	IsKinetic      bool
	AdsorptionRate []float64 // k_a [1/s]
	DesorptionRate []float64 // k_d [1/s]
}

// Name implements BindingModel.
func (l *Linear) Name() string { return "Linear" }

// BoundStates implements BindingModel.
func (l *Linear) BoundStates() []int {
	o := make([]int, len(l.AdsorptionRate))
	for i := range o {
		o[i] = 1
	}
	return o
}

// Henry returns the Henry coefficient k_a/k_d of component i.
func (l *Linear) Henry(i int) float64 {
	if l.DesorptionRate[i] == 0 {
		return 0
	}
	return l.AdsorptionRate[i] / l.DesorptionRate[i]
}

// Validate implements BindingModel.
func (l *Linear) Validate(cs *ComponentSystem) error {
	if len(l.AdsorptionRate) != cs.N() {
		return configErrorf("Binding.AdsorptionRate", "has %d values for %d components",
			len(l.AdsorptionRate), cs.N())
	}
	if len(l.DesorptionRate) != cs.N() {
		return configErrorf("Binding.DesorptionRate", "has %d values for %d components",
			len(l.DesorptionRate), cs.N())
	}
	for i := range l.AdsorptionRate {
		if l.AdsorptionRate[i] < 0 || l.DesorptionRate[i] < 0 {
			return configErrorf("Binding", "negative rate for component %s", cs.names[i])
		}
		if l.AdsorptionRate[i] > 0 && l.DesorptionRate[i] == 0 {
			return configErrorf("Binding.DesorptionRate",
				"component %s adsorbs but never desorbs", cs.names[i])
		}
	}
	return nil
}

// Transition identifies a conversion between two bound states of a
// component.
type Transition struct {
	Component string
	From, To  int
}

func (t Transition) String() string {
	return fmt.Sprintf("%s:%d->%d", t.Component, t.From, t.To)
}

// MultistateSMA is the multi-state steric mass action model. Parameters that
// are given per bound state are ordered component-major: all states of the
// first component, then all states of the second, and so on.
type MultistateSMA struct {
	// BoundStatesPerComponent gives the number of bound states of each
	// component. The first component is the salt and has one state.
	BoundStatesPerComponent []int
	IsKinetic               bool

	AdsorptionRate       []float64 // k_a [m³ mobile phase / (m³ solid phase s)]
	DesorptionRate       []float64 // k_d [1/s]
	CharacteristicCharge []float64 // ν [-]
	StericFactor         []float64 // σ [-]

	Capacity                 float64 // Λ [mol / m³ solid phase]
	ReferenceLiquidPhaseConc float64
	ReferenceSolidPhaseConc  float64

	// ConversionRates holds the rate of every transition between bound
	// states [1/s]. Every From != To pair of every component with more
	// than one bound state must be present.
	ConversionRates map[Transition]float64

	components []string
}

// Name implements BindingModel.
func (m *MultistateSMA) Name() string { return "MultistateStericMassAction" }

// BoundStates implements BindingModel.
func (m *MultistateSMA) BoundStates() []int {
	o := make([]int, len(m.BoundStatesPerComponent))
	copy(o, m.BoundStatesPerComponent)
	return o
}

// Validate implements BindingModel. It also records the component names so
// that ConversionRateVector can be called afterwards.
func (m *MultistateSMA) Validate(cs *ComponentSystem) error {
	if len(m.BoundStatesPerComponent) != cs.N() {
		return configErrorf("Binding.BoundStates", "has %d values for %d components",
			len(m.BoundStatesPerComponent), cs.N())
	}
	nBound := 0
	for i, s := range m.BoundStatesPerComponent {
		if s < 1 {
			return configErrorf("Binding.BoundStates", "component %s has %d bound states",
				cs.names[i], s)
		}
		nBound += s
	}
	perState := map[string][]float64{
		"Binding.AdsorptionRate":       m.AdsorptionRate,
		"Binding.DesorptionRate":       m.DesorptionRate,
		"Binding.CharacteristicCharge": m.CharacteristicCharge,
		"Binding.StericFactor":         m.StericFactor,
	}
	for _, name := range sortedKeys(perState) {
		if v := perState[name]; len(v) != nBound {
			return configErrorf(name, "has %d values for %d bound states", len(v), nBound)
		}
	}
	if !(m.Capacity > 0) {
		return configErrorf("Binding.Capacity", "must be > 0 but is %g", m.Capacity)
	}

	for tr, rate := range m.ConversionRates {
		ci, ok := cs.Index(tr.Component)
		if !ok {
			return configErrorf("Binding.ConversionRates", "unknown component in %s", tr)
		}
		n := m.BoundStatesPerComponent[ci]
		if tr.From < 0 || tr.From >= n || tr.To < 0 || tr.To >= n {
			return configErrorf("Binding.ConversionRates",
				"%s is out of range: component has %d bound states", tr, n)
		}
		if tr.From == tr.To && rate != 0 {
			return configErrorf("Binding.ConversionRates",
				"%s converts a state into itself with non-zero rate %g", tr, rate)
		}
		if rate < 0 {
			return configErrorf("Binding.ConversionRates", "%s has negative rate %g", tr, rate)
		}
	}
	for ci, n := range m.BoundStatesPerComponent {
		if n < 2 {
			continue
		}
		for from := 0; from < n; from++ {
			for to := 0; to < n; to++ {
				if from == to {
					continue
				}
				tr := Transition{Component: cs.names[ci], From: from, To: to}
				if _, ok := m.ConversionRates[tr]; !ok {
					return configErrorf("Binding.ConversionRates", "missing transition %s", tr)
				}
			}
		}
	}
	m.components = cs.Names()
	return nil
}

// ConversionRateVector returns the conversion rates in the flattened
// layout used by external solvers: for each component, an n×n row-major
// block indexed by (from, to), where n is that component's number of bound
// states. Validate must have been called first.
func (m *MultistateSMA) ConversionRateVector() []float64 {
	var o []float64
	for ci, n := range m.BoundStatesPerComponent {
		for from := 0; from < n; from++ {
			for to := 0; to < n; to++ {
				var c string
				if ci < len(m.components) {
					c = m.components[ci]
				}
				o = append(o, m.ConversionRates[Transition{Component: c, From: from, To: to}])
			}
		}
	}
	return o
}

// ConversionRatesFromVector is the inverse of ConversionRateVector: it
// builds the transition map of the components with more than one bound
// state from the flattened layout.
func ConversionRatesFromVector(components []string, boundStates []int, v []float64) (map[Transition]float64, error) {
	if len(components) != len(boundStates) {
		return nil, configErrorf("Binding.ConversionRates", "%d components but %d bound state counts",
			len(components), len(boundStates))
	}
	want := 0
	for _, n := range boundStates {
		want += n * n
	}
	if len(v) != want {
		return nil, configErrorf("Binding.ConversionRates", "has %d values but %d are required", len(v), want)
	}
	o := make(map[Transition]float64)
	k := 0
	for ci, n := range boundStates {
		for from := 0; from < n; from++ {
			for to := 0; to < n; to++ {
				if n > 1 {
					o[Transition{Component: components[ci], From: from, To: to}] = v[k]
				}
				k++
			}
		}
	}
	return o, nil
}

func sortedKeys(m map[string][]float64) []string {
	o := make([]string, 0, len(m))
	for k := range m {
		o = append(o, k)
	}
	sort.Strings(o)
	return o
}
