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

	"github.com/ctessum/unit"
	"gonum.org/v1/gonum/floats"
)

var (
	meter2PerSecond = unit.Dimensions{unit.LengthDim: 2, unit.TimeDim: -1}
)

// ColumnSpec holds the user-facing column parameters. Dimensioned values
// are given as units so that values copied from papers in the wrong units
// are caught when the geometry is created.
type ColumnSpec struct {
	Length           *unit.Unit // L [m]
	Diameter         *unit.Unit // d [m]
	BedPorosity      float64    // ε_c [-]
	ParticlePorosity float64    // ε_p [-]
	ParticleRadius   *unit.Unit // r_p [m]

	FilmDiffusion   []*unit.Unit // k_f [m/s], one per component
	PoreDiffusion   []*unit.Unit // D_p [m²/s], one per component
	AxialDispersion *unit.Unit   // D_ax [m²/s]

	AxialCells    int // N_z
	ParticleCells int // N_r
}

// ColumnGeometry is the validated, SI-valued form of a ColumnSpec. All
// columns in a carousel share one geometry.
type ColumnGeometry struct {
	Length           float64
	Diameter         float64
	BedPorosity      float64
	ParticlePorosity float64
	ParticleRadius   float64
	FilmDiffusion    []float64
	PoreDiffusion    []float64
	AxialDispersion  float64
	AxialCells       int
	ParticleCells    int
}

// NewColumnGeometry checks the dimensions and ranges of spec.
func NewColumnGeometry(spec ColumnSpec, cs *ComponentSystem) (*ColumnGeometry, error) {
	g := &ColumnGeometry{
		BedPorosity:      spec.BedPorosity,
		ParticlePorosity: spec.ParticlePorosity,
		AxialCells:       spec.AxialCells,
		ParticleCells:    spec.ParticleCells,
	}
	var err error
	if g.Length, err = positive("Column.Length", spec.Length, unit.Meter); err != nil {
		return nil, err
	}
	if g.Diameter, err = positive("Column.Diameter", spec.Diameter, unit.Meter); err != nil {
		return nil, err
	}
	if g.ParticleRadius, err = positive("Column.ParticleRadius", spec.ParticleRadius, unit.Meter); err != nil {
		return nil, err
	}
	if g.AxialDispersion, err = nonNegative("Column.AxialDispersion", spec.AxialDispersion, meter2PerSecond); err != nil {
		return nil, err
	}
	if !(g.BedPorosity > 0 && g.BedPorosity <= 1) {
		return nil, configErrorf("Column.BedPorosity", "must be in (0, 1] but is %g", g.BedPorosity)
	}
	if !(g.ParticlePorosity >= 0 && g.ParticlePorosity <= 1) {
		return nil, configErrorf("Column.ParticlePorosity", "must be in [0, 1] but is %g", g.ParticlePorosity)
	}
	if g.AxialCells < 1 {
		return nil, configErrorf("Column.AxialCells", "must be >= 1 but is %d", g.AxialCells)
	}
	if g.ParticleCells < 0 {
		return nil, configErrorf("Column.ParticleCells", "must be >= 0 but is %d", g.ParticleCells)
	}
	if g.FilmDiffusion, err = perComponent("Column.FilmDiffusion", spec.FilmDiffusion, unit.MeterPerSecond, cs); err != nil {
		return nil, err
	}
	if g.PoreDiffusion, err = perComponent("Column.PoreDiffusion", spec.PoreDiffusion, meter2PerSecond, cs); err != nil {
		return nil, err
	}
	return g, nil
}

func positive(field string, u *unit.Unit, d unit.Dimensions) (float64, error) {
	v, err := nonNegative(field, u, d)
	if err != nil {
		return 0, err
	}
	if v == 0 {
		return 0, configErrorf(field, "must be > 0")
	}
	return v, nil
}

func nonNegative(field string, u *unit.Unit, d unit.Dimensions) (float64, error) {
	if u == nil {
		return 0, configErrorf(field, "is not specified")
	}
	if err := u.Check(d); err != nil {
		return 0, configErrorf(field, "%v", err)
	}
	v := u.Value()
	if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, configErrorf(field, "invalid value %g", v)
	}
	return v, nil
}

func perComponent(field string, us []*unit.Unit, d unit.Dimensions, cs *ComponentSystem) ([]float64, error) {
	if len(us) != cs.N() {
		return nil, configErrorf(field, "has %d values for %d components", len(us), cs.N())
	}
	o := make([]float64, len(us))
	for i, u := range us {
		v, err := nonNegative(fmt.Sprintf("%s[%s]", field, cs.names[i]), u, d)
		if err != nil {
			return nil, err
		}
		o[i] = v
	}
	return o, nil
}

// CrossSection returns the column cross-sectional area [m²].
func (g *ColumnGeometry) CrossSection() float64 {
	return math.Pi * g.Diameter * g.Diameter / 4
}

// Volume returns the empty column volume [m³].
func (g *ColumnGeometry) Volume() float64 { return g.CrossSection() * g.Length }

// TotalPorosity returns ε_t = ε_c + (1-ε_c)ε_p.
func (g *ColumnGeometry) TotalPorosity() float64 {
	return g.BedPorosity + (1-g.BedPorosity)*g.ParticlePorosity
}

// InterstitialVelocity returns the interstitial velocity [m/s] for the
// volumetric flow rate q [m³/s].
func (g *ColumnGeometry) InterstitialVelocity(q float64) float64 {
	return q / (g.CrossSection() * g.BedPorosity)
}

// CellCenters returns the axial positions [m] of the cell centers.
func (g *ColumnGeometry) CellCenters() []float64 {
	dz := g.Length / float64(g.AxialCells)
	o := make([]float64, g.AxialCells)
	for i := range o {
		o[i] = (float64(i) + 0.5) * dz
	}
	return o
}

// ColumnState is the mutable content of a column: the bulk concentration
// profile, indexed [component][cell], and the bound-phase profile, indexed
// [bound state][cell] with bound states ordered component-major.
type ColumnState struct {
	Bulk  [][]float64
	Solid [][]float64
}

// NewColumnState returns a zero state for nComp components, nBound bound
// states and nCells axial cells.
func NewColumnState(nComp, nBound, nCells int) *ColumnState {
	s := &ColumnState{
		Bulk:  make([][]float64, nComp),
		Solid: make([][]float64, nBound),
	}
	for i := range s.Bulk {
		s.Bulk[i] = make([]float64, nCells)
	}
	for i := range s.Solid {
		s.Solid[i] = make([]float64, nCells)
	}
	return s
}

// Clone returns a deep copy of s.
func (s *ColumnState) Clone() *ColumnState {
	o := &ColumnState{
		Bulk:  make([][]float64, len(s.Bulk)),
		Solid: make([][]float64, len(s.Solid)),
	}
	for i, v := range s.Bulk {
		o.Bulk[i] = append([]float64(nil), v...)
	}
	for i, v := range s.Solid {
		o.Solid[i] = append([]float64(nil), v...)
	}
	return o
}

// Equal reports whether s and o hold identical values.
func (s *ColumnState) Equal(o *ColumnState) bool {
	eq := func(a, b [][]float64) bool {
		if len(a) != len(b) {
			return false
		}
		for i := range a {
			if len(a[i]) != len(b[i]) {
				return false
			}
			for j := range a[i] {
				if a[i][j] != b[i][j] {
					return false
				}
			}
		}
		return true
	}
	return eq(s.Bulk, o.Bulk) && eq(s.Solid, o.Solid)
}

// TotalBulk returns the sum over cells of the bulk concentration of each
// component.
func (s *ColumnState) TotalBulk() []float64 {
	o := make([]float64, len(s.Bulk))
	for i, p := range s.Bulk {
		o[i] = floats.Sum(p)
	}
	return o
}

// NumCells returns the number of axial cells.
func (s *ColumnState) NumCells() int {
	if len(s.Bulk) == 0 {
		return 0
	}
	return len(s.Bulk[0])
}

func (s *ColumnState) check(nComp, nBound, nCells int) error {
	if len(s.Bulk) != nComp {
		return fmt.Errorf("bulk profile has %d components but %d are required", len(s.Bulk), nComp)
	}
	if len(s.Solid) != nBound {
		return fmt.Errorf("bound profile has %d states but %d are required", len(s.Solid), nBound)
	}
	for _, p := range append(append([][]float64{}, s.Bulk...), s.Solid...) {
		if len(p) != nCells {
			return fmt.Errorf("profile has %d cells but %d are required", len(p), nCells)
		}
	}
	return nil
}

// Column is a physical column. Its state is owned by whichever zone
// currently holds the column and moves with it at every switch.
type Column struct {
	ID       int
	Geometry *ColumnGeometry
	Binding  BindingModel
	State    *ColumnState
}
