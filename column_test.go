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
	"testing"

	"github.com/ctessum/unit"
	"gonum.org/v1/gonum/floats"
)

func columnSpec() ColumnSpec {
	return ColumnSpec{
		Length:           unit.New(0.536, unit.Meter),
		Diameter:         unit.New(2.6e-2, unit.Meter),
		BedPorosity:      0.38,
		ParticlePorosity: 1e-5,
		ParticleRadius:   unit.New(1.63e-3, unit.Meter),
		FilmDiffusion:    []*unit.Unit{unit.New(1.6e4, unit.MeterPerSecond), unit.New(1.6e4, unit.MeterPerSecond)},
		PoreDiffusion:    []*unit.Unit{unit.New(5e-5, meter2PerSecond), unit.New(5e-5, meter2PerSecond)},
		AxialDispersion:  unit.New(3.81e-6, meter2PerSecond),
		AxialCells:       4,
	}
}

func TestColumnGeometry(t *testing.T) {
	cs, err := NewComponentSystem("A", "B")
	if err != nil {
		t.Fatal(err)
	}
	g, err := NewColumnGeometry(columnSpec(), cs)
	if err != nil {
		t.Fatal(err)
	}
	area := math.Pi * 2.6e-2 * 2.6e-2 / 4
	if a := g.CrossSection(); math.Abs(a-area) > 1e-15 {
		t.Errorf("cross section %g, want %g", a, area)
	}
	if v := g.Volume(); math.Abs(v-area*0.536) > 1e-15 {
		t.Errorf("volume %g", v)
	}
	if u := g.InterstitialVelocity(1.4e-7); math.Abs(u-1.4e-7/(area*0.38)) > 1e-15 {
		t.Errorf("interstitial velocity %g", u)
	}
	if want := []float64{0.067, 0.201, 0.335, 0.469}; !floats.EqualApprox(g.CellCenters(), want, 1e-12) {
		t.Errorf("cell centers %v, want %v", g.CellCenters(), want)
	}
}

func TestColumnGeometryErrors(t *testing.T) {
	cs, err := NewComponentSystem("A", "B")
	if err != nil {
		t.Fatal(err)
	}
	for _, test := range []struct {
		field string
		edit  func(*ColumnSpec)
	}{
		{"Column.Length", func(s *ColumnSpec) { s.Length = unit.New(0.5, unit.MeterPerSecond) }},
		{"Column.Length", func(s *ColumnSpec) { s.Length = nil }},
		{"Column.Diameter", func(s *ColumnSpec) { s.Diameter = unit.New(0, unit.Meter) }},
		{"Column.BedPorosity", func(s *ColumnSpec) { s.BedPorosity = 1.5 }},
		{"Column.AxialCells", func(s *ColumnSpec) { s.AxialCells = 0 }},
		{"Column.FilmDiffusion", func(s *ColumnSpec) { s.FilmDiffusion = s.FilmDiffusion[:1] }},
		// Film and pore diffusion coefficients swapped.
		{"Column.PoreDiffusion[A]", func(s *ColumnSpec) { s.PoreDiffusion[0] = unit.New(1.6e4, unit.MeterPerSecond) }},
	} {
		spec := columnSpec()
		test.edit(&spec)
		_, err := NewColumnGeometry(spec, cs)
		var ce *ConfigurationError
		if !errors.As(err, &ce) || ce.Field != test.field {
			t.Errorf("%s: have error %v", test.field, err)
		}
	}
}

func TestColumnState(t *testing.T) {
	s := NewColumnState(2, 1, 3)
	s.Bulk[0] = []float64{1, 2, 3}
	c := s.Clone()
	if !c.Equal(s) {
		t.Fatal("clone differs")
	}
	c.Bulk[0][0] = 5
	if s.Bulk[0][0] != 1 || c.Equal(s) {
		t.Error("clone shares memory")
	}
	if want := []float64{6, 0}; !floats.Equal(s.TotalBulk(), want) {
		t.Errorf("total bulk %v, want %v", s.TotalBulk(), want)
	}
	if err := s.check(2, 2, 3); err == nil {
		t.Error("wrong number of bound states should be rejected")
	}
}
