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

// Package plugflow advances columns with the analytic solution of ideal,
// equilibrium, linear chromatography. Every solute band moves through the
// column at a constant migration velocity without broadening, so the
// outlet is a delayed copy of the inlet and the column profile is a
// shifted copy of the initial profile. It needs no numerical integration
// and is used as the reference transport model of the smb command and in
// tests.
package plugflow

import (
	"context"
	"fmt"

	"github.com/spatialmodel/smb"
)

// Solver implements smb.Solver for linear binding models.
type Solver struct{}

// Supports implements smb.BindingSupporter. Only the linear isotherm has
// a solution by characteristics.
func (Solver) Supports(b smb.BindingModel) bool {
	_, ok := b.(*smb.Linear)
	return ok
}

// MigrationVelocities returns the velocity [m/s] at which each component
// moves through a column of geometry g at flow rate q:
//
//	w_i = u / (1 + (1-ε_c)/ε_c (ε_p + (1-ε_p) H_i))
//
// where u is the interstitial velocity and H_i the Henry coefficient.
func MigrationVelocities(g *smb.ColumnGeometry, b *smb.Linear, q float64) []float64 {
	u := g.InterstitialVelocity(q)
	phase := (1 - g.BedPorosity) / g.BedPorosity
	o := make([]float64, len(b.AdsorptionRate))
	for i := range o {
		o[i] = u / (1 + phase*(g.ParticlePorosity+(1-g.ParticlePorosity)*b.Henry(i)))
	}
	return o
}

// SolveInterval implements smb.Solver. Valve dead volume is ignored.
func (Solver) SolveInterval(ctx context.Context, req *smb.IntervalRequest) (*smb.IntervalResult, error) {
	lin, ok := req.Binding.(*smb.Linear)
	if !ok {
		return nil, fmt.Errorf("plugflow: %w: %s", smb.ErrUnsupportedBinding, req.Binding.Name())
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g := req.Geometry
	in := req.Inlet.Concentration
	if in == nil {
		return nil, fmt.Errorf("plugflow: no inlet concentration")
	}
	nComp := len(req.Components)
	w := MigrationVelocities(g, lin, req.Inlet.FlowRate)
	z := g.CellCenters()
	T := req.Duration

	// initial returns the initial bulk concentration of component c at
	// axial position x, holding the end cell values beyond the centers.
	initial := func(c int, x float64) float64 {
		p := req.Initial.Bulk[c]
		return interp(z, p, x)
	}

	final := smb.NewColumnState(nComp, nComp, g.AxialCells)
	for c := 0; c < nComp; c++ {
		for k, x := range z {
			var v float64
			if w[c] == 0 || x >= w[c]*T {
				v = initial(c, x-w[c]*T)
			} else {
				v = in.At(T - x/w[c])[c]
			}
			final.Bulk[c][k] = v
			final.Solid[c][k] = lin.Henry(c) * v
		}
	}

	times := in.Times
	if len(times) == 0 {
		times = smb.UniformTimes(T, req.Options.TimeResolution)
	}
	out := smb.NewTrace(times, nComp)
	for c := 0; c < nComp; c++ {
		for j, t := range times {
			if w[c] == 0 || g.Length >= w[c]*t {
				out.Values[c][j] = initial(c, g.Length-w[c]*t)
			} else {
				out.Values[c][j] = in.At(t - g.Length/w[c])[c]
			}
		}
	}
	return &smb.IntervalResult{Final: final, Outlet: out}, nil
}

// interp linearly interpolates the profile p given at positions x,
// holding the end values outside the range.
func interp(x, p []float64, v float64) float64 {
	n := len(x)
	switch {
	case n == 0:
		return 0
	case v <= x[0]:
		return p[0]
	case v >= x[n-1]:
		return p[n-1]
	}
	for i := 1; i < n; i++ {
		if v <= x[i] {
			f := (v - x[i-1]) / (x[i] - x[i-1])
			return p[i-1] + f*(p[i]-p[i-1])
		}
	}
	return p[n-1]
}
