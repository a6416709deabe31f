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

// Package extsolver runs an external transport-reaction solver program
// once per column and switch interval.
//
// The program receives a JSON Request on standard input and must write a
// JSON Response to standard output. A non-zero exit status, or a Response
// with a non-empty Error, is reported as a divergence of the integration.
package extsolver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/smb"
)

// Geometry is the wire form of smb.ColumnGeometry.
type Geometry struct {
	Length           float64   `json:"length"`
	Diameter         float64   `json:"diameter"`
	BedPorosity      float64   `json:"bed_porosity"`
	ParticlePorosity float64   `json:"particle_porosity"`
	ParticleRadius   float64   `json:"particle_radius"`
	FilmDiffusion    []float64 `json:"film_diffusion"`
	PoreDiffusion    []float64 `json:"pore_diffusion"`
	AxialDispersion  float64   `json:"axial_dispersion"`
	AxialCells       int       `json:"axial_cells"`
	ParticleCells    int       `json:"particle_cells"`
}

// Binding is the wire form of a binding model. Fields that do not apply
// to the model are omitted.
type Binding struct {
	Model       string    `json:"model"`
	IsKinetic   bool      `json:"is_kinetic"`
	BoundStates []int     `json:"bound_states"`
	Adsorption  []float64 `json:"adsorption_rate"`
	Desorption  []float64 `json:"desorption_rate"`

	CharacteristicCharge     []float64 `json:"characteristic_charge,omitempty"`
	StericFactor             []float64 `json:"steric_factor,omitempty"`
	Capacity                 float64   `json:"capacity,omitempty"`
	ReferenceLiquidPhaseConc float64   `json:"reference_liquid_phase_conc,omitempty"`
	ReferenceSolidPhaseConc  float64   `json:"reference_solid_phase_conc,omitempty"`

	// ConversionRates is laid out as smb.MultistateSMA.ConversionRateVector.
	ConversionRates []float64 `json:"conversion_rate,omitempty"`
}

// State is the wire form of smb.ColumnState.
type State struct {
	Bulk  [][]float64 `json:"bulk"`
	Solid [][]float64 `json:"solid"`
}

// Trace is the wire form of smb.Trace.
type Trace struct {
	Times  []float64   `json:"times"`
	Values [][]float64 `json:"values"`
}

// Options is the wire form of smb.SolverOptions.
type Options struct {
	AbsTol       float64 `json:"abstol"`
	RelTol       float64 `json:"reltol"`
	InitStepSize float64 `json:"init_step_size"`
	MaxStepSize  float64 `json:"max_step_size"`
}

// Request is written to the standard input of the solver program.
type Request struct {
	Components []string `json:"components"`
	Geometry   Geometry `json:"geometry"`
	Binding    Binding  `json:"binding"`
	Initial    State    `json:"initial"`
	FlowRate   float64  `json:"flow_rate"`
	Inlet      Trace    `json:"inlet"`
	Duration   float64  `json:"duration"`
	DeadVolume float64  `json:"dead_volume"`
	Options    Options  `json:"options"`
}

// Response is read from the standard output of the solver program.
type Response struct {
	Final  State  `json:"final"`
	Outlet Trace  `json:"outlet"`
	Error  string `json:"error,omitempty"`
}

// Solver implements smb.Solver by running Command with Args.
type Solver struct {
	Command string
	Args    []string

	// Env is added to the environment of the solver program, in the
	// form "key=value".
	Env []string

	// Models lists the binding model names the program supports. An
	// empty list accepts every model.
	Models []string

	// Retries is the number of times starting the program is retried,
	// with exponential backoff, when it cannot be started. A program that
	// starts and then fails is not retried.
	Retries int

	// Log receives retry messages. It may be nil.
	Log logrus.FieldLogger
}

// Supports implements smb.BindingSupporter.
func (s *Solver) Supports(b smb.BindingModel) bool {
	if len(s.Models) == 0 {
		return true
	}
	for _, m := range s.Models {
		if m == b.Name() {
			return true
		}
	}
	return false
}

// NewRequest converts req to its wire form.
func NewRequest(req *smb.IntervalRequest) (*Request, error) {
	g := req.Geometry
	r := &Request{
		Components: req.Components,
		Geometry: Geometry{
			Length:           g.Length,
			Diameter:         g.Diameter,
			BedPorosity:      g.BedPorosity,
			ParticlePorosity: g.ParticlePorosity,
			ParticleRadius:   g.ParticleRadius,
			FilmDiffusion:    g.FilmDiffusion,
			PoreDiffusion:    g.PoreDiffusion,
			AxialDispersion:  g.AxialDispersion,
			AxialCells:       g.AxialCells,
			ParticleCells:    g.ParticleCells,
		},
		Initial:    State{Bulk: req.Initial.Bulk, Solid: req.Initial.Solid},
		FlowRate:   req.Inlet.FlowRate,
		Inlet:      Trace{Times: req.Inlet.Concentration.Times, Values: req.Inlet.Concentration.Values},
		Duration:   req.Duration,
		DeadVolume: req.DeadVolume,
		Options: Options{
			AbsTol:       req.Options.AbsTol,
			RelTol:       req.Options.RelTol,
			InitStepSize: req.Options.InitStepSize,
			MaxStepSize:  req.Options.MaxStepSize,
		},
	}
	switch b := req.Binding.(type) {
	case *smb.Linear:
		r.Binding = Binding{
			Model:       b.Name(),
			IsKinetic:   b.IsKinetic,
			BoundStates: b.BoundStates(),
			Adsorption:  b.AdsorptionRate,
			Desorption:  b.DesorptionRate,
		}
	case *smb.MultistateSMA:
		r.Binding = Binding{
			Model:                    b.Name(),
			IsKinetic:                b.IsKinetic,
			BoundStates:              b.BoundStates(),
			Adsorption:               b.AdsorptionRate,
			Desorption:               b.DesorptionRate,
			CharacteristicCharge:     b.CharacteristicCharge,
			StericFactor:             b.StericFactor,
			Capacity:                 b.Capacity,
			ReferenceLiquidPhaseConc: b.ReferenceLiquidPhaseConc,
			ReferenceSolidPhaseConc:  b.ReferenceSolidPhaseConc,
			ConversionRates:          b.ConversionRateVector(),
		}
	default:
		return nil, fmt.Errorf("extsolver: %w: %s", smb.ErrUnsupportedBinding, req.Binding.Name())
	}
	return r, nil
}

// SolveInterval implements smb.Solver. The program is killed when ctx is
// done.
func (s *Solver) SolveInterval(ctx context.Context, req *smb.IntervalRequest) (*smb.IntervalResult, error) {
	wire, err := NewRequest(req)
	if err != nil {
		return nil, err
	}
	in, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("extsolver: encoding request: %v", err)
	}

	var cmd *exec.Cmd
	var stdout, stderr bytes.Buffer
	start := func() error {
		if ctx.Err() != nil {
			return nil
		}
		stdout.Reset()
		stderr.Reset()
		cmd = exec.CommandContext(ctx, s.Command, s.Args...)
		cmd.Env = append(os.Environ(), s.Env...)
		cmd.Stdin = bytes.NewReader(in)
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
		if err := cmd.Start(); err != nil {
			cmd = nil
			return err
		}
		return nil
	}
	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(s.Retries))
	if err := backoff.RetryNotify(start, b, s.notify); err != nil {
		return nil, fmt.Errorf("extsolver: starting %s: %v", s.Command, err)
	}
	if cmd == nil {
		return nil, ctx.Err()
	}
	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return nil, fmt.Errorf("extsolver: %s: %v", s.Command, err)
		}
		return nil, fmt.Errorf("extsolver: %s: %v: %s", s.Command, err, msg)
	}

	var resp Response
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("extsolver: decoding response of %s: %v", s.Command, err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("extsolver: %s: %w: %s", s.Command, smb.ErrDiverged, resp.Error)
	}
	return &smb.IntervalResult{
		Final:  &smb.ColumnState{Bulk: resp.Final.Bulk, Solid: nonNil(resp.Final.Solid)},
		Outlet: &smb.Trace{Times: resp.Outlet.Times, Values: resp.Outlet.Values},
	}, nil
}

func (s *Solver) notify(err error, d time.Duration) {
	if s.Log != nil {
		s.Log.WithError(err).Warnf("extsolver: retrying %s in %v", s.Command, d)
	}
}

// nonNil turns a missing JSON array into an empty one.
func nonNil(v [][]float64) [][]float64 {
	if v == nil {
		return [][]float64{}
	}
	return v
}

// Interval converts r back to an interval request.
func (r *Request) Interval() (*smb.IntervalRequest, error) {
	cs, err := smb.NewComponentSystem(r.Components...)
	if err != nil {
		return nil, err
	}
	req := &smb.IntervalRequest{
		Components: r.Components,
		Geometry: &smb.ColumnGeometry{
			Length:           r.Geometry.Length,
			Diameter:         r.Geometry.Diameter,
			BedPorosity:      r.Geometry.BedPorosity,
			ParticlePorosity: r.Geometry.ParticlePorosity,
			ParticleRadius:   r.Geometry.ParticleRadius,
			FilmDiffusion:    r.Geometry.FilmDiffusion,
			PoreDiffusion:    r.Geometry.PoreDiffusion,
			AxialDispersion:  r.Geometry.AxialDispersion,
			AxialCells:       r.Geometry.AxialCells,
			ParticleCells:    r.Geometry.ParticleCells,
		},
		Initial: &smb.ColumnState{Bulk: r.Initial.Bulk, Solid: nonNil(r.Initial.Solid)},
		Inlet: smb.BoundaryCondition{
			FlowRate:      r.FlowRate,
			Concentration: &smb.Trace{Times: r.Inlet.Times, Values: r.Inlet.Values},
		},
		Duration:   r.Duration,
		DeadVolume: r.DeadVolume,
		Options: smb.SolverOptions{
			AbsTol:         r.Options.AbsTol,
			RelTol:         r.Options.RelTol,
			InitStepSize:   r.Options.InitStepSize,
			MaxStepSize:    r.Options.MaxStepSize,
			TimeResolution: len(r.Inlet.Times) - 1,
		},
	}
	b := r.Binding
	switch b.Model {
	case (&smb.Linear{}).Name():
		req.Binding = &smb.Linear{
			IsKinetic:      b.IsKinetic,
			AdsorptionRate: b.Adsorption,
			DesorptionRate: b.Desorption,
		}
	case (&smb.MultistateSMA{}).Name():
		m := &smb.MultistateSMA{
			BoundStatesPerComponent:  b.BoundStates,
			IsKinetic:                b.IsKinetic,
			AdsorptionRate:           b.Adsorption,
			DesorptionRate:           b.Desorption,
			CharacteristicCharge:     b.CharacteristicCharge,
			StericFactor:             b.StericFactor,
			Capacity:                 b.Capacity,
			ReferenceLiquidPhaseConc: b.ReferenceLiquidPhaseConc,
			ReferenceSolidPhaseConc:  b.ReferenceSolidPhaseConc,
		}
		if m.ConversionRates, err = smb.ConversionRatesFromVector(r.Components, b.BoundStates, b.ConversionRates); err != nil {
			return nil, err
		}
		req.Binding = m
	default:
		return nil, fmt.Errorf("extsolver: %w: %s", smb.ErrUnsupportedBinding, b.Model)
	}
	if err := req.Binding.Validate(cs); err != nil {
		return nil, err
	}
	return req, nil
}

// Serve reads one Request from r, solves it with s and writes the
// Response to w. Solver failures are reported in Response.Error; the
// returned error is only set if r or w fail.
func Serve(ctx context.Context, s smb.Solver, r io.Reader, w io.Writer) error {
	var wire Request
	if err := json.NewDecoder(r).Decode(&wire); err != nil {
		return fmt.Errorf("extsolver: decoding request: %v", err)
	}
	var resp Response
	req, err := wire.Interval()
	if err == nil {
		var res *smb.IntervalResult
		if res, err = s.SolveInterval(ctx, req); err == nil {
			resp.Final = State{Bulk: res.Final.Bulk, Solid: res.Final.Solid}
			resp.Outlet = Trace{Times: res.Outlet.Times, Values: res.Outlet.Values}
		}
	}
	if err != nil {
		resp.Error = err.Error()
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		return fmt.Errorf("extsolver: encoding response: %v", err)
	}
	return nil
}
