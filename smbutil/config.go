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

package smbutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ctessum/unit"
	"github.com/lnashier/viper"
	"github.com/spatialmodel/smb"
	"github.com/spatialmodel/smb/extsolver"
	"github.com/spatialmodel/smb/plugflow"
	"github.com/spf13/cast"
)

// checkOutputFile makes sure that the output file is specified and its
// directory exists, and expands any environment variables.
func checkOutputFile(f string) (string, error) {
	if f == "" {
		return "", fmt.Errorf(`you need to specify an output file configuration variable (for example: OutputFile="smb.nc")`)
	}
	f = os.ExpandEnv(f)
	outdir := filepath.Dir(f)
	if _, err := os.Stat(outdir); err != nil {
		return f, fmt.Errorf("smb: the OutputFile directory doesn't exist: %v", err)
	}
	return f, nil
}

// checkLogFile fills in a default value for the log file path if one isn't
// specified.
func checkLogFile(logFile, outputFile string) string {
	if logFile == "" {
		logFile = strings.TrimSuffix(outputFile, filepath.Ext(outputFile)) + ".log"
	}
	return os.ExpandEnv(logFile)
}

// toIntSliceE converts an integer list that was set in a configuration
// file or as a command-line argument.
func toIntSliceE(s interface{}) ([]int, error) {
	switch v := s.(type) {
	case []int:
		return v, nil
	case []interface{}:
		return cast.ToIntSliceE(v)
	case string:
		if v == "" {
			return nil, nil
		}
		var o []int
		if err := json.Unmarshal([]byte(v), &o); err != nil {
			return nil, err
		}
		return o, nil
	default:
		return cast.ToIntSliceE(s)
	}
}

// getFloat64Slice returns a list of numbers from a viper configuration,
// accounting for the fact that they are strings if they were set from a
// command line argument.
func getFloat64Slice(varName string, cfg *viper.Viper) ([]float64, error) {
	var items []interface{}
	switch v := cfg.Get(varName).(type) {
	case nil:
		return nil, nil
	case []float64:
		return v, nil
	case []interface{}:
		items = v
	case []string:
		for _, s := range v {
			items = append(items, strings.TrimSpace(s))
		}
	case string:
		for _, s := range strings.Split(strings.Trim(v, "[]"), ",") {
			if s = strings.TrimSpace(s); s != "" {
				items = append(items, s)
			}
		}
	default:
		f, err := cast.ToFloat64E(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %v", varName, err)
		}
		return []float64{f}, nil
	}
	o := make([]float64, len(items))
	for i, item := range items {
		f, err := cast.ToFloat64E(item)
		if err != nil {
			return nil, fmt.Errorf("%s: item %d: %v", varName, i, err)
		}
		o[i] = f
	}
	return o, nil
}

// getStringMapString returns a map[string]string from a viper configuration,
// accounting for the fact that it might be a json object if it was set
// from a command line argument.
func getStringMapString(varName string, cfg *viper.Viper) (map[string]string, error) {
	i := cfg.Get(varName)
	switch v := i.(type) {
	case nil:
		return map[string]string{}, nil
	case map[string]string:
		return v, nil
	case map[string]interface{}:
		return cast.ToStringMapStringE(v)
	case string:
		o := make(map[string]string)
		if strings.TrimSpace(v) == "" {
			return o, nil
		}
		d := json.NewDecoder(bytes.NewBufferString(v))
		if err := d.Decode(&o); err != nil {
			return nil, fmt.Errorf("%s: %v", varName, err)
		}
		return o, nil
	default:
		return nil, fmt.Errorf("invalid type for variable %s: %#v", varName, i)
	}
}

// getZoneFloats returns a map of zone name to number. Configuration
// readers may change the case of map keys, so keys are matched to the
// zone names without regard to case.
func getZoneFloats(varName string, cfg *viper.Viper, zones []string) (map[string]float64, error) {
	m, err := getStringMapString(varName, cfg)
	if err != nil {
		return nil, err
	}
	o := make(map[string]float64, len(m))
	for k, v := range m {
		f, err := cast.ToFloat64E(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %v", varName, k, err)
		}
		name := os.ExpandEnv(k)
		for _, z := range zones {
			if strings.EqualFold(z, name) {
				name = z
				break
			}
		}
		o[name] = f
	}
	return o, nil
}

// PlantConfig unmarshals a viper configuration for the carousel plant.
func PlantConfig(cfg *viper.Viper) (*smb.Config, error) {
	columns, err := toIntSliceE(cfg.Get("ColumnsPerZone"))
	if err != nil {
		return nil, fmt.Errorf("ColumnsPerZone: %v", err)
	}
	extract, err := getFloat64Slice("BoundaryFlows.Extract", cfg)
	if err != nil {
		return nil, err
	}
	raffinate, err := getFloat64Slice("BoundaryFlows.Raffinate", cfg)
	if err != nil {
		return nil, err
	}
	c := &smb.Config{
		ZoneNames:      expandStringSlice(cfg.GetStringSlice("ZoneNames")),
		NumZones:       cfg.GetInt("NumZones"),
		ColumnsPerZone: columns,
		SwitchTime:     cfg.GetFloat64("SwitchTime"),
		NumCycles:      cfg.GetInt("NumCycles"),
		BoundaryFlows: smb.BoundaryFlows{
			Feed:      cfg.GetFloat64("BoundaryFlows.Feed"),
			Eluent:    cfg.GetFloat64("BoundaryFlows.Eluent"),
			Extract:   extract,
			Raffinate: raffinate,
		},
		EluentZone:      os.ExpandEnv(cfg.GetString("EluentZone")),
		FeedZone:        os.ExpandEnv(cfg.GetString("FeedZone")),
		ExtractZones:    expandStringSlice(cfg.GetStringSlice("ExtractZones")),
		RaffinateZones:  expandStringSlice(cfg.GetStringSlice("RaffinateZones")),
		ValveDeadVolume: cfg.GetFloat64("ValveDeadVolume"),
	}
	zones := c.ZoneNames
	if len(zones) == 0 {
		for i := 0; i < c.NumZones; i++ {
			zones = append(zones, smb.DefaultZoneName(i))
		}
	}
	if c.SplitFractions, err = getZoneFloats("SplitFractions", cfg, zones); err != nil {
		return nil, err
	}
	if c.ZoneFlows, err = getZoneFloats("ZoneFlows", cfg, zones); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// expandStringSlice expands the environment variables in a slice of strings.
func expandStringSlice(s []string) []string {
	for i := 0; i < len(s); i++ {
		s[i] = os.ExpandEnv(strings.TrimSpace(s[i]))
	}
	return s
}

// broadcast repeats a single value n times.
func broadcast(v []float64, n int) []float64 {
	if len(v) != 1 || n == 1 {
		return v
	}
	o := make([]float64, n)
	for i := range o {
		o[i] = v[0]
	}
	return o
}

func units(v []float64, d unit.Dimensions) []*unit.Unit {
	o := make([]*unit.Unit, len(v))
	for i, x := range v {
		o[i] = unit.New(x, d)
	}
	return o
}

var meter2PerSecond = unit.Dimensions{unit.LengthDim: 2, unit.TimeDim: -1}

// columnGeometry unmarshals the column configuration.
func columnGeometry(cfg *viper.Viper, cs *smb.ComponentSystem) (*smb.ColumnGeometry, error) {
	film, err := getFloat64Slice("Column.FilmDiffusion", cfg)
	if err != nil {
		return nil, err
	}
	pore, err := getFloat64Slice("Column.PoreDiffusion", cfg)
	if err != nil {
		return nil, err
	}
	return smb.NewColumnGeometry(smb.ColumnSpec{
		Length:           unit.New(cfg.GetFloat64("Column.Length"), unit.Meter),
		Diameter:         unit.New(cfg.GetFloat64("Column.Diameter"), unit.Meter),
		BedPorosity:      cfg.GetFloat64("Column.BedPorosity"),
		ParticlePorosity: cfg.GetFloat64("Column.ParticlePorosity"),
		ParticleRadius:   unit.New(cfg.GetFloat64("Column.ParticleRadius"), unit.Meter),
		FilmDiffusion:    units(broadcast(film, cs.N()), unit.MeterPerSecond),
		PoreDiffusion:    units(broadcast(pore, cs.N()), meter2PerSecond),
		AxialDispersion:  unit.New(cfg.GetFloat64("Column.AxialDispersion"), meter2PerSecond),
		AxialCells:       cfg.GetInt("Column.AxialCells"),
		ParticleCells:    cfg.GetInt("Column.ParticleCells"),
	}, cs)
}

// bindingModel unmarshals the binding model configuration.
func bindingModel(cfg *viper.Viper, cs *smb.ComponentSystem) (smb.BindingModel, error) {
	floatVars := []string{"Binding.AdsorptionRate", "Binding.DesorptionRate",
		"Binding.CharacteristicCharge", "Binding.StericFactor", "Binding.ConversionRates"}
	v := make(map[string][]float64)
	for _, name := range floatVars {
		f, err := getFloat64Slice(name, cfg)
		if err != nil {
			return nil, err
		}
		v[name] = f
	}
	var b smb.BindingModel
	switch model := cfg.GetString("Binding.Model"); model {
	case (&smb.Linear{}).Name():
		b = &smb.Linear{
			IsKinetic:      cfg.GetBool("Binding.IsKinetic"),
			AdsorptionRate: v["Binding.AdsorptionRate"],
			DesorptionRate: v["Binding.DesorptionRate"],
		}
	case (&smb.MultistateSMA{}).Name():
		states, err := toIntSliceE(cfg.Get("Binding.BoundStates"))
		if err != nil {
			return nil, fmt.Errorf("Binding.BoundStates: %v", err)
		}
		rates, err := smb.ConversionRatesFromVector(cs.Names(), states, v["Binding.ConversionRates"])
		if err != nil {
			return nil, err
		}
		b = &smb.MultistateSMA{
			BoundStatesPerComponent:  states,
			IsKinetic:                cfg.GetBool("Binding.IsKinetic"),
			AdsorptionRate:           v["Binding.AdsorptionRate"],
			DesorptionRate:           v["Binding.DesorptionRate"],
			CharacteristicCharge:     v["Binding.CharacteristicCharge"],
			StericFactor:             v["Binding.StericFactor"],
			Capacity:                 cfg.GetFloat64("Binding.Capacity"),
			ReferenceLiquidPhaseConc: cfg.GetFloat64("Binding.ReferenceLiquidPhaseConc"),
			ReferenceSolidPhaseConc:  cfg.GetFloat64("Binding.ReferenceSolidPhaseConc"),
			ConversionRates:          rates,
		}
	default:
		return nil, fmt.Errorf("smb: Binding.Model must be %s or %s but is %q",
			(&smb.Linear{}).Name(), (&smb.MultistateSMA{}).Name(), model)
	}
	if err := b.Validate(cs); err != nil {
		return nil, err
	}
	return b, nil
}

// splitExpressions splits a comma-separated list of expressions, ignoring
// commas inside parentheses.
func splitExpressions(s string) []string {
	var o []string
	depth, start := 0, 0
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				o = append(o, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	if last := strings.TrimSpace(s[start:]); last != "" || len(o) > 0 {
		o = append(o, last)
	}
	return o
}

// profileExpressions returns the concentration expressions of each inlet.
// They can be given as a list or as one comma-separated string.
func profileExpressions(cfg *viper.Viper) (map[string][]string, error) {
	o := make(map[string][]string)
	if v, ok := cfg.Get("Profiles").(map[string]interface{}); ok {
		for k, x := range v {
			if s, ok := x.(string); ok {
				o[strings.ToLower(k)] = splitExpressions(s)
				continue
			}
			exprs, err := cast.ToStringSliceE(x)
			if err != nil {
				return nil, fmt.Errorf("Profiles.%s: %v", k, err)
			}
			o[strings.ToLower(k)] = exprs
		}
		return o, nil
	}
	m, err := getStringMapString("Profiles", cfg)
	if err != nil {
		return nil, err
	}
	for k, s := range m {
		o[strings.ToLower(k)] = splitExpressions(s)
	}
	return o, nil
}

// profiles unmarshals the inlet concentration expressions.
func profiles(cfg *viper.Viper) (map[string]smb.Profile, error) {
	raw, err := profileExpressions(cfg)
	if err != nil {
		return nil, err
	}
	o := make(map[string]smb.Profile)
	for inlet, exprs := range raw {
		p, err := smb.NewExpressionProfile(exprs...)
		if err != nil {
			return nil, fmt.Errorf("Profiles.%s: %v", inlet, err)
		}
		o[inlet] = p
	}
	return o, nil
}

// SimulationConfig unmarshals a viper configuration for a complete run.
func SimulationConfig(cfg *viper.Viper) (smb.SimulationConfig, error) {
	var sc smb.SimulationConfig
	plant, err := PlantConfig(cfg)
	if err != nil {
		return sc, err
	}
	top, err := plant.Topology()
	if err != nil {
		return sc, err
	}
	cs, err := smb.NewComponentSystem(expandStringSlice(cfg.GetStringSlice("Components"))...)
	if err != nil {
		return sc, err
	}
	g, err := columnGeometry(cfg, cs)
	if err != nil {
		return sc, err
	}
	b, err := bindingModel(cfg, cs)
	if err != nil {
		return sc, err
	}
	p, err := profiles(cfg)
	if err != nil {
		return sc, err
	}
	timeout, err := cast.ToDurationE(cfg.Get("Solver.Timeout"))
	if err != nil {
		return sc, fmt.Errorf("Solver.Timeout: %v", err)
	}

	var solver smb.Solver = plugflow.Solver{}
	if command := os.ExpandEnv(cfg.GetString("Solver.Command")); command != "" {
		solver = &extsolver.Solver{
			Command: command,
			Args:    expandStringSlice(cfg.GetStringSlice("Solver.Args")),
			Retries: cfg.GetInt("Solver.Retries"),
		}
	}
	if n := cfg.GetInt("Solver.CacheSize"); n > 0 {
		solver = smb.NewCachedSolver(solver, n)
	}

	return smb.SimulationConfig{
		Components: cs,
		Column:     g,
		Binding:    b,
		Topology:   top,
		Boundary:   plant.Boundary(),
		Profiles:   p,
		SwitchTime: plant.SwitchTime,
		NumCycles:  plant.NumCycles,

		CSSTolerance: cfg.GetFloat64("CSSTolerance"),
		CSSFloor:     cfg.GetFloat64("CSSFloor"),
		CSSPoints:    cfg.GetInt("CSSPoints"),

		Solver: solver,
		Options: smb.SolverOptions{
			AbsTol:         cfg.GetFloat64("Solver.AbsTol"),
			RelTol:         cfg.GetFloat64("Solver.RelTol"),
			InitStepSize:   cfg.GetFloat64("Solver.InitStepSize"),
			MaxStepSize:    cfg.GetFloat64("Solver.MaxStepSize"),
			TimeResolution: cfg.GetInt("Solver.TimeResolution"),
			Timeout:        timeout,
		},
		Parallel: cfg.GetBool("Parallel"),
	}, nil
}

// effectiveConfig returns the value of every option, nested by the
// dotted parts of its name.
func effectiveConfig(cfg *viper.Viper) (map[string]interface{}, error) {
	o := make(map[string]interface{})
	for _, option := range options {
		if option.name == "config" {
			continue
		}
		var v interface{}
		var err error
		switch option.defaultVal.(type) {
		case string:
			v = cfg.GetString(option.name)
		case []string:
			s := cfg.GetStringSlice(option.name)
			if s == nil {
				s = []string{}
			}
			v = s
		case bool:
			v = cfg.GetBool(option.name)
		case int:
			v = cfg.GetInt(option.name)
		case []int:
			var s []int
			if s, err = toIntSliceE(cfg.Get(option.name)); s == nil {
				s = []int{}
			}
			v = s
		case float64:
			v = cfg.GetFloat64(option.name)
		case map[string]string:
			if option.name == "Profiles" {
				var exprs map[string][]string
				exprs, err = profileExpressions(cfg)
				m := make(map[string]string, len(exprs))
				for k, e := range exprs {
					m[k] = strings.Join(e, ", ")
				}
				v = m
			} else {
				v, err = getStringMapString(option.name, cfg)
			}
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %v", option.name, err)
		}
		parts := strings.Split(option.name, ".")
		m := o
		for _, p := range parts[:len(parts)-1] {
			sub, ok := m[p].(map[string]interface{})
			if !ok {
				sub = make(map[string]interface{})
				m[p] = sub
			}
			m = sub
		}
		m[parts[len(parts)-1]] = v
	}
	return o, nil
}

func sortedNames(m map[string]*smb.Trace) []string {
	o := make([]string, 0, len(m))
	for k := range m {
		o = append(o, k)
	}
	sort.Strings(o)
	return o
}
