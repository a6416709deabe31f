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
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/lnashier/viper"
	"github.com/spatialmodel/smb"
	"github.com/spatialmodel/smb/extsolver"
	"github.com/spatialmodel/smb/plugflow"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Cfg holds configuration information.
var Cfg *viper.Viper

var options []struct {
	name, usage, shorthand string
	defaultVal             interface{}
	flagsets               []*pflag.FlagSet
}

func init() {
	// Options are the configuration options available to SMB.
	plant := []*pflag.FlagSet{runCmd.Flags(), flowsCmd.Flags(), configCmd.Flags()}
	options = []struct {
		name, usage, shorthand string
		defaultVal             interface{}
		flagsets               []*pflag.FlagSet
	}{
		{
			name: "config",
			usage: `
              config specifies the configuration file location.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "Components",
			usage: `
              Components lists the names of the chemical components.`,
			defaultVal: []string{"A", "B"},
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), configCmd.Flags()},
		},
		{
			name: "NumZones",
			usage: `
              NumZones is the number of zones in the carousel.`,
			defaultVal: 4,
			flagsets:   plant,
		},
		{
			name: "ZoneNames",
			usage: `
              ZoneNames optionally names the zones in flow order. The default
              names are zone_I, zone_II, and so on.`,
			defaultVal: []string{},
			flagsets:   plant,
		},
		{
			name: "ColumnsPerZone",
			usage: `
              ColumnsPerZone is the number of columns in each zone, or a
              single number used for every zone.`,
			defaultVal: []int{2},
			flagsets:   plant,
		},
		{
			name: "SwitchTime",
			usage: `
              SwitchTime is the time between column switches [s].`,
			shorthand:  "t",
			defaultVal: 1552.0,
			flagsets:   plant,
		},
		{
			name: "NumCycles",
			usage: `
              NumCycles is the maximum number of full carousel rotations to
              run.`,
			shorthand:  "n",
			defaultVal: 10,
			flagsets:   plant,
		},
		{
			name: "SplitFractions",
			usage: `
              SplitFractions gives, for each zone with an outlet tap, the
              fraction of the zone outflow that leaves through the tap. A
              tapped zone without a split fraction is split according to
              its outlet flow rate.`,
			defaultVal: map[string]string{"zone_I": "0.249", "zone_III": "0.213"},
			flagsets:   plant,
		},
		{
			name: "BoundaryFlows.Feed",
			usage: `
              BoundaryFlows.Feed is the feed flow rate [m³/s].`,
			defaultVal: 2.0e-8,
			flagsets:   plant,
		},
		{
			name: "BoundaryFlows.Eluent",
			usage: `
              BoundaryFlows.Eluent is the eluent (desorbent) flow rate [m³/s].`,
			defaultVal: 4.14e-8,
			flagsets:   plant,
		},
		{
			name: "BoundaryFlows.Extract",
			usage: `
              BoundaryFlows.Extract lists the flow rates [m³/s] of the extract
              outlets. Zero leaves a flow rate unspecified.`,
			defaultVal: []string{},
			flagsets:   plant,
		},
		{
			name: "BoundaryFlows.Raffinate",
			usage: `
              BoundaryFlows.Raffinate lists the flow rates [m³/s] of the
              raffinate outlets. Zero leaves a flow rate unspecified.`,
			defaultVal: []string{},
			flagsets:   plant,
		},
		{
			name: "ZoneFlows",
			usage: `
              ZoneFlows optionally fixes the flow rate [m³/s] through zones,
              as set by a recycle pump.`,
			defaultVal: map[string]string{},
			flagsets:   plant,
		},
		{
			name: "EluentZone",
			usage: `
              EluentZone is the zone the eluent enters. The default for
              four zones is the first zone.`,
			defaultVal: "",
			flagsets:   plant,
		},
		{
			name: "FeedZone",
			usage: `
              FeedZone is the zone the feed enters. The default for four
              zones is the third zone.`,
			defaultVal: "",
			flagsets:   plant,
		},
		{
			name: "ExtractZones",
			usage: `
              ExtractZones lists the zones whose outflow is tapped for an
              extract. The default for four zones is the first zone.`,
			defaultVal: []string{},
			flagsets:   plant,
		},
		{
			name: "RaffinateZones",
			usage: `
              RaffinateZones lists the zones whose outflow is tapped for a
              raffinate. The default for four zones is the third zone.`,
			defaultVal: []string{},
			flagsets:   plant,
		},
		{
			name: "ValveDeadVolume",
			usage: `
              ValveDeadVolume is the volume [m³] of the piping and valves in
              front of each column.`,
			defaultVal: 0.0,
			flagsets:   plant,
		},
		{
			name: "Column.Length",
			usage: `
              Column.Length is the column length [m].`,
			defaultVal: 0.536,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), configCmd.Flags()},
		},
		{
			name: "Column.Diameter",
			usage: `
              Column.Diameter is the column diameter [m].`,
			defaultVal: 2.6e-2,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), configCmd.Flags()},
		},
		{
			name: "Column.BedPorosity",
			usage: `
              Column.BedPorosity is the interstitial porosity of the bed [-].`,
			defaultVal: 0.38,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), configCmd.Flags()},
		},
		{
			name: "Column.ParticlePorosity",
			usage: `
              Column.ParticlePorosity is the porosity of the particles [-].`,
			defaultVal: 1.0e-5,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), configCmd.Flags()},
		},
		{
			name: "Column.ParticleRadius",
			usage: `
              Column.ParticleRadius is the particle radius [m].`,
			defaultVal: 1.63e-3,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), configCmd.Flags()},
		},
		{
			name: "Column.FilmDiffusion",
			usage: `
              Column.FilmDiffusion lists the film diffusion coefficient
              [m/s] of each component, or a single value for all of them.`,
			defaultVal: []string{"1.6e4"},
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), configCmd.Flags()},
		},
		{
			name: "Column.PoreDiffusion",
			usage: `
              Column.PoreDiffusion lists the pore diffusion coefficient
              [m²/s] of each component, or a single value for all of them.`,
			defaultVal: []string{"5e-5"},
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), configCmd.Flags()},
		},
		{
			name: "Column.AxialDispersion",
			usage: `
              Column.AxialDispersion is the axial dispersion coefficient
              [m²/s].`,
			defaultVal: 3.81e-6,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), configCmd.Flags()},
		},
		{
			name: "Column.AxialCells",
			usage: `
              Column.AxialCells is the number of axial cells of each column.`,
			defaultVal: 40,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), configCmd.Flags()},
		},
		{
			name: "Column.ParticleCells",
			usage: `
              Column.ParticleCells is the number of radial cells of each
              particle.`,
			defaultVal: 5,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), configCmd.Flags()},
		},
		{
			name: "Binding.Model",
			usage: `
              Binding.Model is the binding model, either Linear or
              MultistateStericMassAction.`,
			defaultVal: "Linear",
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), configCmd.Flags()},
		},
		{
			name: "Binding.IsKinetic",
			usage: `
              Binding.IsKinetic specifies whether binding is kinetic rather
              than in rapid equilibrium.`,
			defaultVal: true,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), configCmd.Flags()},
		},
		{
			name: "Binding.AdsorptionRate",
			usage: `
              Binding.AdsorptionRate lists the adsorption rate of each bound
              state.`,
			defaultVal: []string{"2", "3"},
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), configCmd.Flags()},
		},
		{
			name: "Binding.DesorptionRate",
			usage: `
              Binding.DesorptionRate lists the desorption rate [1/s] of each
              bound state.`,
			defaultVal: []string{"1", "1"},
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), configCmd.Flags()},
		},
		{
			name: "Binding.BoundStates",
			usage: `
              Binding.BoundStates lists the number of bound states of each
              component for the multi-state steric mass action model.`,
			defaultVal: []int{},
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), configCmd.Flags()},
		},
		{
			name: "Binding.CharacteristicCharge",
			usage: `
              Binding.CharacteristicCharge lists the characteristic charge of
              each bound state.`,
			defaultVal: []string{},
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), configCmd.Flags()},
		},
		{
			name: "Binding.StericFactor",
			usage: `
              Binding.StericFactor lists the steric factor of each bound
              state.`,
			defaultVal: []string{},
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), configCmd.Flags()},
		},
		{
			name: "Binding.Capacity",
			usage: `
              Binding.Capacity is the ionic capacity [mol/m³ solid phase].`,
			defaultVal: 0.0,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), configCmd.Flags()},
		},
		{
			name: "Binding.ReferenceLiquidPhaseConc",
			usage: `
              Binding.ReferenceLiquidPhaseConc is the reference liquid phase
              concentration.`,
			defaultVal: 1.0,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), configCmd.Flags()},
		},
		{
			name: "Binding.ReferenceSolidPhaseConc",
			usage: `
              Binding.ReferenceSolidPhaseConc is the reference solid phase
              concentration.`,
			defaultVal: 1.0,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), configCmd.Flags()},
		},
		{
			name: "Binding.ConversionRates",
			usage: `
              Binding.ConversionRates lists the rates [1/s] of conversion
              between bound states: for each component an n×n row-major
              block indexed by (from, to), where n is its number of bound
              states.`,
			defaultVal: []string{},
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), configCmd.Flags()},
		},
		{
			name: "Profiles",
			usage: `
              Profiles gives the concentration [mol/m³] of each component in
              each inlet, as a comma-separated list of expressions of the
              process time t [s]. Functions exp(x), step(t, t0) and
              pulse(t, t0, t1) are available. Inlets that are not listed
              carry pure solvent.`,
			defaultVal: map[string]string{"feed": "1, 1"},
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), configCmd.Flags()},
		},
		{
			name: "Solver.Command",
			usage: `
              Solver.Command is the external transport solver program. If it
              is empty, the built-in ideal plug-flow model is used, which only
              supports linear binding.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), configCmd.Flags()},
		},
		{
			name: "Solver.Args",
			usage: `
              Solver.Args lists the arguments of the external solver program.`,
			defaultVal: []string{},
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), configCmd.Flags()},
		},
		{
			name: "Solver.Retries",
			usage: `
              Solver.Retries is the number of times starting the external
              solver program is retried when it fails to start.`,
			defaultVal: 0,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), configCmd.Flags()},
		},
		{
			name: "Solver.AbsTol",
			usage: `
              Solver.AbsTol is the absolute tolerance of the time integration.`,
			defaultVal: 1.0e-8,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), configCmd.Flags()},
		},
		{
			name: "Solver.RelTol",
			usage: `
              Solver.RelTol is the relative tolerance of the time integration.`,
			defaultVal: 1.0e-6,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), configCmd.Flags()},
		},
		{
			name: "Solver.InitStepSize",
			usage: `
              Solver.InitStepSize is the initial time step [s].`,
			defaultVal: 1.0e-6,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), configCmd.Flags()},
		},
		{
			name: "Solver.MaxStepSize",
			usage: `
              Solver.MaxStepSize is the largest time step [s].`,
			defaultVal: 5.0e6,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), configCmd.Flags()},
		},
		{
			name: "Solver.TimeResolution",
			usage: `
              Solver.TimeResolution is the number of samples per switch
              interval of the inlet and outlet streams.`,
			defaultVal: 100,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), configCmd.Flags()},
		},
		{
			name: "Solver.Timeout",
			usage: `
              Solver.Timeout is the wall-clock limit of one solver call, for
              example "10m". Zero means no limit.`,
			defaultVal: "0s",
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), configCmd.Flags()},
		},
		{
			name: "Solver.CacheSize",
			usage: `
              Solver.CacheSize is the number of solver results kept in memory
              so that identical column intervals are solved once. Zero
              disables the cache.`,
			defaultVal: 0,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), configCmd.Flags()},
		},
		{
			name: "Parallel",
			usage: `
              Parallel specifies whether to solve all zones of an interval
              concurrently, each fed by the outlet of its upstream zone from
              the previous interval.`,
			shorthand:  "p",
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), configCmd.Flags()},
		},
		{
			name: "CSSTolerance",
			usage: `
              CSSTolerance is the relative change of the column states between
              two full cycles below which the run stops at cyclic steady state.
              Zero runs all cycles.`,
			defaultVal: 1.0e-4,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), configCmd.Flags()},
		},
		{
			name: "CSSFloor",
			usage: `
              CSSFloor is the smallest concentration used as the denominator
              of relative changes.`,
			defaultVal: 1.0e-10,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), configCmd.Flags()},
		},
		{
			name: "CSSPoints",
			usage: `
              CSSPoints is the number of axial points per profile compared in
              the cyclic steady state check. Zero compares every cell.`,
			defaultVal: 0,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), configCmd.Flags()},
		},
		{
			name: "OutputFile",
			usage: `
              OutputFile is the path to the NetCDF results file.`,
			shorthand:  "o",
			defaultVal: "smb.nc",
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), configCmd.Flags()},
		},
		{
			name: "LogFile",
			usage: `
              LogFile is the path to the log file. The default is the output
              file path with the extension .log.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), configCmd.Flags()},
		},
		{
			name: "LogLevel",
			usage: `
              LogLevel is the lowest level of log messages written, one of
              debug, info, warning, or error.`,
			defaultVal: "info",
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), configCmd.Flags()},
		},
		{
			name: "SaveFile",
			usage: `
              SaveFile is the path to which the state of the run is written
              when it ends, so that it can be continued later. Empty means
              the state is not saved.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), configCmd.Flags()},
		},
		{
			name: "LoadFile",
			usage: `
              LoadFile is the path to a state written by a previous run with
              the same plant, to continue from.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), configCmd.Flags()},
		},
	}

	Cfg = viper.New()

	// Set the prefix for configuration environment variables.
	Cfg.SetEnvPrefix("SMB")

	for _, option := range options {
		for i, set := range option.flagsets {
			if i != 0 { // The flag is created once and shared.
				set.AddFlag(option.flagsets[0].Lookup(option.name))
				continue
			}
			switch option.defaultVal.(type) {
			case string:
				set.StringP(option.name, option.shorthand, option.defaultVal.(string), option.usage)
			case []string:
				set.StringSliceP(option.name, option.shorthand, option.defaultVal.([]string), option.usage)
			case bool:
				set.BoolP(option.name, option.shorthand, option.defaultVal.(bool), option.usage)
			case int:
				set.IntP(option.name, option.shorthand, option.defaultVal.(int), option.usage)
			case []int:
				set.IntSliceP(option.name, option.shorthand, option.defaultVal.([]int), option.usage)
			case float64:
				set.Float64P(option.name, option.shorthand, option.defaultVal.(float64), option.usage)
			case map[string]string:
				b := bytes.NewBuffer(nil)
				e := json.NewEncoder(b)
				e.Encode(option.defaultVal)
				set.StringP(option.name, option.shorthand, b.String(), option.usage)
			default:
				panic("invalid argument type")
			}
			Cfg.BindPFlag(option.name, set.Lookup(option.name))
		}
	}
}

func init() {
	// Link the commands together.
	Root.AddCommand(versionCmd)
	Root.AddCommand(runCmd)
	Root.AddCommand(flowsCmd)
	Root.AddCommand(configCmd)
	Root.AddCommand(intervalCmd)
}

// setConfig finds and reads in the configuration file, if there is one.
func setConfig() error {
	if cfgpath := Cfg.GetString("config"); cfgpath != "" {
		Cfg.SetConfigFile(os.ExpandEnv(cfgpath))
		if err := Cfg.ReadInConfig(); err != nil {
			return fmt.Errorf("smb: problem reading configuration file: %v", err)
		}
	}
	return nil
}

// Root is the main command.
var Root = &cobra.Command{
	Use:   "smb",
	Short: "A simulated moving bed chromatography scheduler.",
	Long: `smb simulates simulated moving bed (SMB) chromatography plants: it solves
the flow balance of the carousel, advances every column through each switch
interval with a transport solver, rotates the columns at every switch event,
and stops after the requested number of cycles or at cyclic steady state.

Refer to the subcommand documentation for configuration options and default settings.
Configuration can be changed by using a configuration file (and providing the
path to the file using the --config flag), by using command-line arguments,
or by setting environment variables in the format 'SMB_var' where 'var' is the
name of the variable to be set.
Refer to https://github.com/spf13/viper for additional configuration information.`,
	DisableAutoGenTag: true,
	PersistentPreRunE: func(*cobra.Command, []string) error { return setConfig() },
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  "version prints the version number of this version of smb.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("smb v%s\n", smb.Version)
	},
	DisableAutoGenTag: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a simulation.",
	Long: `run simulates the plant for NumCycles full carousel rotations, or until
cyclic steady state is reached, and writes the results to OutputFile.
An interrupt stops the run after the solver calls in progress return.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sc, err := SimulationConfig(Cfg)
		if err != nil {
			return err
		}
		outputFile, err := checkOutputFile(Cfg.GetString("OutputFile"))
		if err != nil {
			return err
		}
		return Run(cmd,
			checkLogFile(Cfg.GetString("LogFile"), outputFile),
			Cfg.GetString("LogLevel"),
			outputFile,
			os.ExpandEnv(Cfg.GetString("SaveFile")),
			os.ExpandEnv(Cfg.GetString("LoadFile")),
			sc)
	},
	DisableAutoGenTag: true,
}

var flowsCmd = &cobra.Command{
	Use:   "flows",
	Short: "Print the flow balance.",
	Long: `flows solves the flow balance of the plant and prints the flow rate on
every connection, the flow rate through every zone, and the split fractions
at every branch point.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := PlantConfig(Cfg)
		if err != nil {
			return err
		}
		top, err := c.Topology()
		if err != nil {
			return err
		}
		fs, err := smb.SolveFlows(top, c.Boundary())
		if err != nil {
			return err
		}
		return printFlows(cmd, fs)
	},
	DisableAutoGenTag: true,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the configuration.",
	Long: `config prints the effective configuration, after combining the
configuration file, environment variables and command-line arguments, in
TOML format. The output can be used as a configuration file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := effectiveConfig(Cfg)
		if err != nil {
			return err
		}
		return toml.NewEncoder(cmd.OutOrStdout()).Encode(settings)
	},
	DisableAutoGenTag: true,
}

var intervalCmd = &cobra.Command{
	Use:   "interval",
	Short: "Solve one column interval with the plug-flow model.",
	Long: `interval reads one column interval request in JSON format from standard
input, solves it with the built-in ideal plug-flow model, and writes the
response to standard output. It implements the external solver protocol,
so "smb interval" can itself be used as Solver.Command.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return extsolver.Serve(context.Background(), plugflow.Solver{}, os.Stdin, cmd.OutOrStdout())
	},
	DisableAutoGenTag: true,
}
