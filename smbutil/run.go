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
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/smb"
	"github.com/spatialmodel/smb/extsolver"
	"github.com/spf13/cobra"
)

// Run runs a simulation.
//
// CobraCommand is the cobra.Command instance where Run is called from. Log
// messages are written to its output and to LogFile.
//
// LogLevel is one of the logrus level names, e.g. "info" or "debug".
//
// OutputFile is the path where the results are written in NetCDF format.
// The results are written even if the run fails, through the last
// successful switch interval.
//
// If SaveFile is not empty, the state at the end of the run is saved there
// so that a later run can continue from it by setting LoadFile.
func Run(CobraCommand *cobra.Command, LogFile, LogLevel, OutputFile, SaveFile, LoadFile string, sc smb.SimulationConfig) error {
	startTime := time.Now()

	logfile, err := os.Create(LogFile)
	if err != nil {
		return fmt.Errorf("smb: problem creating log file: %v", err)
	}
	defer logfile.Close()
	log := logrus.New()
	log.Out = io.MultiWriter(CobraCommand.OutOrStdout(), logfile)
	level, err := logrus.ParseLevel(LogLevel)
	if err != nil {
		return fmt.Errorf("smb: LogLevel: %v", err)
	}
	log.Level = level
	sc.Log = log
	solver := sc.Solver
	if c, ok := solver.(*smb.CachedSolver); ok {
		solver = c.Solver
	}
	if es, ok := solver.(*extsolver.Solver); ok && es.Log == nil {
		es.Log = log
	}

	sim, err := smb.NewSimulation(sc)
	if err != nil {
		return err
	}
	logFlows(log, sim.Flows())

	st, err := sim.Start(nil)
	if err != nil {
		return err
	}
	if LoadFile != "" {
		log.WithField("file", LoadFile).Info("loading saved state")
		f, err := os.Open(LoadFile)
		if err != nil {
			return fmt.Errorf("smb: problem opening file to load saved state: %v", err)
		}
		err = smb.Load(f)(st)
		f.Close()
		if err != nil {
			return err
		}
	}

	sim.RunFuncs = append(sim.RunFuncs, smb.Log(log))
	sim.CleanupFuncs = append(sim.CleanupFuncs, writeOutput(log, OutputFile))
	if SaveFile != "" {
		sim.CleanupFuncs = append(sim.CleanupFuncs, save(log, SaveFile))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	runErr := sim.Run(ctx, st)
	logPerformance(log, sim, st)
	log.WithFields(logrus.Fields{
		"phase":     st.Phase,
		"intervals": st.Interval,
		"walltime":  time.Since(startTime).Round(time.Millisecond),
	}).Info("run finished")
	return runErr
}

// writeOutput returns a function that writes the results of a run to
// the NetCDF file at path.
func writeOutput(log logrus.FieldLogger, path string) smb.StateManipulator {
	return func(st *smb.SchedulerState) error {
		if st.Results.NumIntervals() == 0 {
			log.Warn("no switch interval completed; not writing output")
			return nil
		}
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("smb: creating output file: %v", err)
		}
		if err := smb.WriteNetCDF(f, st.Results); err != nil {
			f.Close()
			return err
		}
		log.WithField("file", path).Info("wrote results")
		return f.Close()
	}
}

func save(log logrus.FieldLogger, path string) smb.StateManipulator {
	return func(st *smb.SchedulerState) error {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("smb: creating save file: %v", err)
		}
		if err := smb.Save(f)(st); err != nil {
			f.Close()
			return err
		}
		log.WithField("file", path).Info("saved state")
		return f.Close()
	}
}

func logFlows(log logrus.FieldLogger, fs *smb.FlowSheet) {
	for _, z := range fs.Topology().Zones() {
		log.WithFields(logrus.Fields{
			"zone":    z.Name,
			"columns": z.NumColumns,
			"flow":    fs.ZoneFlow(z.Name),
		}).Info("zone flow")
	}
}

// logPerformance logs the purity and recovery at every outlet over the
// last cycle of the run.
func logPerformance(log logrus.FieldLogger, sim *smb.Simulation, st *smb.SchedulerState) {
	r := st.Results
	if r.NumIntervals() == 0 {
		return
	}
	last := r.Intervals[r.NumIntervals()-1]
	end := last.Start + r.SwitchTime
	start := math.Max(0, end-r.CycleTime())
	feed := smb.FeedInlet
	if _, ok := r.Inlets[feed]; !ok {
		return
	}
	for _, name := range sortedNames(r.Outlets) {
		p, err := smb.Performance(r, sim.Flows(), feed, name, start, end)
		if err != nil {
			log.WithField("outlet", name).Warn(err)
			continue
		}
		fields := logrus.Fields{"outlet": name}
		for i, c := range r.Components {
			fields["purity_"+c] = p.Purity[i]
			fields["recovery_"+c] = p.Recovery[i]
		}
		log.WithFields(fields).Info("last cycle performance")
	}
}

// printFlows prints the flow rate on every connection, through every
// zone, and the fractions at every branch point.
func printFlows(cmd *cobra.Command, fs *smb.FlowSheet) error {
	top := fs.Topology()
	cmd.Println("Connections [m³/s]:")
	for _, c := range top.Connections() {
		cmd.Printf("  %-24s %12.5e\n", c, fs.Flow(c))
	}
	cmd.Println("Zones [m³/s]:")
	for _, z := range top.Zones() {
		cmd.Printf("  %-24s %12.5e\n", z.Name, fs.ZoneFlow(z.Name))
	}
	nodes := make([]string, 0)
	for _, z := range top.Zones() {
		nodes = append(nodes, z.Name)
	}
	nodes = append(nodes, top.Inlets()...)
	sort.Strings(nodes)
	cmd.Println("Split fractions:")
	for _, n := range nodes {
		out := top.Outbound(n)
		if len(out) < 2 {
			continue
		}
		fractions := fs.Fractions(n)
		for i, c := range out {
			cmd.Printf("  %-24s %12.5f\n", c, fractions[i])
		}
	}
	cmd.Printf("Imbalance [m³/s]: %g\n", fs.Imbalance())
	return nil
}
