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
	"io"
)

// checkpoint is the gob-encoded form of a SchedulerState.
type checkpoint struct {
	Phase       Phase
	Interval    int
	Time        float64
	Slots       []int
	States      []*ColumnState
	ZoneOutlets []Trace

	Snapshots     [2][]float64
	NumSnapshots  int
	SnapshotsHead int

	Results *Results
}

// Save returns a function that writes the state of a run to w
// (format description at https://golang.org/pkg/encoding/gob/).
func Save(w io.Writer) StateManipulator {
	return func(st *SchedulerState) error {
		cp := checkpoint{
			Phase:         st.Phase,
			Interval:      st.Interval,
			Time:          st.Time,
			Slots:         st.slots,
			States:        st.states(),
			ZoneOutlets:   make([]Trace, len(st.zoneOutlets)),
			Snapshots:     st.Tracker.snapshots,
			NumSnapshots:  st.Tracker.n,
			SnapshotsHead: st.Tracker.head,
			Results:       st.Results,
		}
		// gob cannot encode nil pointers in a slice.
		for i, tr := range st.zoneOutlets {
			if tr != nil {
				cp.ZoneOutlets[i] = *tr
			}
		}
		if err := gob.NewEncoder(w).Encode(cp); err != nil {
			return fmt.Errorf("smb: saving state: %v", err)
		}
		return nil
	}
}

// Load returns a function that restores a previously Saved state into a
// state created by Start of a simulation with the same configuration.
// A run ended in a terminal phase is restored as Running so that it can
// be extended by a simulation with more cycles.
func Load(r io.Reader) StateManipulator {
	return func(st *SchedulerState) error {
		var cp checkpoint
		if err := gob.NewDecoder(r).Decode(&cp); err != nil {
			return fmt.Errorf("smb: loading state: %v", err)
		}
		if len(cp.Slots) != len(st.slots) || len(cp.States) != len(st.Columns) {
			return fmt.Errorf("smb: loading state: saved run has %d columns but this one has %d",
				len(cp.States), len(st.Columns))
		}
		if len(cp.ZoneOutlets) != len(st.zoneOutlets) {
			return fmt.Errorf("smb: loading state: saved run has %d zones but this one has %d",
				len(cp.ZoneOutlets), len(st.zoneOutlets))
		}
		cfg := st.sim.cfg
		for i, s := range cp.States {
			if err := s.check(cfg.Components.N(), NumBound(cfg.Binding), cfg.Column.AxialCells); err != nil {
				return fmt.Errorf("smb: loading state: column %d: %v", i, err)
			}
			st.Columns[i].State = s
		}
		st.Phase = cp.Phase
		if st.Phase.Terminal() || st.Phase == Idle || st.Phase == Switching {
			st.Phase = Running
		}
		st.Err = nil
		st.Interval = cp.Interval
		st.Time = cp.Time
		st.slots = cp.Slots
		for i := range cp.ZoneOutlets {
			st.zoneOutlets[i] = nil
			if cp.ZoneOutlets[i].Len() > 0 {
				tr := cp.ZoneOutlets[i]
				st.zoneOutlets[i] = &tr
			}
		}
		st.Tracker.snapshots = cp.Snapshots
		st.Tracker.n = cp.NumSnapshots
		st.Tracker.head = cp.SnapshotsHead
		st.Results = cp.Results
		st.updateResults()
		if st.Interval >= st.sim.NumSwitches() {
			st.Phase = Completed
		}
		return nil
	}
}
