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
	"sort"
	"strings"

	"github.com/ctessum/cdf"
)

// WriteNetCDF writes r to w in NetCDF format. Outlet and inlet streams are
// stored as variables named "outlet_<name>" and "inlet_<name>" with
// dimensions [component, time].
func WriteNetCDF(w cdf.ReaderWriterAt, r *Results) error {
	if len(r.Intervals) == 0 {
		return fmt.Errorf("smb: writing netcdf: no completed intervals")
	}
	outlets, inlets := sortedTraceKeys(r.Outlets), sortedTraceKeys(r.Inlets)
	var times []float64
	switch {
	case len(outlets) > 0:
		times = r.Outlets[outlets[0]].Times
	case len(inlets) > 0:
		times = r.Inlets[inlets[0]].Times
	}
	if len(times) == 0 {
		return fmt.Errorf("smb: writing netcdf: no outlet or inlet traces")
	}
	state := r.Final[0]
	nComp, nCells, nBound := len(r.Components), state.NumCells(), len(state.Solid)
	nCols, nZones := len(r.Final), len(r.Intervals[0].ZoneFlows)

	dims := []string{"component", "time", "interval", "slot", "zone", "column", "cell"}
	lengths := []int{nComp, len(times), len(r.Intervals), len(r.Assignment), nZones, nCols, nCells}
	if nBound > 0 {
		dims = append(dims, "bound")
		lengths = append(lengths, nBound)
	}
	h := cdf.NewHeader(dims, lengths)
	h.AddAttribute("", "components", strings.Join(r.Components, ","))
	h.AddAttribute("", "switch_time", []float64{r.SwitchTime})
	h.AddAttribute("", "outlets", strings.Join(outlets, ","))
	h.AddAttribute("", "inlets", strings.Join(inlets, ","))
	zoneNames := make([]string, len(r.Zones))
	for i, z := range r.Zones {
		zoneNames[i] = z.Name
	}
	h.AddAttribute("", "zones", strings.Join(zoneNames, ","))

	h.AddVariable("time", []string{"time"}, []float64{0})
	h.AddAttribute("time", "units", "s")
	for _, name := range outlets {
		v := "outlet_" + name
		h.AddVariable(v, []string{"component", "time"}, []float64{0})
		h.AddAttribute(v, "description", fmt.Sprintf("concentration in outlet stream %s", name))
		h.AddAttribute(v, "units", "mol m-3")
	}
	for _, name := range inlets {
		v := "inlet_" + name
		h.AddVariable(v, []string{"component", "time"}, []float64{0})
		h.AddAttribute(v, "description", fmt.Sprintf("concentration in inlet stream %s", name))
		h.AddAttribute(v, "units", "mol m-3")
	}
	h.AddVariable("interval_start", []string{"interval"}, []float64{0})
	h.AddAttribute("interval_start", "units", "s")
	h.AddVariable("assignment", []string{"interval", "slot"}, []int32{0})
	h.AddAttribute("assignment", "description", "column ID in each carousel slot")
	h.AddVariable("zone_flow", []string{"interval", "zone"}, []float64{0})
	h.AddAttribute("zone_flow", "units", "m3 s-1")
	h.AddVariable("final_assignment", []string{"slot"}, []int32{0})
	h.AddVariable("final_bulk", []string{"column", "component", "cell"}, []float64{0})
	h.AddAttribute("final_bulk", "units", "mol m-3")
	if nBound > 0 {
		h.AddVariable("final_solid", []string{"column", "bound", "cell"}, []float64{0})
		h.AddAttribute("final_solid", "units", "mol m-3")
	}
	h.Define()
	for _, err := range h.Check() {
		return fmt.Errorf("smb: creating netcdf file: %v", err)
	}
	f, err := cdf.Create(w, h)
	if err != nil {
		return fmt.Errorf("smb: creating netcdf file: %v", err)
	}

	write := func(v string, data interface{}) error {
		lengths := f.Header.Lengths(v)
		begin := make([]int, len(lengths))
		if _, err := f.Writer(v, begin, lengths).Write(data); err != nil {
			return fmt.Errorf("smb: writing netcdf variable %s: %v", v, err)
		}
		return nil
	}
	if err := write("time", times); err != nil {
		return err
	}
	for _, m := range []struct {
		prefix string
		names  []string
		traces map[string]*Trace
	}{{"outlet_", outlets, r.Outlets}, {"inlet_", inlets, r.Inlets}} {
		for _, name := range m.names {
			tr := m.traces[name]
			if tr.Len() != len(times) {
				return fmt.Errorf("smb: writing netcdf: stream %s has %d samples but %s has %d",
					name, tr.Len(), "time", len(times))
			}
			if err := write(m.prefix+name, flatten(tr.Values)); err != nil {
				return err
			}
		}
	}

	starts := make([]float64, len(r.Intervals))
	var assignment []int32
	var flows []float64
	for i, rec := range r.Intervals {
		starts[i] = rec.Start
		for _, id := range rec.Assignment {
			assignment = append(assignment, int32(id))
		}
		flows = append(flows, rec.ZoneFlows...)
	}
	if err := write("interval_start", starts); err != nil {
		return err
	}
	if err := write("assignment", assignment); err != nil {
		return err
	}
	if err := write("zone_flow", flows); err != nil {
		return err
	}
	final := make([]int32, len(r.Assignment))
	for i, id := range r.Assignment {
		final[i] = int32(id)
	}
	if err := write("final_assignment", final); err != nil {
		return err
	}
	var bulk, solid []float64
	for _, s := range r.Final {
		bulk = append(bulk, flatten(s.Bulk)...)
		solid = append(solid, flatten(s.Solid)...)
	}
	if err := write("final_bulk", bulk); err != nil {
		return err
	}
	if nBound > 0 {
		if err := write("final_solid", solid); err != nil {
			return err
		}
	}
	return nil
}

// ReadNetCDF reads results written by WriteNetCDF.
func ReadNetCDF(rw cdf.ReaderWriterAt) (*Results, error) {
	f, err := cdf.Open(rw)
	if err != nil {
		return nil, fmt.Errorf("smb: opening netcdf file: %v", err)
	}
	attr := func(name string) string {
		s, _ := f.Header.GetAttribute("", name).(string)
		return s
	}
	read := func(v string) (interface{}, error) {
		r := f.Reader(v, nil, nil)
		buf := r.Zero(-1)
		if _, err := r.Read(buf); err != nil {
			return nil, fmt.Errorf("smb: reading netcdf variable %s: %v", v, err)
		}
		return buf, nil
	}
	readFloats := func(v string) ([]float64, error) {
		buf, err := read(v)
		if err != nil {
			return nil, err
		}
		o, ok := buf.([]float64)
		if !ok {
			return nil, fmt.Errorf("smb: netcdf variable %s has type %T", v, buf)
		}
		return o, nil
	}
	readInts := func(v string) ([]int, error) {
		buf, err := read(v)
		if err != nil {
			return nil, err
		}
		b, ok := buf.([]int32)
		if !ok {
			return nil, fmt.Errorf("smb: netcdf variable %s has type %T", v, buf)
		}
		o := make([]int, len(b))
		for i, x := range b {
			o[i] = int(x)
		}
		return o, nil
	}

	r := &Results{
		Components: splitList(attr("components")),
		Outlets:    make(map[string]*Trace),
		Inlets:     make(map[string]*Trace),
	}
	if st, ok := f.Header.GetAttribute("", "switch_time").([]float64); ok && len(st) == 1 {
		r.SwitchTime = st[0]
	}
	for i, name := range splitList(attr("zones")) {
		r.Zones = append(r.Zones, Zone{Name: name, Index: i})
	}
	nComp := len(r.Components)
	times, err := readFloats("time")
	if err != nil {
		return nil, err
	}
	for _, m := range []struct {
		prefix string
		names  []string
		traces map[string]*Trace
	}{{"outlet_", splitList(attr("outlets")), r.Outlets}, {"inlet_", splitList(attr("inlets")), r.Inlets}} {
		for _, name := range m.names {
			v, err := readFloats(m.prefix + name)
			if err != nil {
				return nil, err
			}
			m.traces[name] = &Trace{
				Times:  append([]float64(nil), times...),
				Values: unflatten(v, nComp),
			}
		}
	}

	starts, err := readFloats("interval_start")
	if err != nil {
		return nil, err
	}
	assignment, err := readInts("assignment")
	if err != nil {
		return nil, err
	}
	flows, err := readFloats("zone_flow")
	if err != nil {
		return nil, err
	}
	nSlots := f.Header.Lengths("final_assignment")[0]
	nZones := len(flows) / len(starts)
	for i, s := range starts {
		r.Intervals = append(r.Intervals, IntervalRecord{
			Index:      i,
			Start:      s,
			Assignment: assignment[i*nSlots : (i+1)*nSlots],
			ZoneFlows:  flows[i*nZones : (i+1)*nZones],
		})
	}
	if r.Assignment, err = readInts("final_assignment"); err != nil {
		return nil, err
	}
	r.NumColumns = nSlots

	bulk, err := readFloats("final_bulk")
	if err != nil {
		return nil, err
	}
	var solid []float64
	nBound := 0
	if l := f.Header.Lengths("final_solid"); len(l) == 3 {
		nBound = l[1]
		if solid, err = readFloats("final_solid"); err != nil {
			return nil, err
		}
	}
	nCols := f.Header.Lengths("final_bulk")[0]
	bulkSize, solidSize := len(bulk)/nCols, 0
	if nBound > 0 {
		solidSize = len(solid) / nCols
	}
	for c := 0; c < nCols; c++ {
		s := &ColumnState{Bulk: unflatten(bulk[c*bulkSize:(c+1)*bulkSize], nComp)}
		if nBound > 0 {
			s.Solid = unflatten(solid[c*solidSize:(c+1)*solidSize], nBound)
		} else {
			s.Solid = [][]float64{}
		}
		r.Final = append(r.Final, s)
	}
	return r, nil
}

func flatten(v [][]float64) []float64 {
	var o []float64
	for _, x := range v {
		o = append(o, x...)
	}
	return o
}

func unflatten(v []float64, n int) [][]float64 {
	o := make([][]float64, n)
	if n == 0 {
		return o
	}
	m := len(v) / n
	for i := range o {
		o[i] = append([]float64(nil), v[i*m:(i+1)*m]...)
	}
	return o
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func sortedTraceKeys(m map[string]*Trace) []string {
	o := make([]string, 0, len(m))
	for k := range m {
		o = append(o, k)
	}
	sort.Strings(o)
	return o
}
