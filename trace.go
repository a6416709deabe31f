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
)

// Trace is a per-component concentration time series. Values is indexed
// [component][sample] and every component shares Times, which must be
// non-decreasing. Repeated times are allowed and mark a step change, such
// as the jump in an outlet stream at a switch event.
type Trace struct {
	Times  []float64
	Values [][]float64
}

// NewTrace returns a zero-valued trace of nComp components sampled at times.
func NewTrace(times []float64, nComp int) *Trace {
	t := &Trace{
		Times:  append([]float64(nil), times...),
		Values: make([][]float64, nComp),
	}
	for i := range t.Values {
		t.Values[i] = make([]float64, len(times))
	}
	return t
}

// UniformTimes returns n+1 evenly spaced sample times covering [0, duration].
func UniformTimes(duration float64, n int) []float64 {
	if n < 1 {
		n = 1
	}
	o := make([]float64, n+1)
	for i := range o {
		o[i] = duration * float64(i) / float64(n)
	}
	return o
}

// Len returns the number of samples.
func (t *Trace) Len() int { return len(t.Times) }

// NumComponents returns the number of components.
func (t *Trace) NumComponents() int { return len(t.Values) }

// Validate checks that the trace is well formed.
func (t *Trace) Validate() error {
	if len(t.Times) == 0 {
		return fmt.Errorf("smb: trace has no samples")
	}
	for i := 1; i < len(t.Times); i++ {
		if t.Times[i] < t.Times[i-1] {
			return fmt.Errorf("smb: trace times decrease at sample %d", i)
		}
	}
	for c, v := range t.Values {
		if len(v) != len(t.Times) {
			return fmt.Errorf("smb: trace component %d has %d values for %d times",
				c, len(v), len(t.Times))
		}
	}
	return nil
}

// At returns the concentration of every component at time x by linear
// interpolation. Outside the sampled range the nearest end value is
// returned. At a repeated time the later sample wins.
func (t *Trace) At(x float64) []float64 {
	o := make([]float64, len(t.Values))
	n := len(t.Times)
	if n == 0 {
		return o
	}
	// First index with Times[i] > x.
	i := sort.Search(n, func(i int) bool { return t.Times[i] > x })
	switch {
	case i == 0:
		for c, v := range t.Values {
			o[c] = v[0]
		}
	case i == n:
		for c, v := range t.Values {
			o[c] = v[n-1]
		}
	default:
		t0, t1 := t.Times[i-1], t.Times[i]
		f := (x - t0) / (t1 - t0)
		for c, v := range t.Values {
			o[c] = v[i-1] + f*(v[i]-v[i-1])
		}
	}
	return o
}

// Sample returns a new trace holding the values of t at times.
func (t *Trace) Sample(times []float64) *Trace {
	o := NewTrace(times, len(t.Values))
	for j, x := range times {
		v := t.At(x)
		for c := range v {
			o.Values[c][j] = v[c]
		}
	}
	return o
}

// Clone returns a deep copy of t.
func (t *Trace) Clone() *Trace {
	o := &Trace{
		Times:  append([]float64(nil), t.Times...),
		Values: make([][]float64, len(t.Values)),
	}
	for i, v := range t.Values {
		o.Values[i] = append([]float64(nil), v...)
	}
	return o
}

// Shift returns a copy of t with every time offset by dt.
func (t *Trace) Shift(dt float64) *Trace {
	o := t.Clone()
	for i := range o.Times {
		o.Times[i] += dt
	}
	return o
}

// Append adds the samples of o to the end of t. o must have the same number
// of components and must not start before t ends.
func (t *Trace) Append(o *Trace) error {
	if len(t.Times) == 0 && len(t.Values) == 0 {
		*t = *o.Clone()
		return nil
	}
	if err := t.checkAppend(o); err != nil {
		return err
	}
	t.Times = append(t.Times, o.Times...)
	for c := range t.Values {
		t.Values[c] = append(t.Values[c], o.Values[c]...)
	}
	return nil
}

// checkAppend returns the error Append would return for o without
// modifying t.
func (t *Trace) checkAppend(o *Trace) error {
	if len(t.Times) == 0 && len(t.Values) == 0 {
		return nil
	}
	if len(o.Values) != len(t.Values) {
		return fmt.Errorf("smb: appending trace with %d components to trace with %d",
			len(o.Values), len(t.Values))
	}
	if len(t.Times) > 0 && len(o.Times) > 0 && o.Times[0] < t.Times[len(t.Times)-1] {
		return fmt.Errorf("smb: appended trace starts at %g, before the end %g",
			o.Times[0], t.Times[len(t.Times)-1])
	}
	return nil
}

// Mix returns the flow-weighted average of traces, sampled at the union of
// their sample times. This is the concentration downstream of a junction
// where streams with the given volumetric flow rates merge.
func Mix(traces []*Trace, flows []float64) (*Trace, error) {
	if len(traces) == 0 {
		return nil, fmt.Errorf("smb: no traces to mix")
	}
	if len(traces) != len(flows) {
		return nil, fmt.Errorf("smb: %d traces but %d flow rates", len(traces), len(flows))
	}
	if len(traces) == 1 {
		return traces[0].Clone(), nil
	}
	var total float64
	for _, q := range flows {
		total += q
	}
	nComp := traces[0].NumComponents()
	seen := make(map[float64]bool)
	var times []float64
	for _, tr := range traces {
		if tr.NumComponents() != nComp {
			return nil, fmt.Errorf("smb: mixing traces with %d and %d components",
				nComp, tr.NumComponents())
		}
		for _, x := range tr.Times {
			if !seen[x] {
				seen[x] = true
				times = append(times, x)
			}
		}
	}
	sort.Float64s(times)
	o := NewTrace(times, nComp)
	if total == 0 {
		return o, nil
	}
	for k, tr := range traces {
		w := flows[k] / total
		for j, x := range times {
			v := tr.At(x)
			for c := range v {
				o.Values[c][j] += w * v[c]
			}
		}
	}
	return o, nil
}
