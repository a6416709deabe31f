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
)

// BoundaryFlows holds the volumetric flow rates [m³/s] at the plant
// boundary. An outlet flow rate of zero means that it is not specified
// and follows from the split fractions.
type BoundaryFlows struct {
	Feed      float64
	Eluent    float64
	Extract   []float64
	Raffinate []float64
}

// Config describes a standard carousel: an eluent inlet and a feed inlet,
// zones in series closed into a loop, and extract and raffinate outlets
// tapped from the ends of zones.
type Config struct {
	// ZoneNames optionally names the zones in flow order. The default
	// names are zone_I, zone_II and so on.
	ZoneNames []string

	NumZones int

	// ColumnsPerZone gives the number of columns in each zone, or a single
	// value used for every zone.
	ColumnsPerZone []int

	SwitchTime float64 // [s]
	NumCycles  int

	// SplitFractions gives, for a zone with an outlet tap, the fraction of
	// the zone outflow that leaves through the tap. A zone with a tap but
	// without a split fraction has a free split set by the outlet flow.
	SplitFractions map[string]float64

	BoundaryFlows BoundaryFlows

	// ZoneFlows optionally fixes the flow rate [m³/s] through zones.
	ZoneFlows map[string]float64

	// Port placement. For four zones the defaults are the standard
	// arrangement: eluent into and extract out of the first zone, feed
	// into and raffinate out of the third zone.
	EluentZone     string
	FeedZone       string
	ExtractZones   []string
	RaffinateZones []string

	// ValveDeadVolume [m³] applies to every zone.
	ValveDeadVolume float64
}

var romanNumerals = []string{"I", "II", "III", "IV", "V", "VI", "VII", "VIII", "IX", "X",
	"XI", "XII"}

// DefaultZoneName returns the default name of zone i (0-based).
func DefaultZoneName(i int) string {
	if i < len(romanNumerals) {
		return "zone_" + romanNumerals[i]
	}
	return fmt.Sprintf("zone_%d", i+1)
}

// withDefaults returns a copy of c with default names and port
// placements filled in.
func (c Config) withDefaults() Config {
	if len(c.ZoneNames) == 0 && c.NumZones > 0 {
		c.ZoneNames = make([]string, c.NumZones)
		for i := range c.ZoneNames {
			c.ZoneNames[i] = DefaultZoneName(i)
		}
	}
	if len(c.ColumnsPerZone) == 1 && c.NumZones > 1 {
		n := c.ColumnsPerZone[0]
		c.ColumnsPerZone = make([]int, c.NumZones)
		for i := range c.ColumnsPerZone {
			c.ColumnsPerZone[i] = n
		}
	}
	if c.NumZones == 4 && len(c.ZoneNames) == 4 {
		if c.EluentZone == "" {
			c.EluentZone = c.ZoneNames[0]
		}
		if c.FeedZone == "" {
			c.FeedZone = c.ZoneNames[2]
		}
		if len(c.ExtractZones) == 0 {
			c.ExtractZones = []string{c.ZoneNames[0]}
		}
		if len(c.RaffinateZones) == 0 {
			c.RaffinateZones = []string{c.ZoneNames[2]}
		}
	}
	if c.NumZones == 1 && len(c.ZoneNames) == 1 {
		if c.EluentZone == "" {
			c.EluentZone = c.ZoneNames[0]
		}
		if c.FeedZone == "" {
			c.FeedZone = c.ZoneNames[0]
		}
	}
	return c
}

func validFlow(field string, q float64) error {
	if q < 0 || math.IsNaN(q) || math.IsInf(q, 0) {
		return configErrorf(field, "invalid flow rate %g", q)
	}
	return nil
}

// Validate checks that c is complete and consistent.
func (c Config) Validate() error {
	d := c.withDefaults()
	if d.NumZones < 1 {
		return configErrorf("NumZones", "must be >= 1 but is %d", d.NumZones)
	}
	if len(d.ZoneNames) != d.NumZones {
		return configErrorf("ZoneNames", "has %d names for %d zones", len(d.ZoneNames), d.NumZones)
	}
	zones := make(map[string]bool)
	for _, z := range d.ZoneNames {
		if z == "" || zones[z] {
			return configErrorf("ZoneNames", "invalid or duplicate zone name %q", z)
		}
		zones[z] = true
	}
	if len(d.ColumnsPerZone) != d.NumZones {
		return configErrorf("ColumnsPerZone", "has %d values for %d zones", len(d.ColumnsPerZone), d.NumZones)
	}
	for i, n := range d.ColumnsPerZone {
		if n < 1 {
			return configErrorf("ColumnsPerZone", "zone %s has %d columns", d.ZoneNames[i], n)
		}
	}
	if !(d.SwitchTime > 0) || math.IsInf(d.SwitchTime, 0) {
		return configErrorf("SwitchTime", "must be > 0 but is %g", d.SwitchTime)
	}
	if d.NumCycles < 1 {
		return configErrorf("NumCycles", "must be >= 1 but is %d", d.NumCycles)
	}
	if d.ValveDeadVolume < 0 {
		return configErrorf("ValveDeadVolume", "must be >= 0 but is %g", d.ValveDeadVolume)
	}
	if err := validFlow("BoundaryFlows.Feed", d.BoundaryFlows.Feed); err != nil {
		return err
	}
	if err := validFlow("BoundaryFlows.Eluent", d.BoundaryFlows.Eluent); err != nil {
		return err
	}
	for _, p := range []struct{ field, zone string }{
		{"EluentZone", d.EluentZone}, {"FeedZone", d.FeedZone},
	} {
		if !zones[p.zone] {
			return configErrorf(p.field, "unknown zone %q", p.zone)
		}
	}
	if d.NumZones == 1 {
		if len(d.ExtractZones) > 0 || len(d.RaffinateZones) > 0 || len(d.SplitFractions) > 0 {
			return configErrorf("ExtractZones", "a single zone drains to one outlet and has no taps")
		}
		return nil
	}
	if len(d.ExtractZones) == 0 && len(d.RaffinateZones) == 0 {
		return configErrorf("ExtractZones", "no outlet zones given")
	}
	taps := make(map[string]string)
	for _, p := range []struct {
		field string
		zones []string
		flows []float64
	}{
		{"Extract", d.ExtractZones, d.BoundaryFlows.Extract},
		{"Raffinate", d.RaffinateZones, d.BoundaryFlows.Raffinate},
	} {
		if len(p.flows) != 0 && len(p.flows) != len(p.zones) {
			return configErrorf("BoundaryFlows."+p.field, "has %d flow rates for %d outlets",
				len(p.flows), len(p.zones))
		}
		for i, z := range p.zones {
			if !zones[z] {
				return configErrorf(p.field+"Zones", "unknown zone %q", z)
			}
			if prev, ok := taps[z]; ok {
				return configErrorf(p.field+"Zones", "zone %s already has the %s tap", z, prev)
			}
			taps[z] = p.field
			var q float64
			if len(p.flows) > 0 {
				q = p.flows[i]
				if err := validFlow(fmt.Sprintf("BoundaryFlows.%s[%d]", p.field, i), q); err != nil {
					return err
				}
			}
			if _, ok := d.SplitFractions[z]; !ok && q == 0 {
				return configErrorf("SplitFractions", "zone %s has neither a split fraction nor a %s flow rate",
					z, p.field)
			}
		}
	}
	for z, w := range d.SplitFractions {
		if _, ok := taps[z]; !ok {
			return configErrorf("SplitFractions", "zone %q has no outlet tap", z)
		}
		if !(w >= 0 && w <= 1) {
			return configErrorf("SplitFractions", "zone %s: fraction %g outside [0, 1]", z, w)
		}
	}
	for z, q := range d.ZoneFlows {
		if !zones[z] {
			return configErrorf("ZoneFlows", "unknown zone %q", z)
		}
		if err := validFlow("ZoneFlows."+z, q); err != nil {
			return err
		}
	}
	return nil
}

// Outlet names used by Config.Topology.
const (
	EluentInlet = "eluent"
	FeedInlet   = "feed"
)

func outletName(base string, i, n int) string {
	if n == 1 {
		return base
	}
	return fmt.Sprintf("%s_%d", base, i+1)
}

// OutletNames returns the names of the extract and raffinate outlets of
// the topology built by Config.Topology.
func (c Config) OutletNames() (extracts, raffinates []string) {
	d := c.withDefaults()
	if d.NumZones == 1 {
		return nil, []string{"raffinate"}
	}
	for i := range d.ExtractZones {
		extracts = append(extracts, outletName("extract", i, len(d.ExtractZones)))
	}
	for i := range d.RaffinateZones {
		raffinates = append(raffinates, outletName("raffinate", i, len(d.RaffinateZones)))
	}
	return extracts, raffinates
}

// Topology builds the carousel described by c.
func (c Config) Topology() (*Topology, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	d := c.withDefaults()
	extracts, raffinates := d.OutletNames()
	tap := make(map[string]string)
	for i, z := range d.ExtractZones {
		tap[z] = extracts[i]
	}
	for i, z := range d.RaffinateZones {
		tap[z] = raffinates[i]
	}

	b := NewBuilder()
	b.AddInlet(EluentInlet).AddInlet(FeedInlet)
	for _, o := range append(append([]string{}, extracts...), raffinates...) {
		b.AddOutlet(o)
	}
	for i, z := range d.ZoneNames {
		b.AddZone(z, d.ColumnsPerZone[i], ValveDeadVolume(d.ValveDeadVolume))
	}
	if d.NumZones == 1 {
		z := d.ZoneNames[0]
		b.AddConnection(EluentInlet, z).AddConnection(FeedInlet, z)
		b.AddConnection(z, raffinates[0])
		return b.Build()
	}
	for i, z := range d.ZoneNames {
		if d.EluentZone == z {
			b.AddConnection(EluentInlet, z)
		}
		if d.FeedZone == z {
			b.AddConnection(FeedInlet, z)
		}
		next := d.ZoneNames[(i+1)%d.NumZones]
		if o, ok := tap[z]; ok {
			b.AddConnection(z, o).AddConnection(z, next)
			if w, ok := d.SplitFractions[z]; ok {
				b.SetOutputState(z, w, 1-w)
			} else {
				b.SetOutputFree(z)
			}
		} else {
			b.AddConnection(z, next)
		}
	}
	return b.Build()
}

// Boundary returns the boundary flow rates described by c.
func (c Config) Boundary() Boundary {
	d := c.withDefaults()
	b := Boundary{
		Inlets: map[string]float64{
			EluentInlet: d.BoundaryFlows.Eluent,
			FeedInlet:   d.BoundaryFlows.Feed,
		},
		Outlets: make(map[string]float64),
		Zones:   make(map[string]float64),
	}
	extracts, raffinates := d.OutletNames()
	for i, q := range d.BoundaryFlows.Extract {
		if q > 0 && i < len(extracts) {
			b.Outlets[extracts[i]] = q
		}
	}
	for i, q := range d.BoundaryFlows.Raffinate {
		if q > 0 && i < len(raffinates) {
			b.Outlets[raffinates[i]] = q
		}
	}
	for z, q := range d.ZoneFlows {
		b.Zones[z] = q
	}
	return b
}
