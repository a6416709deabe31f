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
	"strings"
	"testing"
)

// fourZoneBuilder returns the builder of the classic closed-loop plant
// with two columns per zone.
func fourZoneBuilder() *Builder {
	return NewBuilder().
		AddInlet(EluentInlet).AddInlet(FeedInlet).
		AddOutlet("extract").AddOutlet("raffinate").
		AddZone("zone_I", 2).AddZone("zone_II", 2).AddZone("zone_III", 2).AddZone("zone_IV", 2).
		AddConnection(EluentInlet, "zone_I").
		AddConnection("zone_I", "extract").AddConnection("zone_I", "zone_II").
		AddConnection("zone_II", "zone_III").
		AddConnection(FeedInlet, "zone_III").
		AddConnection("zone_III", "raffinate").AddConnection("zone_III", "zone_IV").
		AddConnection("zone_IV", "zone_I").
		SetOutputState("zone_I", 0.249, 0.751).
		SetOutputState("zone_III", 0.213, 0.787)
}

func TestBuildFourZone(t *testing.T) {
	top, err := fourZoneBuilder().Build()
	if err != nil {
		t.Fatal(err)
	}
	if n := top.NumColumns(); n != 8 {
		t.Errorf("%d columns, want 8", n)
	}
	for i, want := range []string{"zone_I", "zone_II", "zone_III", "zone_IV"} {
		z := top.Zones()[i]
		if z.Name != want || z.Index != i || z.FirstSlot != 2*i {
			t.Errorf("zone %d: %+v", i, z)
		}
	}
	if z, pos := top.SlotZone(5); z.Name != "zone_III" || pos != 1 {
		t.Errorf("slot 5 is in %s position %d", z.Name, pos)
	}
	if f, ok := top.SplitFractions("zone_II"); !ok || len(f) != 1 || f[0] != 1 {
		t.Errorf("a zone without a branch has fractions %v", f)
	}
	if top.Kind(FeedInlet) != InletNode || top.Kind("raffinate") != OutletNode || top.Kind("x") != 0 {
		t.Error("wrong node kinds")
	}
}

func TestCarouselOrderFollowsFlow(t *testing.T) {
	// Zones added out of flow order are returned in flow order.
	top, err := NewBuilder().
		AddInlet("feed").AddOutlet("out").
		AddZone("a", 1).AddZone("c", 1).AddZone("b", 1).
		AddConnection("feed", "a").
		AddConnection("a", "b").AddConnection("b", "c").
		AddConnection("c", "out").AddConnection("c", "a").
		SetOutputState("c", 0.5, 0.5).
		Build()
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, z := range top.Zones() {
		names = append(names, z.Name)
	}
	if got := strings.Join(names, ","); got != "a,b,c" {
		t.Errorf("zone order %s", got)
	}
}

func TestBuildErrors(t *testing.T) {
	for _, test := range []struct {
		name string
		b    *Builder
		msg  string
	}{
		{
			name: "duplicate",
			b:    NewBuilder().AddZone("a", 1).AddZone("a", 1),
			msg:  "duplicate name",
		},
		{
			name: "no zones",
			b:    NewBuilder().AddInlet("feed"),
			msg:  "no zones",
		},
		{
			name: "unknown node",
			b:    NewBuilder().AddZone("a", 1).AddConnection("a", "b"),
			msg:  `unknown node "b"`,
		},
		{
			name: "zero columns",
			b:    NewBuilder().AddZone("a", 0),
			msg:  "zone has 0 columns",
		},
		{
			name: "split sum",
			b: fourZoneBuilder().SetOutputState("zone_II", 1).
				AddOutlet("x").AddConnection("zone_IV", "x").SetOutputState("zone_IV", 0.5, 0.4),
			msg: "split fractions sum to",
		},
		{
			name: "missing split",
			b: NewBuilder().AddInlet("feed").AddOutlet("o").AddZone("a", 1).AddZone("b", 1).
				AddConnection("feed", "a").AddConnection("a", "b").AddConnection("b", "a").
				AddConnection("b", "o"),
			msg: "split fractions missing",
		},
		{
			name: "open carousel",
			b: NewBuilder().AddInlet("feed").AddOutlet("o").AddZone("a", 1).AddZone("b", 1).
				AddConnection("feed", "a").AddConnection("a", "b").AddConnection("b", "o"),
			msg: "carousel is not closed",
		},
		{
			name: "inlet receives",
			b: NewBuilder().AddInlet("feed").AddZone("a", 1).
				AddConnection("feed", "a").AddConnection("a", "feed"),
			msg: "inlet cannot receive flow",
		},
		{
			name: "dangling outlet",
			b: NewBuilder().AddInlet("feed").AddOutlet("o").AddOutlet("p").AddZone("a", 1).
				AddConnection("feed", "a").AddConnection("a", "o"),
			msg: "outlet is not connected",
		},
		{
			name: "free without branch",
			b: NewBuilder().AddInlet("feed").AddOutlet("o").AddZone("a", 1).
				AddConnection("feed", "a").AddConnection("a", "o").SetOutputFree("a"),
			msg: "free output state on a node without a branch",
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			_, err := test.b.Build()
			var te *TopologyError
			if !errors.As(err, &te) {
				t.Fatalf("error %v is not a TopologyError", err)
			}
			if !strings.Contains(err.Error(), test.msg) {
				t.Errorf("error %q does not contain %q", err, test.msg)
			}
		})
	}
}

func TestConfigValidate(t *testing.T) {
	base := func() Config {
		return Config{
			NumZones:       4,
			ColumnsPerZone: []int{2},
			SwitchTime:     1552,
			NumCycles:      1,
			SplitFractions: map[string]float64{"zone_I": 0.249, "zone_III": 0.213},
			BoundaryFlows:  BoundaryFlows{Feed: 2e-8, Eluent: 4.14e-8},
		}
	}
	if err := base().Validate(); err != nil {
		t.Fatal(err)
	}
	for _, test := range []struct {
		field string
		edit  func(*Config)
	}{
		{"NumZones", func(c *Config) { c.NumZones = 0 }},
		{"ColumnsPerZone", func(c *Config) { c.ColumnsPerZone = []int{1, 2} }},
		{"SwitchTime", func(c *Config) { c.SwitchTime = 0 }},
		{"NumCycles", func(c *Config) { c.NumCycles = 0 }},
		{"BoundaryFlows.Feed", func(c *Config) { c.BoundaryFlows.Feed = -1 }},
		{"FeedZone", func(c *Config) { c.FeedZone = "zone_IX" }},
		{"SplitFractions", func(c *Config) { c.SplitFractions["zone_II"] = 0.5 }},
		{"SplitFractions", func(c *Config) { delete(c.SplitFractions, "zone_I") }},
		{"BoundaryFlows.Extract", func(c *Config) { c.BoundaryFlows.Extract = []float64{1, 2} }},
	} {
		c := base()
		test.edit(&c)
		err := c.Validate()
		var ce *ConfigurationError
		if !errors.As(err, &ce) || ce.Field != test.field {
			t.Errorf("%s: have error %v", test.field, err)
		}
	}
}

func TestConfigOutletNames(t *testing.T) {
	c := Config{
		NumZones:       5,
		ExtractZones:   []string{"zone_I", "zone_II"},
		RaffinateZones: []string{"zone_IV"},
	}
	e, r := c.OutletNames()
	if strings.Join(e, ",") != "extract_1,extract_2" || strings.Join(r, ",") != "raffinate" {
		t.Errorf("outlets %v %v", e, r)
	}
	e, r = Config{NumZones: 1}.OutletNames()
	if len(e) != 0 || strings.Join(r, ",") != "raffinate" {
		t.Errorf("single zone outlets %v %v", e, r)
	}
}
