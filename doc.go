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

// Package smb schedules simulated moving bed (SMB) chromatography runs.
//
// A run is described by a Topology of zones, inlets and outlets, a
// FlowSheet holding the volumetric flow on every connection, and a
// Simulation that rotates physical columns through the zones of the
// carousel at every switch event. The transport of solutes inside a column
// is delegated to a Solver, which is called once per column and switch
// interval.
//
// A typical four-zone plant is built as follows:
//
//	b := smb.NewBuilder()
//	b.AddInlet("eluent").AddInlet("feed")
//	b.AddOutlet("extract").AddOutlet("raffinate")
//	b.AddZone("zone_I", 2).AddZone("zone_II", 2)
//	b.AddZone("zone_III", 2).AddZone("zone_IV", 2)
//	b.AddConnection("eluent", "zone_I")
//	b.AddConnection("zone_I", "extract").AddConnection("zone_I", "zone_II")
//	b.SetOutputState("zone_I", 0.249, 0.751)
//	...
//	top, err := b.Build()
package smb

// Version gives the version number.
const Version = "0.1.0"
