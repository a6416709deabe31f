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

import "strings"

// ComponentSystem is the ordered set of chemical components in a run.
// It is immutable once created; concentration arrays everywhere in the
// package are indexed in the same order.
type ComponentSystem struct {
	names []string
	index map[string]int
}

// NewComponentSystem creates a component system from unique, non-empty names.
func NewComponentSystem(names ...string) (*ComponentSystem, error) {
	if len(names) == 0 {
		return nil, configErrorf("Components", "at least one component is required")
	}
	cs := &ComponentSystem{
		names: make([]string, len(names)),
		index: make(map[string]int, len(names)),
	}
	for i, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			return nil, configErrorf("Components", "component %d has an empty name", i)
		}
		if _, ok := cs.index[n]; ok {
			return nil, configErrorf("Components", "duplicate component %q", n)
		}
		cs.names[i] = n
		cs.index[n] = i
	}
	return cs, nil
}

// N returns the number of components.
func (cs *ComponentSystem) N() int { return len(cs.names) }

// Names returns a copy of the component names.
func (cs *ComponentSystem) Names() []string {
	o := make([]string, len(cs.names))
	copy(o, cs.names)
	return o
}

// Index returns the array index of the named component.
func (cs *ComponentSystem) Index(name string) (int, bool) {
	i, ok := cs.index[name]
	return i, ok
}
