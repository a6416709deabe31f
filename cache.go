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
	"context"
	"fmt"
	"runtime"

	"github.com/ctessum/requestcache"
	"github.com/spatialmodel/smb/internal/hash"
)

// CachedSolver memoizes the results of a Solver. Identical requests, such
// as the intervals of columns that are still empty, are solved once.
type CachedSolver struct {
	Solver
	cache *requestcache.Cache
}

// NewCachedSolver wraps s with an in-memory cache holding up to size
// results. Concurrent identical requests are deduplicated.
func NewCachedSolver(s Solver, size int) *CachedSolver {
	c := &CachedSolver{Solver: s}
	c.cache = requestcache.NewCache(func(ctx context.Context, request interface{}) (interface{}, error) {
		return s.SolveInterval(ctx, request.(*IntervalRequest))
	}, runtime.GOMAXPROCS(-1), requestcache.Deduplicate(), requestcache.Memory(size))
	return c
}

// SolveInterval implements Solver.
func (c *CachedSolver) SolveInterval(ctx context.Context, req *IntervalRequest) (*IntervalResult, error) {
	r, err := c.cache.NewRequest(ctx, req, requestKey(req)).Result()
	if err != nil {
		return nil, err
	}
	res, ok := r.(*IntervalResult)
	if !ok || res == nil {
		return nil, fmt.Errorf("smb: cached solver returned %T", r)
	}
	// Results are shared between callers.
	o := &IntervalResult{}
	if res.Final != nil {
		o.Final = res.Final.Clone()
	}
	if res.Outlet != nil {
		o.Outlet = res.Outlet.Clone()
	}
	return o, nil
}

// Supports implements BindingSupporter by delegating to the wrapped solver.
func (c *CachedSolver) Supports(b BindingModel) bool {
	if bs, ok := c.Solver.(BindingSupporter); ok {
		return bs.Supports(b)
	}
	return true
}

type cacheKey struct {
	Components []string
	Geometry   ColumnGeometry
	Binding    string
	Initial    ColumnState
	FlowRate   float64
	Inlet      Trace
	Duration   float64
	DeadVolume float64
	Options    SolverOptions
}

func requestKey(req *IntervalRequest) string {
	k := cacheKey{
		Components: req.Components,
		Binding:    hash.Dump(req.Binding),
		FlowRate:   req.Inlet.FlowRate,
		Duration:   req.Duration,
		DeadVolume: req.DeadVolume,
		Options:    req.Options,
	}
	if req.Geometry != nil {
		k.Geometry = *req.Geometry
	}
	if req.Initial != nil {
		k.Initial = *req.Initial
	}
	if req.Inlet.Concentration != nil {
		k.Inlet = *req.Inlet.Concentration
	}
	return hash.Hash(k)
}
