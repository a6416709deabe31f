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

	"github.com/Knetic/govaluate"
)

// Profile gives the inlet concentration of every component as a function
// of time since the start of the run [s].
type Profile interface {
	Concentration(t float64) ([]float64, error)
	NumComponents() int
}

// ConstantProfile is an inlet concentration that does not change with time.
type ConstantProfile []float64

// Concentration implements Profile.
func (p ConstantProfile) Concentration(float64) ([]float64, error) {
	return append([]float64(nil), p...), nil
}

// NumComponents implements Profile.
func (p ConstantProfile) NumComponents() int { return len(p) }

// profileFunctions are available in every ExpressionProfile.
var profileFunctions = map[string]govaluate.ExpressionFunction{
	"exp": func(arg ...interface{}) (interface{}, error) {
		if len(arg) != 1 {
			return nil, fmt.Errorf("smb: got %d arguments for function 'exp', but needs 1", len(arg))
		}
		return math.Exp(arg[0].(float64)), nil
	},
	"step": func(arg ...interface{}) (interface{}, error) {
		if len(arg) != 2 {
			return nil, fmt.Errorf("smb: got %d arguments for function 'step', but needs 2", len(arg))
		}
		if arg[0].(float64) >= arg[1].(float64) {
			return 1.0, nil
		}
		return 0.0, nil
	},
	"pulse": func(arg ...interface{}) (interface{}, error) {
		if len(arg) != 3 {
			return nil, fmt.Errorf("smb: got %d arguments for function 'pulse', but needs 3", len(arg))
		}
		t, start, end := arg[0].(float64), arg[1].(float64), arg[2].(float64)
		if t >= start && t < end {
			return 1.0, nil
		}
		return 0.0, nil
	},
}

// ExpressionProfile is an inlet concentration given as one expression of
// the time variable t per component, for example "4.4 * pulse(t, 0, 600)"
// for a 600 s feed pulse. Available functions are exp(x), step(t, t0)
// and pulse(t, t0, t1).
type ExpressionProfile struct {
	sources     []string
	expressions []*govaluate.EvaluableExpression
}

// NewExpressionProfile parses one expression per component.
func NewExpressionProfile(exprs ...string) (*ExpressionProfile, error) {
	p := &ExpressionProfile{sources: exprs}
	for i, e := range exprs {
		expression, err := govaluate.NewEvaluableExpressionWithFunctions(e, profileFunctions)
		if err != nil {
			return nil, configErrorf(fmt.Sprintf("Profile[%d]", i), "%v", err)
		}
		for _, v := range expression.Vars() {
			if v != "t" {
				return nil, configErrorf(fmt.Sprintf("Profile[%d]", i),
					"unknown variable %q in %q; only t is allowed", v, e)
			}
		}
		p.expressions = append(p.expressions, expression)
	}
	return p, nil
}

// Concentration implements Profile.
func (p *ExpressionProfile) Concentration(t float64) ([]float64, error) {
	o := make([]float64, len(p.expressions))
	params := map[string]interface{}{"t": t}
	for i, e := range p.expressions {
		r, err := e.Evaluate(params)
		if err != nil {
			return nil, fmt.Errorf("smb: evaluating %q at t=%g: %v", p.sources[i], t, err)
		}
		switch v := r.(type) {
		case float64:
			o[i] = v
		case bool:
			if v {
				o[i] = 1
			}
		default:
			return nil, fmt.Errorf("smb: %q evaluates to %T, not a number", p.sources[i], r)
		}
	}
	return o, nil
}

// NumComponents implements Profile.
func (p *ExpressionProfile) NumComponents() int { return len(p.expressions) }

// Expressions returns the source expressions.
func (p *ExpressionProfile) Expressions() []string {
	return append([]string(nil), p.sources...)
}

// sampleProfile evaluates p at start+times and returns the result as a
// trace in interval-local time.
func sampleProfile(p Profile, start float64, times []float64) (*Trace, error) {
	o := NewTrace(times, p.NumComponents())
	for j, x := range times {
		c, err := p.Concentration(start + x)
		if err != nil {
			return nil, err
		}
		for i := range c {
			o.Values[i][j] = c[i]
		}
	}
	return o, nil
}
