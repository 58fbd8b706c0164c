// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package schema holds the small value types shared across the engine:
// the sample value type and its NaN/Inf-aware JSON encoding.
package schema

import (
	"math"
	"strconv"
)

// Float is a float64 whose JSON encoding follows the OpenTSDB-style
// convention of emitting NaN/Inf/-Inf as quoted string tokens (§6)
// instead of failing to marshal, which encoding/json does for plain
// float64.
type Float float64

var NaN = Float(math.NaN())

func (f Float) IsNaN() bool {
	return math.IsNaN(float64(f))
}

func (f Float) MarshalJSON() ([]byte, error) {
	v := float64(f)
	switch {
	case math.IsNaN(v):
		return []byte(`"NaN"`), nil
	case math.IsInf(v, 1):
		return []byte(`"Inf"`), nil
	case math.IsInf(v, -1):
		return []byte(`"-Inf"`), nil
	default:
		return strconv.AppendFloat(nil, v, 'g', -1, 64), nil
	}
}

func (f *Float) UnmarshalJSON(input []byte) error {
	s := string(input)
	switch s {
	case `"NaN"`, `NaN`:
		*f = NaN
		return nil
	case `"Inf"`, `Inf`:
		*f = Float(math.Inf(1))
		return nil
	case `"-Inf"`, `-Inf`:
		*f = Float(math.Inf(-1))
		return nil
	}
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	val, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = Float(val)
	return nil
}

// FloatArray is a slice of Float with the same NaN-aware JSON behavior
// per-element (encoding/json calls MarshalJSON on each element already,
// this alias exists purely for readability at call sites).
type FloatArray []Float
