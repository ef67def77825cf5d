package score

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/park285/jstockfish-go/internal/chess"
)

// Len is the number of components in every engine score dump.
const Len = 12

type Component int

const (
	Total Component = iota
	Pawn
	Knight
	Bishop
	Rook
	Queen
	King
	Imbalance
	Mobility
	Threat
	Passed
	Space
)

var componentNames = [Len]string{
	"total", "pawn", "knight", "bishop", "rook", "queen",
	"king", "imbalance", "mobility", "threat", "passed", "space",
}

func (c Component) String() string {
	if c < 0 || int(c) >= Len {
		return fmt.Sprintf("component(%d)", int(c))
	}
	return componentNames[c]
}

// Components lists every component in dump order.
func Components() []Component {
	out := make([]Component, Len)
	for i := range out {
		out[i] = Component(i)
	}
	return out
}

// Vector is an evaluation breakdown from white's point of view. The zero
// value is all zeros; use New to build one from an engine dump.
type Vector struct {
	values [Len]float64
}

func New(values []float64) (Vector, error) {
	if len(values) != Len {
		return Vector{}, chess.Shape("score.New", len(values))
	}
	var v Vector
	copy(v.values[:], values)
	return v, nil
}

func (v Vector) Total() float64     { return v.values[Total] }
func (v Vector) Pawn() float64      { return v.values[Pawn] }
func (v Vector) Knight() float64    { return v.values[Knight] }
func (v Vector) Bishop() float64    { return v.values[Bishop] }
func (v Vector) Rook() float64      { return v.values[Rook] }
func (v Vector) Queen() float64     { return v.values[Queen] }
func (v Vector) King() float64      { return v.values[King] }
func (v Vector) Imbalance() float64 { return v.values[Imbalance] }
func (v Vector) Mobility() float64  { return v.values[Mobility] }
func (v Vector) Threat() float64    { return v.values[Threat] }
func (v Vector) Passed() float64    { return v.values[Passed] }
func (v Vector) Space() float64     { return v.values[Space] }

// Component returns the value of c, or 0 for an unknown component.
func (v Vector) Component(c Component) float64 {
	if c < 0 || int(c) >= Len {
		return 0
	}
	return v.values[c]
}

func (v Vector) Values() []float64 {
	out := make([]float64, Len)
	copy(out, v.values[:])
	return out
}

// String renders one "name = value" line per component. It is meant for
// logs and shells, not for parsing.
func (v Vector) String() string {
	var sb strings.Builder
	for i, name := range componentNames {
		if i > 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, "%s = %.2f", name, v.values[i])
	}
	return sb.String()
}

func (v Vector) MarshalJSON() ([]byte, error) {
	m := make(map[string]float64, Len)
	for i, name := range componentNames {
		m[name] = v.values[i]
	}
	return json.Marshal(m)
}

// UnmarshalJSON accepts either the object form produced by MarshalJSON or a
// plain array in dump order.
func (v *Vector) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var arr []float64
		if err := json.Unmarshal(data, &arr); err != nil {
			return err
		}
		parsed, err := New(arr)
		if err != nil {
			return err
		}
		*v = parsed
		return nil
	}

	var m map[string]float64
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	if len(m) != Len {
		return chess.Shape("score.UnmarshalJSON", len(m))
	}
	var out Vector
	for i, name := range componentNames {
		val, ok := m[name]
		if !ok {
			return chess.Shape("score.UnmarshalJSON", len(m))
		}
		out.values[i] = val
	}
	*v = out
	return nil
}
