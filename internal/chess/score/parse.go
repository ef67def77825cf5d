package score

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/park285/jstockfish-go/internal/chess"
)

// DumpPrefix starts the reply to the engine's "scores" extension command.
const DumpPrefix = "scores"

// Parse reads a "scores v0 v1 ... v11" line.
func Parse(line string) (Vector, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 || fields[0] != DumpPrefix {
		return Vector{}, chess.Fault("score.Parse", fmt.Errorf("unexpected reply %q", line))
	}
	values := make([]float64, 0, len(fields)-1)
	for _, f := range fields[1:] {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return Vector{}, chess.Fault("score.Parse", fmt.Errorf("component %q: %w", f, err))
		}
		values = append(values, v)
	}
	return New(values)
}

// traceTerms maps the row labels of a classical "eval" trace to components.
var traceTerms = map[string]Component{
	"pawns":       Pawn,
	"knights":     Knight,
	"bishops":     Bishop,
	"rooks":       Rook,
	"queens":      Queen,
	"king safety": King,
	"imbalance":   Imbalance,
	"mobility":    Mobility,
	"threats":     Threat,
	"passed":      Passed,
	"space":       Space,
}

// ParseTrace builds a Vector from the table printed by a classical
// (pre-NNUE) "eval" command. Each term takes the White column; when that
// column is "---" the Total column is used instead.
func ParseTrace(text string) (Vector, error) {
	var (
		values [Len]float64
		seen   = make(map[Component]bool, Len)
	)

	sc := bufio.NewScanner(strings.NewReader(text))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if rest, ok := strings.CutPrefix(line, "Total evaluation:"); ok {
			fields := strings.Fields(rest)
			if len(fields) == 0 {
				return Vector{}, chess.Fault("score.ParseTrace", fmt.Errorf("empty total"))
			}
			v, err := strconv.ParseFloat(fields[0], 64)
			if err != nil {
				return Vector{}, chess.Fault("score.ParseTrace", fmt.Errorf("total %q: %w", fields[0], err))
			}
			values[Total] = v
			seen[Total] = true
			continue
		}

		cells := strings.Split(line, "|")
		if len(cells) < 4 {
			continue
		}
		comp, ok := traceTerms[strings.ToLower(strings.TrimSpace(cells[0]))]
		if !ok {
			continue
		}
		mg, eg, ok := parseColumn(cells[1])
		if !ok {
			mg, eg, ok = parseColumn(cells[3])
		}
		if !ok {
			return Vector{}, chess.Fault("score.ParseTrace", fmt.Errorf("row %q", line))
		}
		values[comp] = blendPhases(mg, eg)
		seen[comp] = true
	}
	if err := sc.Err(); err != nil {
		return Vector{}, chess.Fault("score.ParseTrace", err)
	}
	if len(seen) != Len {
		return Vector{}, chess.Shape("score.ParseTrace", len(seen))
	}
	return Vector{values: values}, nil
}

func parseColumn(cell string) (float64, float64, bool) {
	fields := strings.Fields(cell)
	if len(fields) != 2 {
		return 0, 0, false
	}
	mg, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, 0, false
	}
	eg, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return 0, 0, false
	}
	return mg, eg, true
}

// blendPhases averages middlegame and endgame values, ignoring a phase that
// is effectively zero.
func blendPhases(mg, eg float64) float64 {
	if -0.01 < mg && mg < 0.01 {
		return eg
	}
	if -0.01 < eg && eg < 0.01 {
		return mg
	}
	return (mg + eg) / 2
}
