package uci

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/park285/jstockfish-go/internal/chess"
)

// GoOptions are the arguments of a "go" command.
type GoOptions struct {
	SearchMoves []string
	WhiteTime   int
	BlackTime   int
	WhiteInc    int
	BlackInc    int
	MovesToGo   int
	Depth       int
	Nodes       int
	Mate        int
	MoveTime    int
	Infinite    bool
	Ponder      bool
}

// Limits is the common subset used for bounded analysis.
type Limits struct {
	Depth          int
	MoveTimeMillis int
	NodeCap        int
}

func (l Limits) GoOptions() (GoOptions, error) {
	if l.Depth <= 0 && l.MoveTimeMillis <= 0 && l.NodeCap <= 0 {
		return GoOptions{}, chess.InvalidArgument("limits", fmt.Errorf("no search limits specified"))
	}
	return GoOptions{Depth: l.Depth, MoveTime: l.MoveTimeMillis, Nodes: l.NodeCap}, nil
}

// ParseGoOptions validates the text following "go". Unknown tokens and
// missing or negative numbers are rejected.
func ParseGoOptions(text string) (GoOptions, error) {
	var opt GoOptions
	fields := strings.Fields(text)
	if len(fields) > 0 && fields[0] == "go" {
		fields = fields[1:]
	}

	intArg := func(i int, name string) (int, error) {
		if i+1 >= len(fields) {
			return 0, chess.InvalidArgument("go", fmt.Errorf("%s requires a value", name))
		}
		n, err := strconv.Atoi(fields[i+1])
		if err != nil || n < 0 {
			return 0, chess.InvalidArgument("go", fmt.Errorf("%s value %q", name, fields[i+1]))
		}
		return n, nil
	}

	for i := 0; i < len(fields); i++ {
		tok := fields[i]
		var (
			dst *int
			err error
		)
		switch tok {
		case "searchmoves":
			rest := fields[i+1:]
			if len(rest) == 0 {
				return GoOptions{}, chess.InvalidArgument("go", fmt.Errorf("searchmoves requires moves"))
			}
			for _, mv := range rest {
				if !IsMoveSyntax(mv) {
					return GoOptions{}, chess.InvalidArgument("go", fmt.Errorf("searchmoves entry %q", mv))
				}
			}
			opt.SearchMoves = append([]string(nil), rest...)
			i = len(fields)
			continue
		case "infinite":
			opt.Infinite = true
			continue
		case "ponder":
			opt.Ponder = true
			continue
		case "wtime":
			dst = &opt.WhiteTime
		case "btime":
			dst = &opt.BlackTime
		case "winc":
			dst = &opt.WhiteInc
		case "binc":
			dst = &opt.BlackInc
		case "movestogo":
			dst = &opt.MovesToGo
		case "depth":
			dst = &opt.Depth
		case "nodes":
			dst = &opt.Nodes
		case "mate":
			dst = &opt.Mate
		case "movetime":
			dst = &opt.MoveTime
		default:
			return GoOptions{}, chess.InvalidArgument("go", fmt.Errorf("unknown token %q", tok))
		}
		if *dst, err = intArg(i, tok); err != nil {
			return GoOptions{}, err
		}
		i++
	}
	return opt, nil
}

// Args renders the options in a fixed order, without the leading "go".
func (o GoOptions) Args() string {
	args := make([]string, 0, 16)
	if o.Ponder {
		args = append(args, "ponder")
	}
	num := func(name string, v int) {
		if v > 0 {
			args = append(args, name, strconv.Itoa(v))
		}
	}
	num("wtime", o.WhiteTime)
	num("btime", o.BlackTime)
	num("winc", o.WhiteInc)
	num("binc", o.BlackInc)
	num("movestogo", o.MovesToGo)
	num("depth", o.Depth)
	num("nodes", o.Nodes)
	num("mate", o.Mate)
	num("movetime", o.MoveTime)
	if o.Infinite {
		args = append(args, "infinite")
	}
	if len(o.SearchMoves) > 0 {
		args = append(args, "searchmoves")
		args = append(args, o.SearchMoves...)
	}
	return strings.Join(args, " ")
}

// Unbounded reports whether the search only ends on stop (or ponderhit).
func (o GoOptions) Unbounded() bool { return o.Infinite || o.Ponder }

// Budget estimates how long a bounded search may take before its bestmove
// is overdue. Unbounded searches return 0.
func (o GoOptions) Budget() time.Duration {
	if o.Unbounded() {
		return 0
	}
	if o.MoveTime > 0 {
		ms := o.MoveTime + 2000
		return time.Duration(ms) * time.Millisecond * 3
	}
	if o.WhiteTime > 0 || o.BlackTime > 0 {
		ms := o.WhiteTime
		if o.BlackTime > ms {
			ms = o.BlackTime
		}
		return time.Duration(ms)*time.Millisecond + 2*time.Second
	}
	if o.Depth > 0 {
		base := time.Duration(o.Depth) * 300 * time.Millisecond
		if base < 6*time.Second {
			base = 6 * time.Second
		}
		if base > 20*time.Second {
			base = 20 * time.Second
		}
		return base
	}
	return 6 * time.Second
}

// IsMoveSyntax checks coordinate notation such as "g8f6" or "e7e8q".
func IsMoveSyntax(s string) bool {
	if len(s) != 4 && len(s) != 5 {
		return false
	}
	if s[0] < 'a' || s[0] > 'h' || s[2] < 'a' || s[2] > 'h' {
		return false
	}
	if s[1] < '1' || s[1] > '8' || s[3] < '1' || s[3] > '8' {
		return false
	}
	if len(s) == 5 {
		switch s[4] {
		case 'q', 'r', 'b', 'n':
		default:
			return false
		}
	}
	return true
}

// Info is the parsed subset of a search progress line.
type Info struct {
	Depth     int
	MultiPV   int
	ScoreCP   int
	Mate      int
	HasScore  bool
	Nodes     int64
	Principal []string
}

const mateValue = 30000

// EvalCP folds mate scores into a large centipawn value.
func (i Info) EvalCP() int {
	if i.Mate == 0 {
		return i.ScoreCP
	}
	if i.Mate > 0 {
		return mateValue
	}
	return -mateValue
}

func ParseInfo(line string) (Info, bool) {
	parts := strings.Fields(line)
	if len(parts) == 0 || parts[0] != "info" {
		return Info{}, false
	}
	info := Info{MultiPV: 1}
	seen := false

	for i := 1; i < len(parts); i++ {
		switch parts[i] {
		case "depth":
			if i+1 < len(parts) {
				if v, err := strconv.Atoi(parts[i+1]); err == nil {
					info.Depth = v
					seen = true
				}
				i++
			}
		case "multipv":
			if i+1 < len(parts) {
				if v, err := strconv.Atoi(parts[i+1]); err == nil {
					info.MultiPV = v
				}
				i++
			}
		case "nodes":
			if i+1 < len(parts) {
				if v, err := strconv.ParseInt(parts[i+1], 10, 64); err == nil {
					info.Nodes = v
				}
				i++
			}
		case "score":
			if i+2 < len(parts) {
				kind := parts[i+1]
				val := parts[i+2]
				switch kind {
				case "cp":
					if v, err := strconv.Atoi(val); err == nil {
						info.ScoreCP = v
						info.HasScore = true
					}
				case "mate":
					if v, err := strconv.Atoi(val); err == nil {
						info.Mate = v
						info.HasScore = true
					}
				}
				i += 2
			}
		case "pv":
			info.Principal = append([]string(nil), parts[i+1:]...)
			i = len(parts)
		case "string":
			return Info{}, false
		}
	}
	if !seen && !info.HasScore && len(info.Principal) == 0 {
		return Info{}, false
	}
	return info, true
}

// ParseBestMove reads "bestmove <move> [ponder <move>]".
func ParseBestMove(line string) (best, ponder string, ok bool) {
	parts := strings.Fields(line)
	if len(parts) < 2 || parts[0] != "bestmove" {
		return "", "", false
	}
	best = parts[1]
	if len(parts) >= 4 && parts[2] == "ponder" {
		ponder = parts[3]
	}
	return best, ponder, true
}
