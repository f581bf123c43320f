// Package gcode translates mDraw command text into typed instructions.
//
// The accepted command set is closed:
//
//	M10                         connected
//	M4 <p> | M4 P<p>            laser power
//	G0|G1 X<x> Y<y>             move (both axes required)
//	M1 <angle>                  pen position
//	M2 U<up> D<down>            pen setting
//	M5 A<a> B<b> H<h> W<w> S<s> plotter setting
//	G28                         return to origin
//
// Everything else, including a known command with missing or non-numeric
// arguments, translates to command.Invalid.
package gcode

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"plotter-go/pkg/command"
	"plotter-go/pkg/pool"
)

var reParenComment = regexp.MustCompile(`\([^)]*\)`)

// Translator decodes one line of text into an Instruction.
// It holds no state between calls and is safe for concurrent use.
type Translator struct{}

// NewTranslator returns a Translator.
func NewTranslator() *Translator {
	return &Translator{}
}

// Parse decodes buf. It never blocks and never fails: malformed input
// yields command.NewInvalid().
func (t *Translator) Parse(buf []byte) command.Instruction {
	return ParseLine(string(buf))
}

// ParseLine decodes a single line of text.
func ParseLine(line string) command.Instruction {
	w, ok := splitWords(line)
	if !ok {
		return command.NewInvalid()
	}
	defer w.release()

	switch w.name {
	case "M10":
		return command.NewConnected()
	case "G28":
		return command.NewToOrigin()
	case "G0", "G1":
		x, okx := w.number("X")
		y, oky := w.number("Y")
		if !okx || !oky {
			return command.NewInvalid()
		}
		return command.NewMove(x, y)
	case "M1":
		a, ok := w.positional(0)
		if !ok {
			return command.NewInvalid()
		}
		return command.NewPenPosition(a)
	case "M2":
		u, oku := w.number("U")
		d, okd := w.number("D")
		if !oku || !okd {
			return command.NewInvalid()
		}
		return command.NewPenSetting(u, d)
	case "M4":
		p, ok := w.positional(0)
		if !ok {
			p, ok = w.number("P")
		}
		if !ok {
			return command.NewInvalid()
		}
		return command.NewLaser(p)
	case "M5":
		var v [5]float64
		for i, k := range [...]string{"A", "B", "H", "W", "S"} {
			n, ok := w.number(k)
			if !ok {
				return command.NewInvalid()
			}
			v[i] = n
		}
		ins := command.Instruction{Kind: command.PlotterSetting}
		copy(ins.Params[:], v[:])
		return ins
	default:
		return command.NewInvalid()
	}
}

// words is one tokenized line: the command word, lettered arguments and
// bare numeric arguments in order of appearance.
type words struct {
	name string
	args map[string]string
	bare *[]string
}

func (w *words) release() {
	pool.Args.Put(w.args)
	pool.Words.Put(w.bare)
}

func (w *words) number(key string) (float64, bool) {
	v, ok := w.args[key]
	if !ok {
		return 0, false
	}
	return parseNumber(v)
}

func (w *words) positional(i int) (float64, bool) {
	if i >= len(*w.bare) {
		return 0, false
	}
	return parseNumber((*w.bare)[i])
}

func parseNumber(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// splitWords strips comments and splits line into words. It reports false
// when nothing but whitespace or comments remains.
func splitWords(line string) (words, bool) {
	ln := strings.TrimSpace(line)
	if idx := strings.IndexByte(ln, ';'); idx >= 0 {
		ln = ln[:idx]
	}
	ln = strings.TrimSpace(reParenComment.ReplaceAllString(ln, " "))
	if ln == "" {
		return words{}, false
	}

	fields := strings.Fields(ln)
	w := words{
		name: strings.ToUpper(fields[0]),
		args: pool.Args.Get(),
		bare: pool.Words.Get(),
	}
	for _, f := range fields[1:] {
		if startsNumeric(f) {
			*w.bare = append(*w.bare, f)
			continue
		}
		k := strings.ToUpper(f[:1])
		w.args[k] = f[1:]
	}
	return w, true
}

func startsNumeric(f string) bool {
	switch c := f[0]; {
	case c >= '0' && c <= '9':
		return true
	case c == '-' || c == '+' || c == '.':
		return true
	}
	return false
}
