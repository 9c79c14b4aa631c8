// Package eigen converts eigenvalue data between the wire shapes emitted by
// the solver and the canonical {re, im} form stored on branch points.
//
// Accepted shapes are arrays of [re, im] tuples and arrays of objects with
// re/im fields. Anything unparseable coerces to 0; nothing here fails.
package eigen

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"

	"github.com/san-kum/dynbranch/internal/branch"
)

// Normalize converts raw eigen data in any accepted shape to canonical form.
// Order is preserved. A nil or unrecognized input yields an empty slice.
func Normalize(raw any) []branch.Complex {
	switch v := raw.(type) {
	case nil:
		return []branch.Complex{}
	case []branch.Complex:
		return append([]branch.Complex{}, v...)
	case [][2]float64:
		out := make([]branch.Complex, len(v))
		for i, p := range v {
			out[i] = branch.Complex{Re: p[0], Im: p[1]}
		}
		return out
	case [][]float64:
		out := make([]branch.Complex, len(v))
		for i, p := range v {
			out[i] = fromFloats(p)
		}
		return out
	case []map[string]any:
		out := make([]branch.Complex, len(v))
		for i, m := range v {
			out[i] = fromMap(m)
		}
		return out
	case []any:
		out := make([]branch.Complex, len(v))
		for i, e := range v {
			out[i] = element(e)
		}
		return out
	case json.RawMessage:
		return NormalizeJSON(v)
	case []byte:
		return NormalizeJSON(v)
	default:
		return []branch.Complex{}
	}
}

// NormalizeJSON decodes raw JSON eigen data and normalizes it.
// Malformed JSON yields an empty slice.
func NormalizeJSON(data []byte) []branch.Complex {
	if len(bytes.TrimSpace(data)) == 0 {
		return []branch.Complex{}
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return []branch.Complex{}
	}
	return Normalize(v)
}

// Denormalize converts canonical eigenvalues to the tuple shape the solver expects.
func Denormalize(c []branch.Complex) [][2]float64 {
	out := make([][2]float64, len(c))
	for i, z := range c {
		out[i] = [2]float64{z.Re, z.Im}
	}
	return out
}

// HopfFrequency returns the imaginary part of the eigenvalue pair closest to
// the imaginary axis, the angular frequency of the emerging cycle.
func HopfFrequency(c []branch.Complex) (float64, bool) {
	best, found := 0.0, false
	bestRe := math.Inf(1)
	for _, z := range c {
		if z.IsSentinel() || z.Im <= 0 {
			continue
		}
		if r := math.Abs(z.Re); r < bestRe {
			bestRe, best, found = r, z.Im, true
		}
	}
	return best, found
}

func element(e any) branch.Complex {
	switch v := e.(type) {
	case branch.Complex:
		return v
	case []any:
		c := branch.Complex{}
		if len(v) > 0 {
			c.Re = number(v[0])
		}
		if len(v) > 1 {
			c.Im = number(v[1])
		}
		return c
	case []float64:
		return fromFloats(v)
	case [2]float64:
		return branch.Complex{Re: v[0], Im: v[1]}
	case map[string]any:
		return fromMap(v)
	default:
		return branch.Complex{}
	}
}

func fromFloats(p []float64) branch.Complex {
	c := branch.Complex{}
	if len(p) > 0 {
		c.Re = p[0]
	}
	if len(p) > 1 {
		c.Im = p[1]
	}
	return c
}

func fromMap(m map[string]any) branch.Complex {
	return branch.Complex{Re: number(m["re"]), Im: number(m["im"])}
}

// number coerces a scalar to float64, returning 0 on failure.
func number(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0
		}
		return f
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}
