// Package scaling provides the value curves used to re-range controller input.
//
// Every function maps a normalized input in [0,1] to a normalized output in
// [0,1]. The easing curves follow Robert Penner's published equations.
package scaling

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Algorithm names a scaling curve as it appears in mapping documents.
type Algorithm string

const (
	// Linear passes the value through unchanged.
	Linear Algorithm = "lin"
	// Exponential computes (base^v - 1) / (base - 1).
	Exponential Algorithm = "exp"
	// Logarithmic computes ln(1 + (base-1)*v) / ln(base).
	Logarithmic Algorithm = "log"

	EaseInSine  Algorithm = "easeInSine"
	EaseInCubic Algorithm = "easeInCubic"
	EaseInQuint Algorithm = "easeInQuint"
	EaseInCirc  Algorithm = "easeInCirc"
	EaseInQuad  Algorithm = "easeInQuad"
	EaseInQuart Algorithm = "easeInQuart"
	EaseInExpo  Algorithm = "easeInExpo"

	EaseOutSine  Algorithm = "easeOutSine"
	EaseOutCubic Algorithm = "easeOutCubic"
	EaseOutQuint Algorithm = "easeOutQuint"
	EaseOutCirc  Algorithm = "easeOutCirc"
	EaseOutQuad  Algorithm = "easeOutQuad"
	EaseOutQuart Algorithm = "easeOutQuart"
	EaseOutExpo  Algorithm = "easeOutExpo"

	EaseInOutSine  Algorithm = "easeInOutSine"
	EaseInOutCubic Algorithm = "easeInOutCubic"
	EaseInOutQuint Algorithm = "easeInOutQuint"
	EaseInOutCirc  Algorithm = "easeInOutCirc"
	EaseInOutQuad  Algorithm = "easeInOutQuad"
	EaseInOutQuart Algorithm = "easeInOutQuart"
	EaseInOutExpo  Algorithm = "easeInOutExpo"

	EaseInBounce    Algorithm = "easeInBounce"
	EaseOutBounce   Algorithm = "easeOutBounce"
	EaseInOutBounce Algorithm = "easeInOutBounce"
)

// curves holds every algorithm that ignores the base parameter.
var curves = map[Algorithm]func(float64) float64{
	Linear: func(x float64) float64 { return x },

	EaseInSine:  easeInSine,
	EaseInCubic: func(x float64) float64 { return math.Pow(x, 3) },
	EaseInQuint: func(x float64) float64 { return math.Pow(x, 5) },
	EaseInCirc:  easeInCirc,
	EaseInQuad:  func(x float64) float64 { return x * x },
	EaseInQuart: func(x float64) float64 { return math.Pow(x, 4) },
	EaseInExpo:  easeInExpo,

	EaseOutSine:  easeOutSine,
	EaseOutCubic: func(x float64) float64 { return 1 - math.Pow(1-x, 3) },
	EaseOutQuint: func(x float64) float64 { return 1 - math.Pow(1-x, 5) },
	EaseOutCirc:  easeOutCirc,
	EaseOutQuad:  func(x float64) float64 { return 1 - (1-x)*(1-x) },
	EaseOutQuart: func(x float64) float64 { return 1 - math.Pow(1-x, 4) },
	EaseOutExpo:  easeOutExpo,

	EaseInOutSine:  easeInOutSine,
	EaseInOutCubic: easeInOutPow(3, 4),
	EaseInOutQuint: easeInOutPow(5, 16),
	EaseInOutCirc:  easeInOutCirc,
	EaseInOutQuad:  easeInOutPow(2, 2),
	EaseInOutQuart: easeInOutPow(4, 8),
	EaseInOutExpo:  easeInOutExpo,

	EaseInBounce:    easeInBounce,
	EaseOutBounce:   easeOutBounce,
	EaseInOutBounce: easeInOutBounce,
}

// Scale applies the named curve to a normalized value.
// Unknown or empty algorithms behave as Linear.
func Scale(alg Algorithm, value, base float64) float64 {
	switch alg {
	case Exponential:
		return (math.Pow(base, value) - 1) / (base - 1)
	case Logarithmic:
		return math.Log(1+(base-1)*value) / math.Log(base)
	}
	if fn, ok := curves[alg]; ok {
		return fn(value)
	}
	return value
}

// Parse resolves a configuration name to an Algorithm.
// An empty name selects Linear; anything unrecognized is an error.
func Parse(name string) (Algorithm, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Linear, nil
	}
	alg := Algorithm(name)
	if alg == Exponential || alg == Logarithmic {
		return alg, nil
	}
	if _, ok := curves[alg]; ok {
		return alg, nil
	}
	return "", fmt.Errorf("unknown scaling algorithm %q", name)
}

// UsesBase reports whether the algorithm reads the base parameter.
func UsesBase(alg Algorithm) bool {
	return alg == Exponential || alg == Logarithmic
}

// ValidateBase rejects bases that leave Exponential or Logarithmic undefined.
func ValidateBase(alg Algorithm, base float64) error {
	if !UsesBase(alg) {
		return nil
	}
	if math.IsNaN(base) || math.IsInf(base, 0) || base <= 0 || base == 1 {
		return fmt.Errorf("%s scaling requires a base > 0 and != 1, got %v", alg, base)
	}
	return nil
}

// Known returns every supported algorithm name, sorted.
func Known() []Algorithm {
	out := make([]Algorithm, 0, len(curves)+2)
	out = append(out, Exponential, Logarithmic)
	for alg := range curves {
		out = append(out, alg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func easeInSine(x float64) float64 {
	return 1 - math.Cos(x*math.Pi/2)
}

func easeOutSine(x float64) float64 {
	return math.Sin(x * math.Pi / 2)
}

func easeInOutSine(x float64) float64 {
	return -(math.Cos(math.Pi*x) - 1) / 2
}

// easeInOutPow builds the in-out polynomial curves; k is 2^(n-1).
func easeInOutPow(n, k float64) func(float64) float64 {
	return func(x float64) float64 {
		if x < 0.5 {
			return k * math.Pow(x, n)
		}
		return 1 - math.Pow(-2*x+2, n)/2
	}
}

func easeInCirc(x float64) float64 {
	return 1 - math.Sqrt(math.Max(0, 1-x*x))
}

func easeOutCirc(x float64) float64 {
	return math.Sqrt(math.Max(0, 1-(x-1)*(x-1)))
}

func easeInOutCirc(x float64) float64 {
	if x < 0.5 {
		return (1 - math.Sqrt(math.Max(0, 1-math.Pow(2*x, 2)))) / 2
	}
	return (math.Sqrt(math.Max(0, 1-math.Pow(-2*x+2, 2))) + 1) / 2
}

func easeInExpo(x float64) float64 {
	if x == 0 {
		return 0
	}
	return math.Pow(2, 10*x-10)
}

func easeOutExpo(x float64) float64 {
	if x == 1 {
		return 1
	}
	return 1 - math.Pow(2, -10*x)
}

func easeInOutExpo(x float64) float64 {
	switch {
	case x == 0:
		return 0
	case x == 1:
		return 1
	case x < 0.5:
		return math.Pow(2, 20*x-10) / 2
	default:
		return (2 - math.Pow(2, -20*x+10)) / 2
	}
}

func easeOutBounce(x float64) float64 {
	const n1 = 7.5625
	const d1 = 2.75

	switch {
	case x < 1/d1:
		return n1 * x * x
	case x < 2/d1:
		x -= 1.5 / d1
		return n1*x*x + 0.75
	case x < 2.5/d1:
		x -= 2.25 / d1
		return n1*x*x + 0.9375
	default:
		x -= 2.625 / d1
		return n1*x*x + 0.984375
	}
}

func easeInBounce(x float64) float64 {
	return 1 - easeOutBounce(1-x)
}

func easeInOutBounce(x float64) float64 {
	if x < 0.5 {
		return (1 - easeOutBounce(1-2*x)) / 2
	}
	return (1 + easeOutBounce(2*x-1)) / 2
}
