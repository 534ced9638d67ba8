// Package fractal implements the deterministic Julia-set rendering and
// box-counting dimension estimate that forms FractalPoW's second proof
// stage (§4.5). The seed/parameter derivation and grid evaluation are
// pinned to a fixed evaluation order (row-major sampling, closed-form
// OLS) so two independent implementations produce bit-identical
// results from the same seed, per §4.5's determinism requirement and
// the §8 testable property.
package fractal

import (
	"math"

	"github.com/fractalpow/node/pkg/util"
)

const (
	// GridSize is the number of samples per axis over [-2,2]x[-2,2].
	GridSize = 128

	// MaxIter bounds the per-sample orbit iteration.
	MaxIter = 256

	// EscapeRadius is the bound beyond which an orbit is considered
	// unbounded.
	EscapeRadius = 2.0

	// DefaultTargetDimension and DefaultEpsilon are the network's
	// initial chain-wide fractal-validity parameters (§4.5).
	DefaultTargetDimension = 1.5
	DefaultEpsilon         = 0.001
)

// boxSizes are the box edge lengths (in grid units) used for the
// box-counting regression, evaluated in this fixed order (§4.5).
var boxSizes = []int{1, 2, 4, 8, 16, 32, 64, 128}

// Params is the Julia-set constant c = c_re + i*c_im derived from a
// block's fractal seed (§4.5).
type Params struct {
	CRe float64
	CIm float64
}

// DeriveSeed computes fractal_seed = sha256(prevHash || minerAddress ||
// nonce_le_bytes) (§4.5).
func DeriveSeed(prevHash [32]byte, minerAddress string, nonce uint64) [32]byte {
	buf := make([]byte, 0, 32+len(minerAddress)+8)
	buf = append(buf, prevHash[:]...)
	buf = append(buf, []byte(minerAddress)...)
	buf = append(buf, util.Uint64ToBytes(nonce)...)
	return util.Sha256(buf)
}

// DeriveParams maps the first 16 bytes of a fractal seed to a complex
// constant c: each 8-byte big-endian unsigned integer is mapped to a
// signed double in [-1.0, 1.0] via (x / 2^64) * 2 - 1 (§4.5).
func DeriveParams(seed [32]byte) Params {
	a := beUint64(seed[0:8])
	b := beUint64(seed[8:16])
	return Params{
		CRe: toSigned(a),
		CIm: toSigned(b),
	}
}

func beUint64(b []byte) uint64 {
	var v uint64
	for _, x := range b {
		v = v<<8 | uint64(x)
	}
	return v
}

func toSigned(x uint64) float64 {
	return (float64(x)/float64(1<<64))*2 - 1
}

// Result bundles the grid render and derived box-counting dimension.
type Result struct {
	Dimension float64
	Bounded   [GridSize][GridSize]bool
}

// Compute renders the 128x128 Julia-set grid for c over [-2,2]x[-2,2]
// and returns the rounded box-counting dimension (§4.5).
func Compute(c Params) Result {
	var bounded [GridSize][GridSize]bool

	const (
		lo   = -2.0
		hi   = 2.0
		step = (hi - lo) / (GridSize - 1)
	)
	escapeSq := EscapeRadius * EscapeRadius

	// Row-major sample iteration, per the determinism requirement.
	for row := 0; row < GridSize; row++ {
		im0 := lo + float64(row)*step
		for col := 0; col < GridSize; col++ {
			re0 := lo + float64(col)*step
			bounded[row][col] = orbitBounded(re0, im0, c.CRe, c.CIm, escapeSq)
		}
	}

	dim := boxCountingDimension(&bounded)
	return Result{Dimension: roundTo(dim, 6), Bounded: bounded}
}

func orbitBounded(re0, im0, cRe, cIm, escapeSq float64) bool {
	re, im := re0, im0
	for i := 0; i < MaxIter; i++ {
		reSq := re * re
		imSq := im * im
		if reSq+imSq > escapeSq {
			return false
		}
		newRe := reSq - imSq + cRe
		newIm := 2*re*im + cIm
		re, im = newRe, newIm
	}
	return true
}

// boxCountingDimension fits log N(s) = -D*log(s) + b by ordinary least
// squares over the box sizes in boxSizes, discarding sizes where the
// set contains no boxes with a bounded sample (§4.5).
func boxCountingDimension(bounded *[GridSize][GridSize]bool) float64 {
	var logS, logN []float64

	for _, s := range boxSizes {
		n := countBoxes(bounded, s)
		if n == 0 {
			continue
		}
		logS = append(logS, math.Log(float64(s)))
		logN = append(logN, math.Log(float64(n)))
	}

	if len(logS) < 2 {
		return 0
	}

	slope, _ := olsFit(logS, logN)
	return -slope
}

// countBoxes counts the number of non-overlapping s x s boxes that
// contain at least one bounded sample, scanning boxes in row-major
// order.
func countBoxes(bounded *[GridSize][GridSize]bool, s int) int {
	count := 0
	for by := 0; by < GridSize; by += s {
		for bx := 0; bx < GridSize; bx += s {
			if boxHasBoundedSample(bounded, bx, by, s) {
				count++
			}
		}
	}
	return count
}

func boxHasBoundedSample(bounded *[GridSize][GridSize]bool, bx, by, s int) bool {
	yMax := by + s
	if yMax > GridSize {
		yMax = GridSize
	}
	xMax := bx + s
	if xMax > GridSize {
		xMax = GridSize
	}
	for y := by; y < yMax; y++ {
		for x := bx; x < xMax; x++ {
			if bounded[y][x] {
				return true
			}
		}
	}
	return false
}

// olsFit computes the closed-form ordinary-least-squares slope and
// intercept of y = slope*x + intercept.
func olsFit(x, y []float64) (slope, intercept float64) {
	n := float64(len(x))
	var sumX, sumY, sumXY, sumXX float64
	for i := range x {
		sumX += x[i]
		sumY += y[i]
		sumXY += x[i] * y[i]
		sumXX += x[i] * x[i]
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0, sumY / n
	}
	slope = (n*sumXY - sumX*sumY) / denom
	intercept = (sumY - slope*sumX) / n
	return slope, intercept
}

func roundTo(v float64, decimals int) float64 {
	mult := math.Pow(10, float64(decimals))
	return math.Round(v*mult) / mult
}

// Valid reports whether dim is within epsilon of target, the
// valid_fractal predicate (§4.5).
func Valid(dim, target, epsilon float64) bool {
	return math.Abs(dim-target) <= epsilon
}
