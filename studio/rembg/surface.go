package rembg

import (
	"math"
	"slices"
)

const (
	// fitRounds is the number of outlier-rejection refits of the frame surface.
	fitRounds = 3
	// gridCells is the number of backdrop cells along the longest edge.
	gridCells = 128
	// stepTolerance is the largest color step between neighbouring cells that still
	// continues the backdrop.
	stepTolerance = 8.0
	// minTolerance is the smallest residual accepted as backdrop while refitting.
	minTolerance = 6.0
	// minNoise and maxNoise bound the distance that still scores as backdrop.
	minNoise = 2.0
	maxNoise = 24.0
	// ridge keeps the normal equations solvable for degenerate (1px wide) images.
	ridge = 1e-6
)

type sample struct {
	x, y int
	c    [3]float64
}

// surface is a per-channel quadratic c0 + c1*u + c2*v + c3*u² + c4*uv + c5*v² over
// coordinates normalized to [-1, 1].
type surface struct {
	w, h int
	coef [3][6]float64
}

func normCoord(i, n int) float64 {
	if n < 2 {
		return 0
	}
	return 2*float64(i)/float64(n-1) - 1
}

func (b *surface) basis(x, y int) [6]float64 {
	u, v := normCoord(x, b.w), normCoord(y, b.h)
	return [6]float64{1, u, v, u * u, u * v, v * v}
}

// at returns the modelled color at (x, y).
func (b *surface) at(x, y int) [3]float64 {
	f := b.basis(x, y)
	var out [3]float64
	for c := range out {
		for k, v := range f {
			out[c] += b.coef[c][k] * v
		}
	}
	return out
}

// residual is the RGB distance between a sample and the surface.
func (b *surface) residual(s sample) float64 {
	return distance(s.c, b.at(s.x, s.y))
}

func (b *surface) residuals(samples []sample) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = b.residual(s)
	}
	return out
}

// fit replaces the coefficients with the least-squares surface through samples.
func (b *surface) fit(samples []sample) {
	if len(samples) == 0 {
		return
	}

	var ata [6][6]float64
	var atb [3][6]float64
	for _, s := range samples {
		f := b.basis(s.x, s.y)
		for i := range f {
			for j := range f {
				ata[i][j] += f[i] * f[j]
			}
			for c := range atb {
				atb[c][i] += f[i] * s.c[c]
			}
		}
	}
	n := float64(len(samples))
	for i := 1; i < len(ata); i++ {
		ata[i][i] += ridge * n
	}

	for c := range atb {
		if coef, ok := solve6(ata, atb[c]); ok {
			b.coef[c] = coef
		}
	}
}

// backdrop is the backdrop color sampled on a grid of step x step cells, interpolated
// bilinearly between cell centers.
type backdrop struct {
	cols, rows, step int
	cells            [][3]float64
	// noise is the distance from the backdrop that still scores as backdrop.
	noise float64
}

func (b *backdrop) at(x, y int) [3]float64 {
	off := float64(b.step-1) / 2
	fx := min(float64(b.cols-1), max(0, (float64(x)-off)/float64(b.step)))
	fy := min(float64(b.rows-1), max(0, (float64(y)-off)/float64(b.step)))

	x0, y0 := int(fx), int(fy)
	x1, y1 := min(x0+1, b.cols-1), min(y0+1, b.rows-1)
	tx, ty := fx-float64(x0), fy-float64(y0)

	c00, c10 := b.cells[y0*b.cols+x0], b.cells[y0*b.cols+x1]
	c01, c11 := b.cells[y1*b.cols+x0], b.cells[y1*b.cols+x1]
	var out [3]float64
	for c := range out {
		top := c00[c]*(1-tx) + c10[c]*tx
		bottom := c01[c]*(1-tx) + c11[c]*tx
		out[c] = top*(1-ty) + bottom*ty
	}
	return out
}

func (b *backdrop) residual(s sample) float64 {
	return distance(s.c, b.at(s.x, s.y))
}

func distance(a, b [3]float64) float64 {
	var sum float64
	for c := range a {
		d := a[c] - b[c]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// solve6 solves a*x = y by Gaussian elimination with partial pivoting.
func solve6(a [6][6]float64, y [6]float64) ([6]float64, bool) {
	const n = 6
	for col := 0; col < n; col++ {
		pivot := col
		for r := col + 1; r < n; r++ {
			if math.Abs(a[r][col]) > math.Abs(a[pivot][col]) {
				pivot = r
			}
		}
		if math.Abs(a[pivot][col]) < 1e-12 {
			return [6]float64{}, false
		}
		a[col], a[pivot] = a[pivot], a[col]
		y[col], y[pivot] = y[pivot], y[col]

		for r := col + 1; r < n; r++ {
			k := a[r][col] / a[col][col]
			for j := col; j < n; j++ {
				a[r][j] -= k * a[col][j]
			}
			y[r] -= k * y[col]
		}
	}

	var x [6]float64
	for r := n - 1; r >= 0; r-- {
		sum := y[r]
		for j := r + 1; j < n; j++ {
			sum -= a[r][j] * x[j]
		}
		x[r] = sum / a[r][r]
	}
	return x, true
}

// percentile returns the p-quantile (0..1) of values; values is reordered.
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	slices.Sort(values)
	i := int(math.Round(p * float64(len(values)-1)))
	return values[min(max(i, 0), len(values)-1)]
}
