package rembg

import (
	"image"
	"math"
)

// saturationDistance is the RGB distance beyond the backdrop noise at which a pixel is
// considered fully foreground (confidence 255).
const saturationDistance = 64.0

type label uint8

const (
	labelBackground label = iota
	labelUnknown
	labelForeground
)

type trimap struct {
	w, h   int
	labels []label
}

// frameSamples 取图像边框像素作为背景初始样本
func frameSamples(img *image.NRGBA) []sample {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	frame := max(1, min(w, h)/50)

	var out []sample
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if x >= frame && x < w-frame && y >= frame && y < h-frame {
				x = w - frame - 1
				continue
			}
			out = append(out, newSample(img, x, y))
		}
	}
	return out
}

// cellMeans averages img over step x step cells; each sample sits at its cell's center.
func cellMeans(img *image.NRGBA, step int) (cells []sample, cols, rows int) {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	cols, rows = (w+step-1)/step, (h+step-1)/step

	cells = make([]sample, 0, cols*rows)
	for cy := 0; cy < rows; cy++ {
		y0, y1 := cy*step, min(h, (cy+1)*step)
		for cx := 0; cx < cols; cx++ {
			x0, x1 := cx*step, min(w, (cx+1)*step)

			var sum [3]float64
			for y := y0; y < y1; y++ {
				for x := x0; x < x1; x++ {
					i := y*img.Stride + x*4
					sum[0] += float64(img.Pix[i])
					sum[1] += float64(img.Pix[i+1])
					sum[2] += float64(img.Pix[i+2])
				}
			}
			n := float64((y1 - y0) * (x1 - x0))
			cells = append(cells, sample{
				x: (x0 + x1 - 1) / 2,
				y: (y0 + y1 - 1) / 2,
				c: [3]float64{sum[0] / n, sum[1] / n, sum[2] / n},
			})
		}
	}
	return cells, cols, rows
}

func newSample(img *image.NRGBA, x, y int) sample {
	i := y*img.Stride + x*4
	return sample{x: x, y: y, c: [3]float64{float64(img.Pix[i]), float64(img.Pix[i+1]), float64(img.Pix[i+2])}}
}

// frameSurface fits a quadratic to the image frame, dropping frame pixels the subject
// covers. It returns the surface and the residual tolerance of the last round.
func frameSurface(img *image.NRGBA) (*surface, float64) {
	s := &surface{w: img.Rect.Dx(), h: img.Rect.Dy()}
	frame := frameSamples(img)
	s.fit(frame)

	used := frame
	tol := minTolerance
	for round := 0; round < fitRounds; round++ {
		tol = min(maxNoise, max(minTolerance, 3*percentile(s.residuals(used), 0.5)))

		var kept []sample
		for _, f := range frame {
			if s.residual(f) <= tol {
				kept = append(kept, f)
			}
		}
		if len(kept) < len(s.coef[0]) {
			break
		}
		s.fit(kept)
		used = kept
	}
	return s, tol
}

// floodCells marks the cells reachable from the border through small color steps. Border
// cells are seeds when they match the frame surface within tol.
func floodCells(cells []sample, cols, rows int, frame *surface, tol float64) []bool {
	accepted := make([]bool, len(cells))
	var queue []int
	for cy := 0; cy < rows; cy++ {
		for cx := 0; cx < cols; cx++ {
			if cx != 0 && cy != 0 && cx != cols-1 && cy != rows-1 {
				continue
			}
			i := cy*cols + cx
			if frame.residual(cells[i]) <= tol {
				accepted[i] = true
				queue = append(queue, i)
			}
		}
	}

	for len(queue) > 0 {
		i := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		cx, cy := i%cols, i/cols
		for _, d := range [4][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}} {
			nx, ny := cx+d[0], cy+d[1]
			if nx < 0 || ny < 0 || nx >= cols || ny >= rows {
				continue
			}
			j := ny*cols + nx
			if !accepted[j] && distance(cells[i].c, cells[j].c) <= stepTolerance {
				accepted[j] = true
				queue = append(queue, j)
			}
		}
	}
	return accepted
}

// fitBackdrop builds the backdrop model. Backdrop cells are found by flooding from the
// image border, so light falloff across the sweep is followed however it is shaped; cells
// under the subject take the quadratic fitted to the flooded cells.
func fitBackdrop(img *image.NRGBA) *backdrop {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	step := max(1, max(w, h)/gridCells)
	cells, cols, rows := cellMeans(img, step)

	surf, tol := frameSurface(img)
	accepted := floodCells(cells, cols, rows, surf, tol)

	var bgCells []sample
	for i, ok := range accepted {
		if ok {
			bgCells = append(bgCells, cells[i])
		}
	}
	if len(bgCells) >= len(surf.coef[0]) {
		surf.fit(bgCells)
	}

	b := &backdrop{cols: cols, rows: rows, step: step, cells: make([][3]float64, len(cells))}
	for i, cell := range cells {
		if accepted[i] {
			b.cells[i] = cell.c
		} else {
			b.cells[i] = surf.at(cell.x, cell.y)
		}
	}

	res := make([]float64, len(bgCells))
	for i, cell := range bgCells {
		res[i] = b.residual(newSample(img, cell.x, cell.y))
	}
	b.noise = min(maxNoise, max(minNoise, 1.5*percentile(res, 0.98)+1))
	return b
}

// confidence maps each pixel's distance from the backdrop to a 0-255 foreground
// score. Distances within the backdrop's own noise score 0.
func confidence(img *image.NRGBA, bg *backdrop) *image.Gray {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	conf := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			d := bg.residual(newSample(img, x, y)) - bg.noise
			if d <= 0 {
				continue
			}
			conf.Pix[y*conf.Stride+x] = uint8(math.Min(255, math.Round(d*255/saturationDistance)))
		}
	}
	return conf
}

// buildTrimap 按阈值划分前景/背景，并把两者各自腐蚀 erode 像素，其余为未知区域
func buildTrimap(conf *image.Gray, fgThreshold, bgThreshold uint8, erode int) trimap {
	w, h := conf.Rect.Dx(), conf.Rect.Dy()
	fg := make([]bool, w*h)
	bg := make([]bool, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := conf.Pix[y*conf.Stride+x]
			fg[y*w+x] = v >= fgThreshold
			bg[y*w+x] = v <= bgThreshold
		}
	}

	if erode > 0 {
		fg = erodeMask(fg, w, h, erode)
		bg = erodeMask(bg, w, h, erode)
	}

	t := trimap{w: w, h: h, labels: make([]label, w*h)}
	for i := range t.labels {
		switch {
		case fg[i]:
			t.labels[i] = labelForeground
		case bg[i]:
			t.labels[i] = labelBackground
		default:
			t.labels[i] = labelUnknown
		}
	}
	return t
}

// erodeMask applies a binary erosion with a (2r+1)x(2r+1) square. Pixels outside the
// image count as unset, so the frame erodes as well.
func erodeMask(mask []bool, w, h, r int) []bool {
	tmp := make([]bool, w*h)
	for y := 0; y < h; y++ {
		erodeLine(mask[y*w:(y+1)*w], tmp[y*w:(y+1)*w], r)
	}

	out := make([]bool, w*h)
	col := make([]bool, h)
	res := make([]bool, h)
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			col[y] = tmp[y*w+x]
		}
		erodeLine(col, res, r)
		for y := 0; y < h; y++ {
			out[y*w+x] = res[y]
		}
	}
	return out
}

// erodeLine sets dst[i] when every src sample in [i-r, i+r] is set and inside the line.
func erodeLine(src, dst []bool, r int) {
	n := len(src)
	prefix := make([]int, n+1)
	for i, v := range src {
		prefix[i+1] = prefix[i]
		if v {
			prefix[i+1]++
		}
	}
	for i := 0; i < n; i++ {
		lo, hi := i-r, i+r
		if lo < 0 || hi >= n {
			dst[i] = false
			continue
		}
		dst[i] = prefix[hi+1]-prefix[lo] == 2*r+1
	}
}

// areaSums is a summed-area table over one trimap class.
type areaSums struct {
	w     int
	count []int64
	sum   [3][]int64
}

func newAreaSums(img *image.NRGBA, t trimap, want label) *areaSums {
	w, h := t.w, t.h
	s := &areaSums{w: w + 1, count: make([]int64, (w+1)*(h+1))}
	for c := range s.sum {
		s.sum[c] = make([]int64, (w+1)*(h+1))
	}

	for y := 0; y < h; y++ {
		var rowCount int64
		var rowSum [3]int64
		for x := 0; x < w; x++ {
			if t.labels[y*w+x] == want {
				rowCount++
				i := y*img.Stride + x*4
				for c := 0; c < 3; c++ {
					rowSum[c] += int64(img.Pix[i+c])
				}
			}
			at := (y+1)*s.w + x + 1
			above := y*s.w + x + 1
			s.count[at] = s.count[above] + rowCount
			for c := 0; c < 3; c++ {
				s.sum[c][at] = s.sum[c][above] + rowSum[c]
			}
		}
	}
	return s
}

// mean returns the mean color over [x0,x1)x[y0,y1) and the number of samples.
func (s *areaSums) mean(x0, y0, x1, y1 int) ([3]float64, int64) {
	a, b := y0*s.w+x0, y0*s.w+x1
	c, d := y1*s.w+x0, y1*s.w+x1

	var m [3]float64
	n := s.count[d] - s.count[b] - s.count[c] + s.count[a]
	if n == 0 {
		return m, 0
	}
	for ch := 0; ch < 3; ch++ {
		m[ch] = float64(s.sum[ch][d]-s.sum[ch][b]-s.sum[ch][c]+s.sum[ch][a]) / float64(n)
	}
	return m, n
}

// solveAlpha 对未知区域逐像素求 alpha：在窗口内取已知前景、背景的平均色 F、B，
// 把像素颜色投影到 B->F 线段上。窗口内缺少前景或背景样本时退回置信度。
func solveAlpha(img *image.NRGBA, conf *image.Gray, t trimap, radius int) *image.Gray {
	w, h := t.w, t.h
	fgSums := newAreaSums(img, t, labelForeground)
	bgSums := newAreaSums(img, t, labelBackground)

	alpha := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		y0, y1 := max(0, y-radius), min(h, y+radius+1)
		for x := 0; x < w; x++ {
			o := y*alpha.Stride + x
			switch t.labels[y*w+x] {
			case labelForeground:
				alpha.Pix[o] = 255
				continue
			case labelBackground:
				alpha.Pix[o] = 0
				continue
			}

			x0, x1 := max(0, x-radius), min(w, x+radius+1)
			f, nf := fgSums.mean(x0, y0, x1, y1)
			b, nb := bgSums.mean(x0, y0, x1, y1)
			if nf == 0 || nb == 0 {
				alpha.Pix[o] = conf.Pix[y*conf.Stride+x]
				continue
			}

			i := y*img.Stride + x*4
			var dot, norm float64
			for c := 0; c < 3; c++ {
				d := f[c] - b[c]
				dot += (float64(img.Pix[i+c]) - b[c]) * d
				norm += d * d
			}
			if norm < 1 {
				alpha.Pix[o] = conf.Pix[y*conf.Stride+x]
				continue
			}
			a := math.Max(0, math.Min(1, dot/norm))
			alpha.Pix[o] = uint8(math.Round(a * 255))
		}
	}
	return alpha
}
