package transform

import (
	"errors"
	"fmt"

	"gorgonia.org/tensor"

	"aquaseg/internal/stats"
)

// IndexSpec names one normalized-difference index (a-b)/(a+b) over two raw
// channel positions. A zero denominator is not guarded: the resulting
// non-finite value propagates downstream unchanged.
type IndexSpec struct {
	Name string
	A    int
	B    int
}

// Default channel layout: B02, B03, B04, B08, B11 (blue, green, red, NIR, SWIR).
const (
	ChanBlue = iota
	ChanGreen
	ChanRed
	ChanNIR
	ChanSWIR
)

// DefaultIndices returns the standard water-segmentation index set, in the
// order the channels are appended.
func DefaultIndices() []IndexSpec {
	return []IndexSpec{
		{Name: "ndwi", A: ChanGreen, B: ChanNIR},
		{Name: "ndvi", A: ChanNIR, B: ChanRed},
		{Name: "mndwi", A: ChanGreen, B: ChanSWIR},
	}
}

// ShapeMismatchError reports an image tensor incompatible with the pipeline.
type ShapeMismatchError struct {
	Got  int
	Want int
	What string
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("transform: %s: got %d channels, want %d", e.What, e.Got, e.Want)
}

// Pipeline appends the configured index channels to a batch image tensor and
// z-score-normalizes the raw channels, leaving the appended ones untouched.
type Pipeline struct {
	indices []IndexSpec
	raw     int
	mean    []float64
	std     []float64
}

// NewPipeline builds a Pipeline from the index set and raw-channel stats.
// The normalization parameters are the raw stats extended with one neutral
// (mean 0, std 1) entry per index, so a single uniform pass over all
// raw+appended channels is a no-op on the appended ones.
func NewPipeline(indices []IndexSpec, st stats.Stats) (*Pipeline, error) {
	if len(st.Mean) == 0 {
		return nil, errors.New("transform: empty statistics")
	}
	if len(st.Mean) != len(st.Std) {
		return nil, fmt.Errorf("transform: %d means but %d stds", len(st.Mean), len(st.Std))
	}
	n, k := len(st.Mean), len(indices)
	for _, idx := range indices {
		if idx.A < 0 || idx.B < 0 {
			return nil, fmt.Errorf("transform: index %s references a negative channel", idx.Name)
		}
	}

	p := &Pipeline{
		indices: append([]IndexSpec(nil), indices...),
		raw:     n,
		mean:    make([]float64, n+k),
		std:     make([]float64, n+k),
	}
	copy(p.mean, st.Mean)
	copy(p.std, st.Std)
	for c := n; c < n+k; c++ {
		p.mean[c] = 0
		p.std[c] = 1
	}
	return p, nil
}

// OutChannels returns the channel count Apply produces.
func (p *Pipeline) OutChannels() int { return p.raw + len(p.indices) }

// Apply transforms a [b, c, h, w] image tensor into a new tensor with the
// index channels appended and the raw channels normalized. The input is not
// mutated.
func (p *Pipeline) Apply(img *tensor.Dense) (*tensor.Dense, error) {
	shape := img.Shape()
	if len(shape) != 4 {
		return nil, fmt.Errorf("transform: want a 4-D image tensor, got shape %v", shape)
	}
	b, c, h, w := shape[0], shape[1], shape[2], shape[3]
	if c != p.raw {
		return nil, &ShapeMismatchError{Got: c, Want: p.raw, What: "image tensor"}
	}
	for _, idx := range p.indices {
		if idx.A >= c || idx.B >= c {
			return nil, &ShapeMismatchError{Got: c, Want: max(idx.A, idx.B) + 1, What: "index " + idx.Name}
		}
	}
	in, ok := img.Data().([]float64)
	if !ok {
		return nil, fmt.Errorf("transform: want float64 image data, got %T", img.Data())
	}

	n, k := p.raw, len(p.indices)
	plane := h * w
	out := make([]float64, b*(n+k)*plane)

	for bi := 0; bi < b; bi++ {
		src := in[bi*n*plane : (bi+1)*n*plane]
		dst := out[bi*(n+k)*plane : (bi+1)*(n+k)*plane]
		copy(dst[:n*plane], src)
		for ki, idx := range p.indices {
			va := src[idx.A*plane : (idx.A+1)*plane]
			vb := src[idx.B*plane : (idx.B+1)*plane]
			di := dst[(n+ki)*plane : (n+ki+1)*plane]
			for i := range di {
				di[i] = (va[i] - vb[i]) / (va[i] + vb[i])
			}
		}
		for ci := 0; ci < n+k; ci++ {
			mean, std := p.mean[ci], p.std[ci]
			if mean == 0 && std == 1 {
				continue
			}
			pl := dst[ci*plane : (ci+1)*plane]
			for i := range pl {
				pl[i] = (pl[i] - mean) / std
			}
		}
	}

	return tensor.New(tensor.WithShape(b, n+k, h, w), tensor.WithBacking(out)), nil
}
