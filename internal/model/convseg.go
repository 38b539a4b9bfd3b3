package model

import (
	"errors"
	"fmt"
	"math/rand"

	"gorgonia.org/tensor"

	"aquaseg/internal/trainer"
)

// ConvSeg is a per-pixel linear classifier (the 1x1-convolution special
// case): every pixel's channel vector is mapped independently to class
// logits. Small enough to train on CPU, shaped like a real segmentation
// head.
type ConvSeg struct {
	numClasses int
	inChannels int
	weight     *trainer.Parameter // [numClasses, inChannels]
	bias       *trainer.Parameter // [numClasses]
	lastInput  *tensor.Dense
}

// NewConvSeg constructs the model with seeded uniform initialization.
func NewConvSeg(numClasses, inChannels int, seed int64) (*ConvSeg, error) {
	if numClasses <= 1 {
		return nil, fmt.Errorf("convseg: need at least 2 classes (got %d)", numClasses)
	}
	if inChannels <= 0 {
		return nil, fmt.Errorf("convseg: input channels must be > 0 (got %d)", inChannels)
	}
	rng := rand.New(rand.NewSource(seed))
	weights := make([]float64, numClasses*inChannels)
	for i := range weights {
		weights[i] = (rng.Float64()*2 - 1) * 0.01
	}
	return &ConvSeg{
		numClasses: numClasses,
		inChannels: inChannels,
		weight: &trainer.Parameter{
			Data: tensor.New(tensor.WithShape(numClasses, inChannels), tensor.WithBacking(weights)),
			Grad: tensor.New(tensor.WithShape(numClasses, inChannels), tensor.WithBacking(make([]float64, numClasses*inChannels))),
		},
		bias: &trainer.Parameter{
			Data: tensor.New(tensor.WithShape(numClasses), tensor.WithBacking(make([]float64, numClasses))),
			Grad: tensor.New(tensor.WithShape(numClasses), tensor.WithBacking(make([]float64, numClasses))),
		},
	}, nil
}

// Forward maps [b, inChannels, h, w] to logits under "out" with shape
// [b, numClasses, h, w]. The input is retained for Backward.
func (m *ConvSeg) Forward(input *tensor.Dense) (map[string]*tensor.Dense, error) {
	s := input.Shape()
	if len(s) != 4 {
		return nil, fmt.Errorf("convseg: want 4-D input, got shape %v", s)
	}
	b, c, h, w := s[0], s[1], s[2], s[3]
	if c != m.inChannels {
		return nil, fmt.Errorf("convseg: input has %d channels, model wants %d", c, m.inChannels)
	}
	x, ok := input.Data().([]float64)
	if !ok {
		return nil, fmt.Errorf("convseg: want float64 input, got %T", input.Data())
	}

	wts := m.weight.Data.Data().([]float64)
	bias := m.bias.Data.Data().([]float64)
	plane := h * w
	out := make([]float64, b*m.numClasses*plane)
	for bi := 0; bi < b; bi++ {
		for cl := 0; cl < m.numClasses; cl++ {
			dst := out[(bi*m.numClasses+cl)*plane : (bi*m.numClasses+cl+1)*plane]
			for i := range dst {
				dst[i] = bias[cl]
			}
			for j := 0; j < c; j++ {
				wv := wts[cl*c+j]
				src := x[(bi*c+j)*plane : (bi*c+j+1)*plane]
				for i, v := range src {
					dst[i] += wv * v
				}
			}
		}
	}

	m.lastInput = input
	return map[string]*tensor.Dense{
		"out": tensor.New(tensor.WithShape(b, m.numClasses, h, w), tensor.WithBacking(out)),
	}, nil
}

// Backward accumulates weight and bias gradients from dLoss/dLogits.
func (m *ConvSeg) Backward(grad *tensor.Dense) error {
	if m.lastInput == nil {
		return errors.New("convseg: Backward before Forward")
	}
	gs := grad.Shape()
	is := m.lastInput.Shape()
	if len(gs) != 4 || gs[0] != is[0] || gs[1] != m.numClasses || gs[2] != is[2] || gs[3] != is[3] {
		return fmt.Errorf("convseg: gradient shape %v does not match input %v with %d classes", gs, is, m.numClasses)
	}
	g, ok := grad.Data().([]float64)
	if !ok {
		return fmt.Errorf("convseg: want float64 gradient, got %T", grad.Data())
	}
	x := m.lastInput.Data().([]float64)

	b, c, plane := is[0], is[1], is[2]*is[3]
	wGrad := m.weight.Grad.Data().([]float64)
	bGrad := m.bias.Grad.Data().([]float64)
	for bi := 0; bi < b; bi++ {
		for cl := 0; cl < m.numClasses; cl++ {
			gp := g[(bi*m.numClasses+cl)*plane : (bi*m.numClasses+cl+1)*plane]
			for _, gv := range gp {
				bGrad[cl] += gv
			}
			for j := 0; j < c; j++ {
				src := x[(bi*c+j)*plane : (bi*c+j+1)*plane]
				sum := 0.0
				for i, gv := range gp {
					sum += gv * src[i]
				}
				wGrad[cl*c+j] += sum
			}
		}
	}
	return nil
}

// Parameters exposes the trainable tensors for the optimizer.
func (m *ConvSeg) Parameters() []*trainer.Parameter {
	return []*trainer.Parameter{m.weight, m.bias}
}
