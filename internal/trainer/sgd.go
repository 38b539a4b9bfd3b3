package trainer

import (
	"fmt"
)

// SGD is plain stochastic gradient descent over a parameter list.
type SGD struct {
	params []*Parameter
	lr     float64
}

// NewSGD builds an SGD optimizer with learning rate lr.
func NewSGD(params []*Parameter, lr float64) (*SGD, error) {
	if lr <= 0 {
		return nil, fmt.Errorf("sgd: learning rate must be > 0 (got %g)", lr)
	}
	return &SGD{params: params, lr: lr}, nil
}

// LR returns the current learning rate.
func (s *SGD) LR() float64 { return s.lr }

// ZeroGrad clears every parameter gradient.
func (s *SGD) ZeroGrad() {
	for _, p := range s.params {
		if p.Grad == nil {
			continue
		}
		g := p.Grad.Data().([]float64)
		for i := range g {
			g[i] = 0
		}
	}
}

// Step applies data -= lr * grad to every parameter.
func (s *SGD) Step() error {
	for i, p := range s.params {
		if p.Data == nil || p.Grad == nil {
			return fmt.Errorf("sgd: parameter %d has no gradient", i)
		}
		data, ok := p.Data.Data().([]float64)
		if !ok {
			return fmt.Errorf("sgd: parameter %d is not float64", i)
		}
		grad := p.Grad.Data().([]float64)
		if len(grad) != len(data) {
			return fmt.Errorf("sgd: parameter %d gradient has %d elements, data has %d", i, len(grad), len(data))
		}
		for j := range data {
			data[j] -= s.lr * grad[j]
		}
	}
	return nil
}
