package trainer

import (
	"math"
	"testing"

	"gorgonia.org/tensor"
)

func newParam(data, grad []float64) *Parameter {
	return &Parameter{
		Data: tensor.New(tensor.WithShape(len(data)), tensor.WithBacking(data)),
		Grad: tensor.New(tensor.WithShape(len(grad)), tensor.WithBacking(grad)),
	}
}

func TestSGDStep(t *testing.T) {
	p := newParam([]float64{1, 2, 3}, []float64{0.5, -0.5, 0})
	sgd, err := NewSGD([]*Parameter{p}, 0.1)
	if err != nil {
		t.Fatalf("NewSGD: %v", err)
	}
	if err := sgd.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}
	got := p.Data.Data().([]float64)
	want := []float64{0.95, 2.05, 3}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-12 {
			t.Fatalf("data[%d]: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestSGDZeroGrad(t *testing.T) {
	p := newParam([]float64{1}, []float64{42})
	sgd, err := NewSGD([]*Parameter{p}, 0.1)
	if err != nil {
		t.Fatalf("NewSGD: %v", err)
	}
	sgd.ZeroGrad()
	if g := p.Grad.Data().([]float64)[0]; g != 0 {
		t.Fatalf("grad after ZeroGrad: got %v, want 0", g)
	}
}

func TestSGDRejectsBadRate(t *testing.T) {
	if _, err := NewSGD(nil, 0); err == nil {
		t.Fatal("expected error for zero learning rate")
	}
	if _, err := NewSGD(nil, -1); err == nil {
		t.Fatal("expected error for negative learning rate")
	}
}

func TestSGDMissingGradient(t *testing.T) {
	p := &Parameter{Data: tensor.New(tensor.WithShape(1), tensor.WithBacking([]float64{1}))}
	sgd, err := NewSGD([]*Parameter{p}, 0.1)
	if err != nil {
		t.Fatalf("NewSGD: %v", err)
	}
	if err := sgd.Step(); err == nil {
		t.Fatal("expected error for parameter without gradient")
	}
}
