package trainer

import (
	"fmt"
	"math"

	"gorgonia.org/tensor"
)

// CrossEntropyLoss is pixelwise softmax cross-entropy over the class axis of
// a [b, classes, h, w] prediction against [b, h, w] integer targets.
type CrossEntropyLoss struct{}

// NewCrossEntropyLoss returns the pixelwise cross-entropy criterion.
func NewCrossEntropyLoss() *CrossEntropyLoss { return &CrossEntropyLoss{} }

func ceShapes(pred, target *tensor.Dense) (b, classes, h, w int, logits, labels []float64, err error) {
	ps, ts := pred.Shape(), target.Shape()
	if len(ps) != 4 {
		err = fmt.Errorf("cross-entropy: want 4-D prediction, got shape %v", ps)
		return
	}
	if len(ts) != 3 || ts[0] != ps[0] || ts[1] != ps[2] || ts[2] != ps[3] {
		err = fmt.Errorf("cross-entropy: target shape %v does not match prediction %v", ts, ps)
		return
	}
	b, classes, h, w = ps[0], ps[1], ps[2], ps[3]
	var ok bool
	if logits, ok = pred.Data().([]float64); !ok {
		err = fmt.Errorf("cross-entropy: want float64 prediction, got %T", pred.Data())
		return
	}
	if labels, ok = target.Data().([]float64); !ok {
		err = fmt.Errorf("cross-entropy: want float64 target, got %T", target.Data())
	}
	return
}

// Forward returns the mean negative log-likelihood over all pixels.
func (CrossEntropyLoss) Forward(pred, target *tensor.Dense) (float64, error) {
	b, classes, h, w, logits, labels, err := ceShapes(pred, target)
	if err != nil {
		return 0, err
	}
	plane := h * w
	total := 0.0
	probs := make([]float64, classes)
	for bi := 0; bi < b; bi++ {
		for pi := 0; pi < plane; pi++ {
			for c := 0; c < classes; c++ {
				probs[c] = logits[(bi*classes+c)*plane+pi]
			}
			softmaxInPlace(probs)
			label := int(labels[bi*plane+pi])
			if label < 0 || label >= classes {
				return 0, fmt.Errorf("cross-entropy: label %d outside [0, %d)", label, classes)
			}
			total += -math.Log(math.Max(probs[label], 1e-9))
		}
	}
	return total / float64(b*plane), nil
}

// Backward returns dLoss/dLogits: (softmax - onehot) / pixels.
func (CrossEntropyLoss) Backward(pred, target *tensor.Dense) (*tensor.Dense, error) {
	b, classes, h, w, logits, labels, err := ceShapes(pred, target)
	if err != nil {
		return nil, err
	}
	plane := h * w
	inv := 1.0 / float64(b*plane)
	grad := make([]float64, len(logits))
	probs := make([]float64, classes)
	for bi := 0; bi < b; bi++ {
		for pi := 0; pi < plane; pi++ {
			for c := 0; c < classes; c++ {
				probs[c] = logits[(bi*classes+c)*plane+pi]
			}
			softmaxInPlace(probs)
			label := int(labels[bi*plane+pi])
			if label < 0 || label >= classes {
				return nil, fmt.Errorf("cross-entropy: label %d outside [0, %d)", label, classes)
			}
			probs[label] -= 1
			for c := 0; c < classes; c++ {
				grad[(bi*classes+c)*plane+pi] = probs[c] * inv
			}
		}
	}
	return tensor.New(tensor.WithShape(b, classes, h, w), tensor.WithBacking(grad)), nil
}

func softmaxInPlace(logits []float64) {
	maxLogit := logits[0]
	for _, v := range logits {
		if v > maxLogit {
			maxLogit = v
		}
	}
	sum := 0.0
	for i, v := range logits {
		e := math.Exp(v - maxLogit)
		logits[i] = e
		sum += e
	}
	inv := 1.0 / sum
	for i := range logits {
		logits[i] *= inv
	}
}
