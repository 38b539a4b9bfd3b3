package trainer

import (
	"fmt"

	"gorgonia.org/tensor"
)

// predLabels argmaxes the class axis of a [b, classes, h, w] prediction and
// returns per-pixel labels alongside the flattened targets.
func predLabels(pred, target *tensor.Dense) (labels []int, truth []float64, classes int, err error) {
	b, classes, h, w, logits, truth, err := ceShapes(pred, target)
	if err != nil {
		return nil, nil, 0, err
	}
	plane := h * w
	labels = make([]int, b*plane)
	for bi := 0; bi < b; bi++ {
		for pi := 0; pi < plane; pi++ {
			best, bestVal := 0, logits[(bi*classes)*plane+pi]
			for c := 1; c < classes; c++ {
				if v := logits[(bi*classes+c)*plane+pi]; v > bestVal {
					best, bestVal = c, v
				}
			}
			labels[bi*plane+pi] = best
		}
	}
	return labels, truth, classes, nil
}

// OverallAccuracy is the fraction of pixels whose argmax class matches the
// mask.
type OverallAccuracy struct{}

func (OverallAccuracy) Name() string { return "overall_acc" }

func (OverallAccuracy) Eval(pred, target *tensor.Dense) (float64, error) {
	labels, truth, _, err := predLabels(pred, target)
	if err != nil {
		return 0, fmt.Errorf("overall accuracy: %w", err)
	}
	correct := 0
	for i, l := range labels {
		if l == int(truth[i]) {
			correct++
		}
	}
	return float64(correct) / float64(len(labels)), nil
}

// IoU is intersection-over-union averaged over the classes that occur in
// either the prediction or the mask.
type IoU struct{}

func (IoU) Name() string { return "iou" }

func (IoU) Eval(pred, target *tensor.Dense) (float64, error) {
	labels, truth, classes, err := predLabels(pred, target)
	if err != nil {
		return 0, fmt.Errorf("iou: %w", err)
	}
	inter := make([]int, classes)
	union := make([]int, classes)
	for i, l := range labels {
		tc := int(truth[i])
		if tc < 0 || tc >= classes {
			return 0, fmt.Errorf("iou: label %d outside [0, %d)", tc, classes)
		}
		if l == tc {
			inter[l]++
			union[l]++
		} else {
			union[l]++
			union[tc]++
		}
	}
	sum, present := 0.0, 0
	for c := 0; c < classes; c++ {
		if union[c] == 0 {
			continue
		}
		sum += float64(inter[c]) / float64(union[c])
		present++
	}
	if present == 0 {
		return 0, nil
	}
	return sum / float64(present), nil
}
