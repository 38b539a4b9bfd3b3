package trainer

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gorgonia.org/tensor"

	"aquaseg/internal/dataset"
	"aquaseg/internal/metrics"
)

// Device selects the compute target for a run. It is fixed for the whole
// run and passed in explicitly; there is no process-wide device state.
type Device int

const (
	CPU Device = iota
	GPU
)

func (d Device) String() string {
	if d == GPU {
		return "gpu"
	}
	return "cpu"
}

// ParseDevice maps a config string to a Device.
func ParseDevice(s string) (Device, error) {
	switch s {
	case "", "cpu":
		return CPU, nil
	case "gpu":
		return GPU, nil
	}
	return CPU, fmt.Errorf("trainer: unknown device %q", s)
}

// Parameter is one trainable tensor with its accumulated gradient.
type Parameter struct {
	Data *tensor.Dense
	Grad *tensor.Dense
}

// Module maps a batch image tensor to named output tensors; the prediction
// lives under "out". Backward accumulates parameter gradients from the
// gradient with respect to the prediction.
type Module interface {
	Forward(input *tensor.Dense) (map[string]*tensor.Dense, error)
	Backward(grad *tensor.Dense) error
	Parameters() []*Parameter
}

// Loss scores a prediction against integer-class targets. Backward returns
// the gradient of the scalar loss with respect to the prediction.
type Loss interface {
	Forward(pred, target *tensor.Dense) (float64, error)
	Backward(pred, target *tensor.Dense) (*tensor.Dense, error)
}

// Optimizer updates module parameters in place from their gradients.
type Optimizer interface {
	ZeroGrad()
	Step() error
}

// Accuracy is one validation metric over (prediction, target).
type Accuracy interface {
	Name() string
	Eval(pred, target *tensor.Dense) (float64, error)
}

// BatchTransform rewrites a batch image tensor before it reaches the model.
type BatchTransform interface {
	Apply(img *tensor.Dense) (*tensor.Dense, error)
}

// Loader is a finite, restartable batch sequence. Next returns (nil, nil)
// once the epoch is exhausted.
type Loader interface {
	Len() int
	Reset()
	Next() (dataset.Batch, error)
}

// Config captures the fixed knobs of a training run.
type Config struct {
	Epochs     int
	Device     Device
	Transform  BatchTransform // optional
	Accuracies []Accuracy     // validation metrics; empty disables validation
	Out        io.Writer      // epoch report destination, default os.Stdout
}

// EpochMetrics is the per-epoch summary. Loss is the batch-count average of
// per-batch losses; Accuracies align with Config.Accuracies.
type EpochMetrics struct {
	Epoch      int
	TrainLoss  float64
	Accuracies []float64
	Timing     metrics.Snapshot
}

// Trainer drives a fixed number of epochs over a training loader and an
// optional validation loader. Any collaborator error aborts the run.
type Trainer struct {
	model     Module
	criterion Loss
	optimizer Optimizer
	cfg       Config
}

// New builds a Trainer. Model, criterion and optimizer are required.
func New(model Module, criterion Loss, optimizer Optimizer, cfg Config) (*Trainer, error) {
	if model == nil || criterion == nil || optimizer == nil {
		return nil, errors.New("trainer: model, criterion and optimizer are required")
	}
	if cfg.Epochs < 0 {
		return nil, fmt.Errorf("trainer: epochs must be >= 0 (got %d)", cfg.Epochs)
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	return &Trainer{model: model, criterion: criterion, optimizer: optimizer, cfg: cfg}, nil
}

// Run executes all configured epochs. Validation runs only when both a
// validation loader and at least one accuracy metric are supplied. One
// report line is written per completed epoch.
func (t *Trainer) Run(train, valid Loader) ([]EpochMetrics, error) {
	if train == nil {
		return nil, errors.New("trainer: training loader is required")
	}

	history := make([]EpochMetrics, 0, t.cfg.Epochs)
	for epoch := 1; epoch <= t.cfg.Epochs; epoch++ {
		var window metrics.Window
		lossSum := 0.0
		batches := 0

		train.Reset()
		for {
			startData := time.Now()
			batch, err := train.Next()
			if err != nil {
				return history, fmt.Errorf("epoch %d batch %d: %w", epoch, batches, err)
			}
			if batch == nil {
				break
			}
			dataTime := time.Since(startData)

			startCompute := time.Now()
			loss, err := t.trainStep(batch)
			if err != nil {
				return history, fmt.Errorf("epoch %d batch %d: %w", epoch, batches, err)
			}
			window.Record(dataTime, time.Since(startCompute))

			lossSum += loss
			batches++
		}

		avgLoss := 0.0
		if batches > 0 {
			avgLoss = lossSum / float64(batches)
		}

		m := EpochMetrics{Epoch: epoch, TrainLoss: avgLoss, Timing: window.Snapshot()}
		if valid != nil && len(t.cfg.Accuracies) > 0 {
			accs, err := t.validate(valid)
			if err != nil {
				return history, fmt.Errorf("epoch %d validation: %w", epoch, err)
			}
			m.Accuracies = accs
		}
		history = append(history, m)
		t.report(m)
	}
	return history, nil
}

func (t *Trainer) trainStep(batch dataset.Batch) (float64, error) {
	img := batch["image"]
	if img == nil {
		return 0, errors.New("batch has no image tensor")
	}
	mask := batch["mask"]
	if mask == nil {
		return 0, errors.New("batch has no mask tensor")
	}
	if t.cfg.Transform != nil {
		var err error
		if img, err = t.cfg.Transform.Apply(img); err != nil {
			return 0, err
		}
	}
	target := squeezeLabels(mask)

	out, err := t.model.Forward(img)
	if err != nil {
		return 0, err
	}
	pred := out["out"]
	if pred == nil {
		return 0, errors.New("model output has no \"out\" tensor")
	}

	loss, err := t.criterion.Forward(pred, target)
	if err != nil {
		return 0, err
	}

	t.optimizer.ZeroGrad()
	grad, err := t.criterion.Backward(pred, target)
	if err != nil {
		return 0, err
	}
	if err := t.model.Backward(grad); err != nil {
		return 0, err
	}
	if err := t.optimizer.Step(); err != nil {
		return 0, err
	}
	return loss, nil
}

func (t *Trainer) validate(valid Loader) ([]float64, error) {
	sums := make([]float64, len(t.cfg.Accuracies))
	batches := 0

	valid.Reset()
	for {
		batch, err := valid.Next()
		if err != nil {
			return nil, fmt.Errorf("batch %d: %w", batches, err)
		}
		if batch == nil {
			break
		}
		img := batch["image"]
		if img == nil {
			return nil, errors.New("batch has no image tensor")
		}
		mask := batch["mask"]
		if mask == nil {
			return nil, errors.New("batch has no mask tensor")
		}
		if t.cfg.Transform != nil {
			if img, err = t.cfg.Transform.Apply(img); err != nil {
				return nil, err
			}
		}
		target := squeezeLabels(mask)

		out, err := t.model.Forward(img)
		if err != nil {
			return nil, err
		}
		pred := out["out"]
		if pred == nil {
			return nil, errors.New("model output has no \"out\" tensor")
		}
		for i, acc := range t.cfg.Accuracies {
			v, err := acc.Eval(pred, target)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", acc.Name(), err)
			}
			sums[i] += v
		}
		batches++
	}

	if batches > 0 {
		for i := range sums {
			sums[i] /= float64(batches)
		}
	}
	return sums, nil
}

func (t *Trainer) report(m EpochMetrics) {
	if m.Accuracies == nil {
		fmt.Fprintf(t.cfg.Out, "Epoch %d: Train Loss=%.5f\n", m.Epoch, m.TrainLoss)
		return
	}
	parts := make([]string, len(m.Accuracies))
	for i, a := range m.Accuracies {
		parts[i] = strconv.FormatFloat(a, 'f', 3, 64)
	}
	fmt.Fprintf(t.cfg.Out, "Epoch %d: Train Loss=%.5f - Accs=[%s]\n",
		m.Epoch, m.TrainLoss, strings.Join(parts, " "))
}

// squeezeLabels drops the singleton label dimension of a [b, 1, h, w] mask,
// sharing the backing storage.
func squeezeLabels(mask *tensor.Dense) *tensor.Dense {
	s := mask.Shape()
	if len(s) == 4 && s[1] == 1 {
		return tensor.New(tensor.WithShape(s[0], s[2], s[3]), tensor.WithBacking(mask.Data()))
	}
	return mask
}
