package dataset

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"

	"gorgonia.org/tensor"

	"aquaseg/internal/raster"
	"aquaseg/internal/stats"
)

// Batch is a named tensor map. "image" is [b, c, h, w] reflectance-scaled
// float64; "mask" is [b, 1, h, w] with integral class ids.
type Batch map[string]*tensor.Dense

// LoaderOptions configures a Loader.
type LoaderOptions struct {
	Pairs      []TilePair
	BatchSize  int
	NumWorkers int
	Shuffle    bool
	Seed       int64
	Reader     raster.Reader
}

// Loader batches tile pairs into tensors. Decoding fans out over a bounded
// worker pool per batch; results are reassembled in index order, so the
// caller sees a plain ordered sequence.
type Loader struct {
	opts  LoaderOptions
	rng   *rand.Rand
	order []int
	pos   int
}

// NewLoader validates opts and builds a Loader positioned at the start of
// its first epoch.
func NewLoader(opts LoaderOptions) (*Loader, error) {
	if len(opts.Pairs) == 0 {
		return nil, errors.New("loader: no tile pairs")
	}
	if opts.BatchSize <= 0 {
		return nil, fmt.Errorf("loader: batch size must be > 0 (got %d)", opts.BatchSize)
	}
	if opts.NumWorkers <= 0 {
		opts.NumWorkers = 1
	}
	if opts.Reader == nil {
		opts.Reader = raster.GDALReader{}
	}

	l := &Loader{
		opts:  opts,
		order: make([]int, len(opts.Pairs)),
	}
	if opts.Shuffle {
		l.rng = rand.New(rand.NewSource(opts.Seed))
	}
	for i := range l.order {
		l.order[i] = i
	}
	l.Reset()
	return l, nil
}

// Len returns the number of batches per epoch. The final batch may be short.
func (l *Loader) Len() int {
	return (len(l.opts.Pairs) + l.opts.BatchSize - 1) / l.opts.BatchSize
}

// Reset rewinds to the start of an epoch, reshuffling when enabled.
func (l *Loader) Reset() {
	l.pos = 0
	if l.rng != nil {
		l.rng.Shuffle(len(l.order), func(i, j int) {
			l.order[i], l.order[j] = l.order[j], l.order[i]
		})
	}
}

type decodedPair struct {
	img *raster.Image
	msk *raster.Image
}

// Next returns the next batch, or (nil, nil) once the epoch is exhausted.
func (l *Loader) Next() (Batch, error) {
	if l.pos >= len(l.order) {
		return nil, nil
	}
	end := l.pos + l.opts.BatchSize
	if end > len(l.order) {
		end = len(l.order)
	}
	indices := l.order[l.pos:end]
	l.pos = end

	decoded := make([]decodedPair, len(indices))
	errs := make([]error, len(indices))
	jobs := make(chan int)

	var wg sync.WaitGroup
	workers := l.opts.NumWorkers
	if workers > len(indices) {
		workers = len(indices)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for slot := range jobs {
				pair := l.opts.Pairs[indices[slot]]
				img, err := l.opts.Reader.Read(pair.Image)
				if err != nil {
					errs[slot] = err
					continue
				}
				msk, err := l.opts.Reader.Read(pair.Mask)
				if err != nil {
					errs[slot] = err
					continue
				}
				decoded[slot] = decodedPair{img: img, msk: msk}
			}
		}()
	}
	for slot := range indices {
		jobs <- slot
	}
	close(jobs)
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return l.assemble(indices, decoded)
}

func (l *Loader) assemble(indices []int, decoded []decodedPair) (Batch, error) {
	first := decoded[0].img
	c, h, w := first.Channels, first.Height, first.Width
	plane := h * w
	b := len(decoded)

	images := make([]float64, b*c*plane)
	masks := make([]float64, b*plane)
	for slot, d := range decoded {
		pair := l.opts.Pairs[indices[slot]]
		if d.img.Channels != c || d.img.Height != h || d.img.Width != w {
			return nil, fmt.Errorf("loader: %s is %dx%dx%d, batch is %dx%dx%d",
				pair.Image, d.img.Channels, d.img.Height, d.img.Width, c, h, w)
		}
		if d.msk.Height != h || d.msk.Width != w {
			return nil, fmt.Errorf("loader: mask %s is %dx%d, batch is %dx%d",
				pair.Mask, d.msk.Height, d.msk.Width, h, w)
		}
		dst := images[slot*c*plane : (slot+1)*c*plane]
		for i, v := range d.img.Pixels {
			dst[i] = v / stats.ReflectanceScale
		}
		copy(masks[slot*plane:(slot+1)*plane], d.msk.Channel(0))
	}

	return Batch{
		"image": tensor.New(tensor.WithShape(b, c, h, w), tensor.WithBacking(images)),
		"mask":  tensor.New(tensor.WithShape(b, 1, h, w), tensor.WithBacking(masks)),
	}, nil
}
