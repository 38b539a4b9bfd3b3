package stats

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/stat"

	"aquaseg/internal/raster"
)

// ReflectanceScale converts raw sensor digital numbers to reflectance.
const ReflectanceScale = 10000.0

// Stats holds per-channel mean and standard deviation in reflectance units.
type Stats struct {
	Mean []float64
	Std  []float64
}

// Channels returns the number of raw sensor channels covered.
func (s Stats) Channels() int { return len(s.Mean) }

// ShapeError reports a tile whose channel count disagrees with the stream.
type ShapeError struct {
	Path string
	Got  int
	Want int
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("stats: %s has %d channels, want %d", e.Path, e.Got, e.Want)
}

// Accumulator streams per-channel statistics over a list of tiles.
//
// Each tile is scaled to reflectance, then its per-channel sample mean and
// sample standard deviation are accumulated and finally divided by the tile
// count. Averaging per-tile standard deviations is biased relative to the
// pooled dataset standard deviation whenever per-tile means differ; the
// approximation is kept deliberately so a single tile is resident at a time
// and downstream expected values stay stable.
type Accumulator struct {
	reader raster.Reader
}

// NewAccumulator builds an Accumulator backed by reader.
func NewAccumulator(reader raster.Reader) *Accumulator {
	return &Accumulator{reader: reader}
}

// Compute streams paths once and returns per-channel statistics.
// The first unreadable tile or channel-count mismatch aborts the pass.
func (a *Accumulator) Compute(paths []string) (Stats, error) {
	if len(paths) == 0 {
		return Stats{}, errors.New("stats: no tiles to accumulate")
	}

	var meanSum, stdSum []float64
	scaled := []float64(nil)

	for _, path := range paths {
		img, err := a.reader.Read(path)
		if err != nil {
			return Stats{}, err
		}
		if meanSum == nil {
			meanSum = make([]float64, img.Channels)
			stdSum = make([]float64, img.Channels)
		} else if img.Channels != len(meanSum) {
			return Stats{}, &ShapeError{Path: path, Got: img.Channels, Want: len(meanSum)}
		}

		for c := 0; c < img.Channels; c++ {
			plane := img.Channel(c)
			if cap(scaled) < len(plane) {
				scaled = make([]float64, len(plane))
			}
			scaled = scaled[:len(plane)]
			for i, v := range plane {
				scaled[i] = v / ReflectanceScale
			}
			mean, std := stat.MeanStdDev(scaled, nil)
			meanSum[c] += mean
			stdSum[c] += std
		}
	}

	n := float64(len(paths))
	out := Stats{
		Mean: make([]float64, len(meanSum)),
		Std:  make([]float64, len(stdSum)),
	}
	for c := range meanSum {
		out.Mean[c] = meanSum[c] / n
		out.Std[c] = stdSum[c] / n
	}
	return out, nil
}
