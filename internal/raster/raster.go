package raster

import (
	"errors"
	"fmt"

	"github.com/airbusgeo/godal"
)

// Image holds a decoded raster tile as a contiguous CHW float64 buffer.
type Image struct {
	Pixels   []float64
	Channels int
	Height   int
	Width    int
}

// Channel returns the flattened pixel plane for channel c.
func (img *Image) Channel(c int) []float64 {
	plane := img.Height * img.Width
	return img.Pixels[c*plane : (c+1)*plane]
}

// ReadError reports a raster that could not be opened or decoded.
type ReadError struct {
	Path string
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("raster: read %s: %v", e.Path, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// Reader resolves a path to a decoded Image. Consumers accept this
// interface so tests can substitute synthetic tiles.
type Reader interface {
	Read(path string) (*Image, error)
}

// GDALReader reads tiles through godal.
type GDALReader struct{}

// Read opens the dataset at path and reads every band into one CHW buffer.
func (GDALReader) Read(path string) (*Image, error) {
	ds, err := godal.Open(path)
	if err != nil {
		return nil, &ReadError{Path: path, Err: err}
	}
	defer ds.Close()

	bands := ds.Bands()
	if len(bands) == 0 {
		return nil, &ReadError{Path: path, Err: errors.New("no raster bands")}
	}

	st := bands[0].Structure()
	width, height := st.SizeX, st.SizeY
	if width == 0 || height == 0 {
		return nil, &ReadError{Path: path, Err: errors.New("empty raster")}
	}

	img := &Image{
		Pixels:   make([]float64, len(bands)*height*width),
		Channels: len(bands),
		Height:   height,
		Width:    width,
	}
	for c, band := range bands {
		bs := band.Structure()
		if bs.SizeX != width || bs.SizeY != height {
			return nil, &ReadError{
				Path: path,
				Err:  fmt.Errorf("band %d is %dx%d, band 0 is %dx%d", c+1, bs.SizeX, bs.SizeY, width, height),
			}
		}
		if err := band.Read(0, 0, img.Channel(c), width, height); err != nil {
			return nil, &ReadError{Path: path, Err: fmt.Errorf("band %d: %w", c+1, err)}
		}
	}
	return img, nil
}
