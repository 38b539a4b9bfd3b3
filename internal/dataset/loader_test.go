package dataset

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"aquaseg/internal/raster"
)

type fakeReader struct {
	tiles map[string]*raster.Image
}

func (f fakeReader) Read(path string) (*raster.Image, error) {
	img, ok := f.tiles[path]
	if !ok {
		return nil, &raster.ReadError{Path: path, Err: errors.New("no such tile")}
	}
	return img, nil
}

func fillTile(channels, h, w int, value float64) *raster.Image {
	img := &raster.Image{
		Pixels:   make([]float64, channels*h*w),
		Channels: channels,
		Height:   h,
		Width:    w,
	}
	for i := range img.Pixels {
		img.Pixels[i] = value
	}
	return img
}

func testFixture(n, channels, h, w int) (fakeReader, []TilePair) {
	reader := fakeReader{tiles: map[string]*raster.Image{}}
	pairs := make([]TilePair, n)
	for i := range pairs {
		img := fmt.Sprintf("t%02d_img.tif", i)
		msk := fmt.Sprintf("t%02d_msk.tif", i)
		reader.tiles[img] = fillTile(channels, h, w, float64((i+1)*10000))
		reader.tiles[msk] = fillTile(1, h, w, float64(i%2))
		pairs[i] = TilePair{Stem: fmt.Sprintf("t%02d", i), Image: img, Mask: msk}
	}
	return reader, pairs
}

func TestLoaderBatchShapes(t *testing.T) {
	reader, pairs := testFixture(3, 2, 4, 4)
	l, err := NewLoader(LoaderOptions{Pairs: pairs, BatchSize: 2, Reader: reader})
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	if got, want := l.Len(), 2; got != want {
		t.Fatalf("Len: got %d, want %d", got, want)
	}

	first, err := l.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	s := first["image"].Shape()
	if s[0] != 2 || s[1] != 2 || s[2] != 4 || s[3] != 4 {
		t.Fatalf("image shape: got %v, want [2 2 4 4]", s)
	}
	ms := first["mask"].Shape()
	if ms[0] != 2 || ms[1] != 1 || ms[2] != 4 || ms[3] != 4 {
		t.Fatalf("mask shape: got %v, want [2 1 4 4]", ms)
	}

	// Short tail batch.
	second, err := l.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if got := second["image"].Shape()[0]; got != 1 {
		t.Fatalf("tail batch size: got %d, want 1", got)
	}

	done, err := l.Next()
	if err != nil || done != nil {
		t.Fatalf("expected end of epoch, got %v, %v", done, err)
	}
}

func TestLoaderScalesToReflectance(t *testing.T) {
	reader, pairs := testFixture(1, 1, 2, 2)
	l, err := NewLoader(LoaderOptions{Pairs: pairs, BatchSize: 1, Reader: reader})
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	batch, err := l.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	img := batch["image"].Data().([]float64)
	// Raw 10000 -> reflectance 1.0.
	for i, v := range img {
		if math.Abs(v-1.0) > 1e-12 {
			t.Fatalf("image[%d]: got %v, want 1.0", i, v)
		}
	}
	msk := batch["mask"].Data().([]float64)
	for i, v := range msk {
		if v != 0 {
			t.Fatalf("mask[%d]: got %v, want 0 (unscaled)", i, v)
		}
	}
}

func TestLoaderResetReplaysOrder(t *testing.T) {
	reader, pairs := testFixture(4, 1, 2, 2)
	l, err := NewLoader(LoaderOptions{Pairs: pairs, BatchSize: 2, Reader: reader})
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	firstEpoch := drainFirstPixels(t, l)
	l.Reset()
	secondEpoch := drainFirstPixels(t, l)
	if len(firstEpoch) != len(secondEpoch) {
		t.Fatalf("epoch lengths differ: %d vs %d", len(firstEpoch), len(secondEpoch))
	}
	for i := range firstEpoch {
		if firstEpoch[i] != secondEpoch[i] {
			t.Fatalf("unshuffled epochs differ at %d: %v vs %v", i, firstEpoch[i], secondEpoch[i])
		}
	}
}

func TestLoaderShuffleIsSeeded(t *testing.T) {
	reader, pairs := testFixture(8, 1, 2, 2)
	a, err := NewLoader(LoaderOptions{Pairs: pairs, BatchSize: 1, Shuffle: true, Seed: 3, Reader: reader})
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	b, err := NewLoader(LoaderOptions{Pairs: pairs, BatchSize: 1, Shuffle: true, Seed: 3, Reader: reader})
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	av := drainFirstPixels(t, a)
	bv := drainFirstPixels(t, b)
	for i := range av {
		if av[i] != bv[i] {
			t.Fatalf("same seed produced different orders at %d", i)
		}
	}
}

func drainFirstPixels(t *testing.T, l *Loader) []float64 {
	t.Helper()
	var out []float64
	for {
		batch, err := l.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if batch == nil {
			return out
		}
		out = append(out, batch["image"].Data().([]float64)[0])
	}
}

func TestLoaderDecodeErrorAborts(t *testing.T) {
	reader, pairs := testFixture(2, 1, 2, 2)
	delete(reader.tiles, pairs[1].Image)
	l, err := NewLoader(LoaderOptions{Pairs: pairs, BatchSize: 2, NumWorkers: 2, Reader: reader})
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	_, err = l.Next()
	var readErr *raster.ReadError
	if !errors.As(err, &readErr) {
		t.Fatalf("expected ReadError, got %v", err)
	}
}

func TestLoaderRejectsMixedShapes(t *testing.T) {
	reader, pairs := testFixture(2, 1, 2, 2)
	reader.tiles[pairs[1].Image] = fillTile(1, 3, 3, 10000)
	l, err := NewLoader(LoaderOptions{Pairs: pairs, BatchSize: 2, Reader: reader})
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	if _, err := l.Next(); err == nil {
		t.Fatal("expected error for mixed tile shapes")
	}
}

func TestLoaderValidatesOptions(t *testing.T) {
	if _, err := NewLoader(LoaderOptions{}); err == nil {
		t.Fatal("expected error for empty pairs")
	}
	_, pairs := testFixture(1, 1, 2, 2)
	if _, err := NewLoader(LoaderOptions{Pairs: pairs}); err == nil {
		t.Fatal("expected error for zero batch size")
	}
}
