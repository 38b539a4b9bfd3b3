package dataset

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
)

var tileRegexp = regexp.MustCompile(`^(.+)_(img|msk)\.tiff?$`)

// TilePair is one training sample: an image tile and its label mask.
type TilePair struct {
	Stem  string
	Image string
	Mask  string
}

// DiscoverPairs walks root and pairs `<stem>_img.tif` with `<stem>_msk.tif`.
// Every tile must have its counterpart; pairs come back sorted by stem.
func DiscoverPairs(root string) ([]TilePair, error) {
	byStem := map[string]*TilePair{}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		m := tileRegexp.FindStringSubmatch(d.Name())
		if m == nil {
			return nil
		}
		stem := m[1]
		pair := byStem[stem]
		if pair == nil {
			pair = &TilePair{Stem: stem}
			byStem[stem] = pair
		}
		switch m[2] {
		case "img":
			pair.Image = path
		case "msk":
			pair.Mask = path
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discover tiles: %w", err)
	}

	pairs := make([]TilePair, 0, len(byStem))
	for stem, pair := range byStem {
		if pair.Image == "" {
			return nil, fmt.Errorf("discover tiles: mask without image for stem %s", stem)
		}
		if pair.Mask == "" {
			return nil, fmt.Errorf("discover tiles: image without mask for stem %s", stem)
		}
		pairs = append(pairs, *pair)
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Stem < pairs[j].Stem })
	return pairs, nil
}

// ImagePaths returns just the image tile paths, in pair order.
func ImagePaths(pairs []TilePair) []string {
	paths := make([]string, len(pairs))
	for i, p := range pairs {
		paths[i] = p.Image
	}
	return paths
}
