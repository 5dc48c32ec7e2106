package dataset

import (
	"fmt"
	"image"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	// Register the decoders the indexer accepts.
	_ "image/jpeg"
	_ "image/png"

	log "github.com/sirupsen/logrus"
)

// Entry is one (path, class) pair in the realized dataset index.
type Entry struct {
	Path  string
	Class int
}

// Index is the validated, immutable list of samples a dataset is built from.
// It is constructed once by intersecting discovered image files with the
// label manifest; unreadable, unlabeled, or unsupported files are excluded
// at construction time so downstream consumers never see them.
type Index struct {
	entries []Entry
	counts  [NumClasses]int
}

var supportedExtensions = map[string]bool{
	".jpeg": true,
	".jpg":  true,
	".png":  true,
}

// BuildIndex walks root recursively, keeps files with a supported extension,
// verifies each candidate decodes to a tri-channel color or single-channel
// grayscale image, and matches its basename against labels. Failures are
// skipped and logged; an index with zero surviving entries is an error.
// Entries are sorted by path so the index is reproducible across runs.
func BuildIndex(root string, labels map[string]int) (*Index, error) {
	if len(labels) == 0 {
		return nil, fmt.Errorf("%w: empty label table", ErrEmptyDataset)
	}

	idx := &Index{}
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if !supportedExtensions[ext] {
			return nil
		}

		name := filepath.Base(path)
		class, ok := labels[name]
		if !ok {
			log.WithField("image", name).Warn("skipping image with no manifest entry")
			return nil
		}

		if err := verifyDecodable(path); err != nil {
			log.WithFields(log.Fields{"image": path, "error": err}).Warn("skipping unreadable image")
			return nil
		}

		idx.entries = append(idx.entries, Entry{Path: path, Class: class})
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", root, walkErr)
	}

	if len(idx.entries) == 0 {
		return nil, fmt.Errorf("%w: under %s", ErrEmptyDataset, root)
	}

	sort.Slice(idx.entries, func(i, j int) bool {
		return idx.entries[i].Path < idx.entries[j].Path
	})
	for _, e := range idx.entries {
		idx.counts[e.Class]++
	}

	log.WithFields(log.Fields{
		"root":         root,
		"samples":      len(idx.entries),
		"distribution": idx.counts,
	}).Info("dataset index built")
	return idx, nil
}

// verifyDecodable decodes the image header and checks the color encoding is
// one of the two supported kinds. Unsupported encodings (palette, CMYK, ...)
// are rejected rather than converted, so the training distribution only
// contains images the provider can canonicalize faithfully.
func verifyDecodable(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return fmt.Errorf("decode failed: %w", err)
	}

	switch img.(type) {
	case *image.RGBA, *image.NRGBA, *image.YCbCr, *image.RGBA64, *image.NRGBA64, *image.Gray, *image.Gray16:
		return nil
	default:
		return fmt.Errorf("unsupported color encoding %T", img)
	}
}

// Len returns the number of entries in the index.
func (idx *Index) Len() int { return len(idx.entries) }

// Entry returns the entry at position i.
func (idx *Index) Entry(i int) Entry { return idx.entries[i] }

// Labels returns the class index of every entry, in index order.
func (idx *Index) Labels() []int {
	labels := make([]int, len(idx.entries))
	for i, e := range idx.entries {
		labels[i] = e.Class
	}
	return labels
}

// ClassCounts returns the number of samples per class.
func (idx *Index) ClassCounts() [NumClasses]int { return idx.counts }

// Subset returns a new index containing the entries at the given positions.
func (idx *Index) Subset(positions []int) *Index {
	sub := &Index{entries: make([]Entry, len(positions))}
	for i, p := range positions {
		sub.entries[i] = idx.entries[p]
		sub.counts[idx.entries[p].Class]++
	}
	return sub
}

// String summarizes the index for logging.
func (idx *Index) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Index: %d samples\n", len(idx.entries))
	for c, name := range ClassNames {
		fmt.Fprintf(&sb, "  %s: %d\n", name, idx.counts[c])
	}
	return sb.String()
}

// fromEntries builds an index directly from entries (used by tests and Split).
func fromEntries(entries []Entry) *Index {
	idx := &Index{entries: entries}
	for _, e := range entries {
		idx.counts[e.Class]++
	}
	return idx
}
