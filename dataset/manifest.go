package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

// NumClasses is the number of diabetic-retinopathy severity grades.
const NumClasses = 5

// ClassNames are the severity grade names, indexed by class.
var ClassNames = [NumClasses]string{
	"No DR",
	"Mild DR",
	"Moderate DR",
	"Severe DR",
	"Proliferative DR",
}

// ManifestFile is the expected name of the label manifest inside a data directory.
const ManifestFile = "labels.csv"

// LoadManifest reads the label manifest from dir and returns a mapping from
// image basename to class index. The manifest is a CSV with a
// "filename,label" header and one row per image. Labels must be integers in
// [0, NumClasses). Duplicate filenames are last-write-wins and logged as a
// warning, since the ground truth is ambiguous.
func LoadManifest(dir string) (map[string]int, error) {
	path := filepath.Join(dir, ManifestFile)
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrLabelFileMissing, path)
		}
		return nil, fmt.Errorf("failed to open manifest %s: %w", path, err)
	}
	defer file.Close()

	return parseManifest(file, path)
}

func parseManifest(r io.Reader, path string) (map[string]int, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = 2
	reader.TrimLeadingSpace = true

	labels := make(map[string]int)
	line := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("%w: %s line %d: %v", ErrLabelParse, path, line, err)
		}

		// Skip the header row.
		if line == 1 && strings.EqualFold(record[0], "filename") {
			continue
		}

		name := strings.TrimSpace(record[0])
		if name == "" {
			return nil, fmt.Errorf("%w: %s line %d: empty filename", ErrLabelParse, path, line)
		}

		class, err := strconv.Atoi(strings.TrimSpace(record[1]))
		if err != nil {
			return nil, fmt.Errorf("%w: %s line %d: label %q is not an integer", ErrLabelParse, path, line, record[1])
		}
		if class < 0 || class >= NumClasses {
			return nil, fmt.Errorf("%w: %s line %d: label %d not in [0,%d]", ErrLabelRange, path, line, class, NumClasses-1)
		}

		if prev, dup := labels[name]; dup {
			log.WithFields(log.Fields{
				"manifest": path,
				"filename": name,
				"previous": prev,
				"label":    class,
			}).Warn("duplicate manifest entry, keeping last value")
		}
		labels[name] = class
	}

	if len(labels) == 0 {
		return nil, fmt.Errorf("%w: %s has no rows", ErrLabelParse, path)
	}
	return labels, nil
}
