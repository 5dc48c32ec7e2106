package dataset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeManifest(t *testing.T, dir, content string) {
	t.Helper()
	err := os.WriteFile(filepath.Join(dir, ManifestFile), []byte(content), 0o644)
	require.NoError(t, err)
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "filename,label\na.jpeg,0\nb.jpeg,2\nc.png,4\n")

	labels, err := LoadManifest(dir)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"a.jpeg": 0, "b.jpeg": 2, "c.png": 4}, labels)
}

func TestLoadManifestNoHeader(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "a.jpeg,1\nb.jpeg,3\n")

	labels, err := LoadManifest(dir)
	require.NoError(t, err)
	assert.Len(t, labels, 2)
	assert.Equal(t, 1, labels["a.jpeg"])
}

func TestLoadManifestMissing(t *testing.T) {
	_, err := LoadManifest(t.TempDir())
	assert.ErrorIs(t, err, ErrLabelFileMissing)
}

func TestLoadManifestLabelOutOfRange(t *testing.T) {
	for _, label := range []string{"5", "-1", "99"} {
		dir := t.TempDir()
		writeManifest(t, dir, "filename,label\na.jpeg,"+label+"\n")

		_, err := LoadManifest(dir)
		assert.ErrorIs(t, err, ErrLabelRange, "label %s", label)
	}
}

func TestLoadManifestLabelNotInteger(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "filename,label\na.jpeg,two\n")

	_, err := LoadManifest(dir)
	assert.ErrorIs(t, err, ErrLabelParse)
}

func TestLoadManifestEmpty(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "filename,label\n")

	_, err := LoadManifest(dir)
	assert.ErrorIs(t, err, ErrLabelParse)
}

func TestLoadManifestDuplicateKeepsLast(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "filename,label\na.jpeg,1\na.jpeg,3\n")

	labels, err := LoadManifest(dir)
	require.NoError(t, err)
	assert.Equal(t, 3, labels["a.jpeg"])
}
