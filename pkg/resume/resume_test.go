package resume_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/attachsync/attachsync/pkg/resume"
)

func writeFiles(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644))
	}
}

func TestScanDir(t *testing.T) {
	tests := []struct {
		name    string
		files   []string
		work    []string
		want    []string
		skipped int
	}{
		{
			name:    "existing artifact skipped",
			files:   []string{"42_report.pdf"},
			work:    []string{"42", "43"},
			want:    []string{"43"},
			skipped: 1,
		},
		{
			name:    "empty directory",
			files:   nil,
			work:    []string{"1", "2"},
			want:    []string{"1", "2"},
			skipped: 0,
		},
		{
			name:    "names without separator ignored",
			files:   []string{"notes.txt", "99"},
			work:    []string{"99"},
			want:    []string{"99"},
			skipped: 0,
		},
		{
			name:    "non-identifier prefix ignored",
			files:   []string{"tmp_scratch.bin", "7_a.pdf"},
			work:    []string{"7", "8"},
			want:    []string{"8"},
			skipped: 1,
		},
		{
			name:    "all complete",
			files:   []string{"1_a.pdf", "2_b.pdf"},
			work:    []string{"1", "2"},
			want:    []string{},
			skipped: 2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeFiles(t, dir, tt.files...)

			ix, err := resume.ScanDir(dir, "_", nil)
			require.NoError(t, err)

			got, skipped := ix.Remaining(tt.work)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.skipped, skipped)
		})
	}
}

func TestScanDirMissing(t *testing.T) {
	ix, err := resume.ScanDir(filepath.Join(t.TempDir(), "nope"), "_", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, ix.Len())

	got, skipped := ix.Remaining([]string{"1"})
	assert.Equal(t, []string{"1"}, got)
	assert.Equal(t, 0, skipped)
}

func TestScanDirIgnoresSubdirs(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "5_old"), 0755))
	writeFiles(t, dir, "6_a.pdf")

	ix, err := resume.ScanDir(dir, "_", nil)
	require.NoError(t, err)
	assert.False(t, ix.Contains("5"))
	assert.True(t, ix.Contains("6"))
}
