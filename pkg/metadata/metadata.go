package metadata

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/xerrors"
)

const manifestFile = "manifest.json"

// Client reads and writes the run manifest: a small JSON file recording the
// most recent completed run.
type Client struct {
	path string
}

type Manifest struct {
	RunID       int64  `json:",omitempty"`
	Source      string `json:",omitempty"`
	CompletedAt time.Time
	Processed   int
	Successful  int
	Failed      int
	Skipped     int
}

// Path returns the manifest file path under the log directory.
func Path(logDir string) string {
	return filepath.Join(logDir, manifestFile)
}

func New(logDir string) Client {
	return Client{path: Path(logDir)}
}

// Get returns the stored manifest.
func (c *Client) Get() (Manifest, error) {
	f, err := os.Open(c.path)
	if err != nil {
		return Manifest{}, xerrors.Errorf("unable to open a file: %w", err)
	}
	defer f.Close()

	var m Manifest
	if err = json.NewDecoder(f).Decode(&m); err != nil {
		return Manifest{}, xerrors.Errorf("unable to decode manifest: %w", err)
	}
	return m, nil
}

// Update replaces the stored manifest.
func (c *Client) Update(m Manifest) error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0744); err != nil {
		return xerrors.Errorf("mkdir error: %w", err)
	}

	f, err := os.Create(c.path)
	if err != nil {
		return xerrors.Errorf("unable to open a file: %w", err)
	}
	defer f.Close()

	if err = json.NewEncoder(f).Encode(&m); err != nil {
		return xerrors.Errorf("unable to encode manifest: %w", err)
	}
	return nil
}

// Delete removes the manifest file.
func (c *Client) Delete() error {
	if err := os.Remove(c.path); err != nil {
		return xerrors.Errorf("unable to remove the manifest file: %w", err)
	}
	return nil
}
