// Package store provides the persisted state of the harvester: the known
// ranges registry, the delivered-message fingerprint set, and the numbers
// cache. State files are small JSON blobs written atomically so a crash
// mid-write never leaves a torn file behind.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

// Blob is a single JSON state file.
type Blob struct {
	path string
}

// NewBlob creates a Blob rooted at dir/name. The directory is created when
// missing.
func NewBlob(dir, name string) (*Blob, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &Blob{path: filepath.Join(dir, name)}, nil
}

// Load reads the blob into out. Returns found=false when the file does not
// exist yet, which callers treat as a cold start.
func (b *Blob) Load(out any) (bool, error) {
	data, err := os.ReadFile(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read %s: %w", b.path, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		// A corrupt state file is recoverable: start fresh rather than
		// refusing to boot.
		log.Warn().
			Err(err).
			Str("path", b.path).
			Msg("State file is corrupt, starting from empty")
		return false, nil
	}
	return true, nil
}

// Save writes the blob atomically: marshal to a temp file in the same
// directory, then rename over the target.
func (b *Blob) Save(in any) error {
	data, err := json.MarshalIndent(in, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(b.path), filepath.Base(b.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp state file: %w", err)
	}
	if err := os.Rename(tmpName, b.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

// Path returns the backing file path.
func (b *Blob) Path() string {
	return b.path
}
