// Package detect decides whether a service's desired variables need to be
// re-applied, comparing the fresh content against both the recorded state
// and whatever is physically on disk.
package detect

import (
	"errors"
	"log/slog"
	"os"

	"envsyncd/internal/envfile"
)

// Changed reports whether desired content must be re-applied, and returns
// the digest of that content. Either disagreement is sufficient: the
// recorded hash differs, or the destination file differs (including the
// file being absent or unreadable; a read error forces a resync rather
// than silently skipping a required update).
func Changed(path string, desired []byte, recordedHash string) (bool, string) {
	digest := envfile.Digest(desired)

	if digest != recordedHash {
		return true, digest
	}

	onDisk, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("variable file unreadable, forcing resync", "path", path, "err", err)
		}
		return true, digest
	}
	if envfile.Digest(onDisk) != digest {
		return true, digest
	}
	return false, digest
}
