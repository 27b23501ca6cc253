// Package blob defines the artifact store for rendered files. Artifacts are
// addressed by base filename only; callers never pass paths.
package blob

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

// URLPrefix is the public path rendered artifacts are served under.
const URLPrefix = "/uploads/"

const nameRandomBytes = 10

// ErrBadName is returned when an artifact name is empty or contains path
// separators.
var ErrBadName = errors.New("invalid artifact name")

// Store persists rendered artifacts and serves their public URLs.
type Store interface {
	// Put writes data under the given base filename and returns its public
	// file URL.
	Put(ctx context.Context, name string, data []byte) (string, error)

	// Delete removes one artifact by base filename. Missing files are not an
	// error.
	Delete(ctx context.Context, name string) error

	// SweepOlderThan removes artifacts carrying one of the given filename
	// prefixes whose modification time is before cutoff. It returns how many
	// files were removed.
	SweepOlderThan(ctx context.Context, cutoff time.Time, prefixes []string) (int, error)
}

// NewArtifactName generates a collision-resistant filename such as
// shot_1f7a90b3c4d5e6f70a1b.png from a prefix and extension.
func NewArtifactName(prefix, ext string) (string, error) {
	buf := make([]byte, nameRandomBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate artifact name: %w", err)
	}
	return fmt.Sprintf("%s_%s.%s", prefix, hex.EncodeToString(buf), ext), nil
}

// FileURL returns the public URL for an artifact base filename.
func FileURL(name string) string {
	return URLPrefix + name
}

// BaseName extracts the artifact filename from a stored file URL.
func BaseName(fileURL string) string {
	name := strings.TrimPrefix(fileURL, URLPrefix)
	if i := strings.LastIndexAny(name, "/\\"); i >= 0 {
		name = name[i+1:]
	}
	return name
}

// ValidName reports whether name is a plain base filename.
func ValidName(name string) bool {
	return name != "" && !strings.ContainsAny(name, "/\\") && name != "." && name != ".."
}
