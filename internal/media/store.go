// File: internal/media/store.go
// Filesystem persistence for captured screenshots. Snapshots arrive
// base64-encoded from the exec worker; the store decodes them once and
// hands back a stable path callers can serve or archive.
package media

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/deskbridge/api/schemas"
)

// extensions maps the mime types the exec worker emits to on-disk
// extensions. Anything unknown falls back to .bin rather than failing
// the snapshot.
var extensions = map[string]string{
	"image/jpeg": ".jpeg",
	"image/jpg":  ".jpeg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

// Store writes decoded snapshot images under a single directory.
type Store struct {
	dir    string
	logger *zap.Logger
}

var _ schemas.MediaStore = (*Store)(nil)

// NewStore creates the backing directory if needed.
func NewStore(dir string, logger *zap.Logger) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("media directory is not configured")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating media directory %s: %w", dir, err)
	}
	return &Store{dir: dir, logger: logger.Named("media")}, nil
}

// Dir returns the backing directory.
func (s *Store) Dir() string { return s.dir }

// SaveImage decodes the base64 payload and writes it under a fresh
// UUID name. Returns the absolute path of the written file.
func (s *Store) SaveImage(imageB64, mimeType string) (string, error) {
	decoded, err := base64.StdEncoding.DecodeString(imageB64)
	if err != nil {
		return "", fmt.Errorf("decoding image payload: %w", err)
	}
	if len(decoded) == 0 {
		return "", fmt.Errorf("image payload is empty")
	}

	ext, ok := extensions[mimeType]
	if !ok {
		ext = ".bin"
		s.logger.Warn("Unrecognized image mime type", zap.String("mime_type", mimeType))
	}

	path := filepath.Join(s.dir, uuid.NewString()+ext)
	if err := os.WriteFile(path, decoded, 0o644); err != nil {
		return "", fmt.Errorf("writing image %s: %w", path, err)
	}

	s.logger.Debug("Persisted snapshot image",
		zap.String("path", path),
		zap.Int("bytes", len(decoded)))
	return path, nil
}
