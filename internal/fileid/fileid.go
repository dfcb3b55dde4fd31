// Package fileid identifies model artifacts on disk: a stable name from the path and a
// fingerprint that changes when the artifact's content does.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ElementName returns the nutrient name an artifact is registered under: its base
// name without extension. "/models/N.onnx" yields "N".
func ElementName(path string) string {
	base := filepath.Base(filepath.Clean(path))
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Fingerprint describes one version of an artifact.
type Fingerprint struct {
	Size    int64
	ModTime time.Time
	SHA256  string
}

// Equal reports whether two fingerprints describe the same content.
func (f Fingerprint) Equal(o Fingerprint) bool {
	return f.Size == o.Size && f.ModTime.Equal(o.ModTime) && f.SHA256 == o.SHA256
}

// Short returns the first 12 hex characters of the content hash.
func (f Fingerprint) Short() string {
	if len(f.SHA256) < 12 {
		return f.SHA256
	}
	return f.SHA256[:12]
}

// Stat fingerprints the file at path.
func Stat(path string) (Fingerprint, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Fingerprint{}, err
	}
	if info.IsDir() {
		return Fingerprint{}, fmt.Errorf("%s is a directory", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return Fingerprint{}, err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return Fingerprint{}, err
	}
	return Fingerprint{
		Size:    info.Size(),
		ModTime: info.ModTime(),
		SHA256:  hex.EncodeToString(h.Sum(nil)),
	}, nil
}
