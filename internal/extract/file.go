package extract

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/docker/go-units"
)

// DefaultAllowedExtensions are the drawing formats the extraction service
// accepts.
var DefaultAllowedExtensions = []string{".dwg", ".dxf"}

// File is a drawing selected for upload. Its contents are never inspected.
type File struct {
	Name string
	Data []byte
}

// Size returns the file size in bytes.
func (f *File) Size() int64 {
	if f == nil {
		return 0
	}
	return int64(len(f.Data))
}

// CheckFile validates a selection by extension and size only.
// maxSize <= 0 disables the size check; an empty allowed list accepts any
// extension.
func CheckFile(name string, size, maxSize int64, allowed []string) error {
	if name == "" {
		return &ValidationError{Field: "file", Err: ErrNoFile}
	}

	if len(allowed) > 0 {
		ext := strings.ToLower(filepath.Ext(name))
		ok := false
		for _, a := range allowed {
			if strings.EqualFold(ext, a) {
				ok = true
				break
			}
		}
		if !ok {
			return &ValidationError{
				Field: "file",
				Err:   fmt.Errorf("%w: %q (accepted: %s)", ErrUnsupportedFile, ext, strings.Join(allowed, ", ")),
			}
		}
	}

	if maxSize > 0 && size > maxSize {
		return &ValidationError{
			Field: "file",
			Err: fmt.Errorf("%w: %s exceeds %s", ErrFileTooLarge,
				units.HumanSize(float64(size)), units.HumanSize(float64(maxSize))),
		}
	}

	return nil
}
