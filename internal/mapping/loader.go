package mapping

import (
	"context"
	"fmt"
	"os"
)

// Source produces a fresh Store each time it is asked.
type Source interface {
	Load(ctx context.Context) (*Store, error)
}

// FileSource reads a mapping document from disk.
type FileSource struct {
	Path string
	// InputDevice overrides midiDeviceInput when non-empty.
	InputDevice string
}

// NewFileSource returns a FileSource for path.
func NewFileSource(path, inputDevice string) *FileSource {
	return &FileSource{Path: path, InputDevice: inputDevice}
}

// Load reads and parses the file. The result is always a new Store.
func (f *FileSource) Load(ctx context.Context) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, &ConfigError{
			Field:  "file",
			Reason: fmt.Sprintf("cannot read %s: %v", f.Path, err),
			Err:    err,
		}
	}

	return ParseWithOptions(data, FormatFromPath(f.Path), Options{
		Source:      f.Path,
		InputDevice: f.InputDevice,
	})
}

// StaticSource always returns the same document; useful when the mapping is
// embedded or supplied by a caller rather than read from disk.
type StaticSource struct {
	Name   string
	Data   []byte
	Format Format
}

// Load parses the held document.
func (s StaticSource) Load(ctx context.Context) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return ParseWithOptions(s.Data, s.Format, Options{Source: s.Name})
}

func (f *FileSource) String() string { return f.Path }

func (s StaticSource) String() string { return s.Name }
