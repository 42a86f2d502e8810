package a2l

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/text/encoding/charmap"
)

// Supported file encodings.
const (
	EncodingLatin1 = "latin1"
	EncodingUTF8   = "utf-8"
)

// ParseFile parses the file at path. A2L files are Latin-1 unless stated
// otherwise.
func ParseFile(path, encoding string, opts ...Option) (*Tables, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open a2l: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	switch strings.ToLower(encoding) {
	case "", EncodingLatin1, "iso-8859-1":
		r = charmap.ISO8859_1.NewDecoder().Reader(f)
	case EncodingUTF8, "utf8":
	default:
		return nil, fmt.Errorf("unsupported a2l encoding %q", encoding)
	}
	return Parse(r, opts...)
}

// FileLoader loads descriptor tables from a fixed path.
type FileLoader struct {
	Path     string
	Encoding string
	Options  []Option
}

func (l FileLoader) Load(ctx context.Context) (*Tables, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if l.Path == "" {
		return nil, fmt.Errorf("no a2l path configured")
	}
	return ParseFile(l.Path, l.Encoding, l.Options...)
}
