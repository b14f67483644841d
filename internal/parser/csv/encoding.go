package csv

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// decoderFor maps a parser "encoding" option onto a text decoder. UTF-8 input
// passes through a BOM-stripping decoder; single-byte code pages are widened
// to UTF-8 so every downstream string is valid UTF-8.
func decoderFor(name string) (encoding.Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "utf-8", "utf8":
		return unicode.UTF8BOM, nil
	case "iso-8859-1", "latin1", "latin-1":
		return charmap.ISO8859_1, nil
	case "windows-1252", "cp1252":
		return charmap.Windows1252, nil
	default:
		return nil, fmt.Errorf("csv: unsupported encoding %q", name)
	}
}

// decodeReader wraps r so reads yield UTF-8. Close is forwarded to r.
func decodeReader(r io.ReadCloser, enc encoding.Encoding) io.ReadCloser {
	type rc struct {
		io.Reader
		io.Closer
	}
	return &rc{
		Reader: transform.NewReader(r, enc.NewDecoder()),
		Closer: r,
	}
}
