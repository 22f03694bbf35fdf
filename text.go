package ftpfs

import (
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
)

// DefaultPathEncoding is the path encoding assumed for sessions,
// matching the traditional FTP behavior of passing bytes through
// unaltered.
const DefaultPathEncoding = "latin-1"

// encodingByName resolves an encoding name as reported by
// Session.Encoding to a codec. The common spellings of latin-1 and
// UTF-8 are recognized directly; everything else goes through the
// IANA registry.
func encodingByName(name string) (encoding.Encoding, error) {
	switch strings.ToLower(name) {
	case "latin-1", "latin1", "iso-8859-1", "iso8859-1":
		return charmap.ISO8859_1, nil
	case "utf-8", "utf8":
		return unicode.UTF8, nil
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil || enc == nil {
		return nil, fmt.Errorf("unknown path encoding %q", name)
	}
	return enc, nil
}

// AsText converts a path given as text or bytes to text. Byte paths
// are decoded with the session's declared encoding; if the session
// factory produced sessions without one, the conversion fails with an
// error matching ErrNoEncoding. Values of any other type fail with
// ErrTypeMismatch.
func (h *Host) AsText(path any) (string, error) {
	switch p := path.(type) {
	case string:
		return p, nil
	case []byte:
		if h.enc == nil {
			return "", ErrNoEncoding
		}
		decoded, err := h.enc.NewDecoder().Bytes(p)
		if err != nil {
			return "", err
		}
		return string(decoded), nil
	default:
		return "", fmt.Errorf("%w: unsupported path type %T", ErrTypeMismatch, path)
	}
}

// AsBytes converts a text path to its byte representation in the
// session's declared encoding. Fails with an error matching
// ErrNoEncoding when the session has none.
func (h *Host) AsBytes(path string) ([]byte, error) {
	if h.enc == nil {
		return nil, ErrNoEncoding
	}
	return h.enc.NewEncoder().Bytes([]byte(path))
}

// SameKindAs returns the text path converted to the kind of the
// reference: text stays text, a byte reference yields the encoded
// bytes. Values of any other type fail with ErrTypeMismatch.
func (h *Host) SameKindAs(reference any, path string) (any, error) {
	switch reference.(type) {
	case string:
		return path, nil
	case []byte:
		return h.AsBytes(path)
	default:
		return nil, fmt.Errorf("%w: unsupported path type %T", ErrTypeMismatch, reference)
	}
}

// SameKind verifies that all given paths share one string kind.
// Mixing text and byte paths in a single call fails with an error
// matching ErrTypeMismatch.
func SameKind(paths ...any) error {
	sawText, sawBytes := false, false
	for _, p := range paths {
		switch p.(type) {
		case string:
			sawText = true
		case []byte:
			sawBytes = true
		default:
			return fmt.Errorf("%w: unsupported path type %T", ErrTypeMismatch, p)
		}
	}
	if sawText && sawBytes {
		return ErrTypeMismatch
	}
	return nil
}
