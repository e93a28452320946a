// Package sealed obfuscates state files at rest.
//
// The transform is a repeating-key XOR over the UTF-16 code units of the text,
// re-encoded as UTF-8 and then as standard base64. Working on code units keeps
// files interchangeable with the external config editor for non-ASCII values.
// The key is compiled into the binary, so this only keeps credentials away from
// casual inspection. It offers no confidentiality against anyone who can read
// both the files and the program.
package sealed

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"unicode/utf16"
	"unicode/utf8"
)

// DefaultKey is shared with the external config editor.
const DefaultKey = "minebot-toolbox-xor-key-2024"

var (
	ErrDecode   = errors.New("sealed: decode failed")
	ErrEmptyKey = errors.New("sealed: empty key")
)

// Codec encodes and decodes opaque blobs with a fixed key.
type Codec struct {
	key []uint16
}

// New returns a codec for key. An empty key is rejected.
func New(key string) (*Codec, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	return &Codec{key: utf16.Encode([]rune(key))}, nil
}

// Default returns the codec used for every file the toolbox writes.
func Default() *Codec {
	return &Codec{key: utf16.Encode([]rune(DefaultKey))}
}

// xor transforms text unit by unit. A surrogate unit stays a surrogate under
// an ASCII key, so pairs survive the round trip through UTF-8.
func (c *Codec) xor(text []byte) []uint16 {
	units := utf16.Encode([]rune(string(text)))
	for i := range units {
		units[i] ^= c.key[i%len(c.key)]
	}
	return units
}

// Encode returns the opaque text form of plain. Invalid UTF-8 in plain is
// replaced with U+FFFD.
func (c *Codec) Encode(plain []byte) string {
	return base64.StdEncoding.EncodeToString([]byte(string(utf16.Decode(c.xor(plain)))))
}

// Decode reverses Encode. Input that is not valid base64, or that does not
// decode to text, returns ErrDecode and no data.
func (c *Codec) Decode(opaque string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(string(bytes.TrimSpace([]byte(opaque))))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if !utf8.Valid(raw) {
		return nil, fmt.Errorf("%w: payload is not text", ErrDecode)
	}
	units := c.xor(raw)
	runes := utf16.Decode(units)
	if !slices.Equal(utf16.Encode(runes), units) {
		return nil, fmt.Errorf("%w: unpaired surrogate", ErrDecode)
	}
	return []byte(string(runes)), nil
}

// ReadFile loads and decodes path. Filesystem errors are returned as is.
func (c *Codec) ReadFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return c.Decode(string(data))
}

// WriteFile encodes plain into path, replacing it atomically.
func (c *Codec) WriteFile(path string, plain []byte, perm os.FileMode) error {
	return WriteAtomic(path, []byte(c.Encode(plain)), perm)
}

// WriteAtomic writes data to a temp file next to path and renames it over path.
func WriteAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}
