package fetch

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/danmuck/toolbox/internal/logging"
)

var (
	ErrMemberNotFound = errors.New("fetch: archive member not found")
	ErrCorruptArchive = errors.New("fetch: corrupt archive")
)

// UnpackGzip inflates a single-member gzip file at src into dst and removes
// src on success. A partial dst is removed on failure.
func UnpackGzip(src, dst string) error {
	if err := inflateGzip(src, dst); err != nil {
		_ = os.Remove(dst)
		return err
	}
	if err := os.Remove(src); err != nil {
		log := logging.For("fetch")
		log.Debug().Err(err).Str("path", src).Msg("gzip source not removed")
	}
	return nil
}

func inflateGzip(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	zr, err := gzip.NewReader(in)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorruptArchive, src, err)
	}
	defer zr.Close()
	zr.Multistream(false)

	if err := writeFile(dst, zr); err != nil {
		if isInflateErr(err) {
			return fmt.Errorf("%w: %s: %v", ErrCorruptArchive, src, err)
		}
		return err
	}
	return nil
}

const (
	localHeaderSig  = 0x04034b50
	localHeaderLen  = 30
	methodStored    = 0
	methodDeflate   = 8
	flagDescriptor  = 0x8
	offFlags        = 6
	offMethod       = 8
	offCompressed   = 18
	offNameLen      = 26
	offExtraLen     = 28
	signatureLength = 4
)

// UnpackZipMember extracts the first entry named member, or ending in
// "/"+member, into dst by scanning local file headers. The central directory
// is never read. The archive is removed only on success.
func UnpackZipMember(archive, member, dst string) error {
	data, err := os.ReadFile(archive)
	if err != nil {
		return err
	}
	payload, err := findMember(data, member)
	if err != nil {
		return fmt.Errorf("%w: %s in %s", err, member, archive)
	}
	if err := writeFile(dst, bytes.NewReader(payload)); err != nil {
		_ = os.Remove(dst)
		return err
	}
	if err := os.Remove(archive); err != nil {
		log := logging.For("fetch")
		log.Debug().Err(err).Str("path", archive).Msg("zip archive not removed")
	}
	return nil
}

func findMember(data []byte, member string) ([]byte, error) {
	offset := 0
	for offset+signatureLength <= len(data) {
		if binary.LittleEndian.Uint32(data[offset:]) != localHeaderSig {
			offset++
			continue
		}
		if offset+localHeaderLen > len(data) {
			offset++
			continue
		}
		hdr := data[offset:]
		flags := binary.LittleEndian.Uint16(hdr[offFlags:])
		method := binary.LittleEndian.Uint16(hdr[offMethod:])
		compressed := int(binary.LittleEndian.Uint32(hdr[offCompressed:]))
		nameLen := int(binary.LittleEndian.Uint16(hdr[offNameLen:]))
		extraLen := int(binary.LittleEndian.Uint16(hdr[offExtraLen:]))

		nameStart := offset + localHeaderLen
		dataStart := nameStart + nameLen + extraLen
		if dataStart > len(data) || compressed < 0 || dataStart+compressed > len(data) {
			offset++
			continue
		}
		name := string(data[nameStart : nameStart+nameLen])
		body := data[dataStart : dataStart+compressed]
		streamed := flags&flagDescriptor != 0 && compressed == 0

		if name == member || strings.HasSuffix(name, "/"+member) {
			switch method {
			case methodStored:
				if !streamed {
					return append([]byte(nil), body...), nil
				}
			case methodDeflate:
				if streamed {
					// Sizes live in a trailing descriptor; the deflate stream
					// marks its own end.
					body = data[dataStart:]
				}
				out, err := io.ReadAll(flate.NewReader(bytes.NewReader(body)))
				if err != nil {
					return nil, fmt.Errorf("%w: inflate %s: %v", ErrCorruptArchive, name, err)
				}
				return out, nil
			}
		}
		offset = dataStart + compressed
	}
	return nil, ErrMemberNotFound
}

func writeFile(dst string, r io.Reader) error {
	f, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	_, err = io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

func isInflateErr(err error) bool {
	var corrupt flate.CorruptInputError
	return errors.As(err, &corrupt) ||
		errors.Is(err, gzip.ErrChecksum) ||
		errors.Is(err, gzip.ErrHeader) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}
