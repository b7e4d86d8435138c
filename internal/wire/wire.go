package wire

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"errors"
	"io"
)

const version byte = 1

var (
	ErrCorrupt  = errors.New("cachemgr: corrupt compressed frame")
	ErrTooLarge = errors.New("cachemgr: decompressed payload exceeds limit")

	// a leading NUL never starts JSON text, a msgpack map or a CBOR map,
	// so framed payloads are distinguishable from raw serializer output.
	magic = [...]byte{0x00, 'G', 'Z'}
)

const hdr = len(magic) + 1 + 4

// IsCompressed reports whether b carries the compression marker.
func IsCompressed(b []byte) bool {
	return len(b) >= len(magic) && bytes.Equal(b[:len(magic)], magic[:])
}

// Compress: magic(3) | ver(1) | rawLen(u32 be) | gzip(payload)
func Compress(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(hdr + len(payload)/2)

	buf.Write(magic[:])
	buf.WriteByte(version)

	var u4 [4]byte
	binary.BigEndian.PutUint32(u4[:], uint32(len(payload)))
	buf.Write(u4[:])

	zw, err := gzip.NewWriterLevel(&buf, gzip.BestSpeed)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(payload); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unpack returns b unchanged when it is not a compressed frame, otherwise the
// decompressed payload. maxSize <= 0 disables the size bound.
func Unpack(b []byte, maxSize int) ([]byte, error) {
	if !IsCompressed(b) {
		return b, nil
	}
	if len(b) < hdr || b[len(magic)] != version {
		return nil, ErrCorrupt
	}
	rawLen := int(binary.BigEndian.Uint32(b[len(magic)+1 : hdr]))
	if maxSize > 0 && rawLen > maxSize {
		return nil, ErrTooLarge
	}

	zr, err := gzip.NewReader(bytes.NewReader(b[hdr:]))
	if err != nil {
		return nil, ErrCorrupt
	}
	defer zr.Close()

	out := make([]byte, 0, rawLen)
	w := bytes.NewBuffer(out)
	// read one byte past the announced length to catch lying headers
	n, err := io.Copy(w, io.LimitReader(zr, int64(rawLen)+1))
	if err != nil {
		return nil, ErrCorrupt
	}
	if int(n) != rawLen {
		return nil, ErrCorrupt
	}
	return w.Bytes(), nil
}
