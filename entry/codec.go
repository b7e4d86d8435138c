package entry

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/unkn0wn-root/cachemgr/codec"
	"github.com/unkn0wn-root/cachemgr/internal/wire"
)

const (
	DefaultThreshold = 1024
	DefaultMaxSize   = 512 * 1024
)

var (
	ErrEncode   = errors.New("cachemgr: entry encode failed")
	ErrTooLarge = errors.New("cachemgr: entry exceeds maximum size")
	ErrCorrupt  = errors.New("cachemgr: corrupt entry")
)

// Codec turns entries into stored bytes and back.
// The zero value uses JSON, no compression and DefaultMaxSize.
type Codec struct {
	Serializer codec.Codec[Entry] // nil => codec.JSON
	Compress   bool               // adapter-wide default
	Threshold  int                // compress only above this many bytes; 0 => DefaultThreshold
	MaxSize    int                // serialized size limit; 0 => DefaultMaxSize, <0 disables
}

func (c Codec) serializer() codec.Codec[Entry] {
	if c.Serializer != nil {
		return c.Serializer
	}
	return codec.JSON[Entry]{}
}

func (c Codec) maxSize() int {
	switch {
	case c.MaxSize < 0:
		return 0
	case c.MaxSize == 0:
		return DefaultMaxSize
	}
	return c.MaxSize
}

// ShouldCompress combines the adapter default with a per-call override.
// A per-call true cannot enable compression the adapter has disabled.
func (c Codec) ShouldCompress(perCall *bool) bool {
	if !c.Compress {
		return false
	}
	return perCall == nil || *perCall
}

// Encode serializes e and compresses it when allowed and above threshold.
func (c Codec) Encode(e Entry, perCall *bool) ([]byte, error) {
	b, err := c.serializer().Encode(e)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	if max := c.maxSize(); max > 0 && len(b) > max {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrTooLarge, len(b), max)
	}
	threshold := c.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if c.ShouldCompress(perCall) && len(b) > threshold {
		z, err := wire.Compress(b)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrEncode, err)
		}
		return z, nil
	}
	return b, nil
}

// Decode reverses Encode. Payloads that are not envelopes but are valid JSON
// (raw counters written by INCRBY, values written by foreign clients) decode
// into an Entry carrying only Data.
func (c Codec) Decode(b []byte) (Entry, error) {
	raw, err := wire.Unpack(b, c.maxSize())
	if err != nil {
		return Entry{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	ser := codec.Limit[Entry]{Inner: c.serializer(), MaxDecode: c.maxSize()}
	e, err := ser.Decode(raw)
	if err == nil && e.Data != nil {
		return e, nil
	}
	if isScalarJSON(raw) {
		return Entry{Data: append(json.RawMessage(nil), raw...)}, nil
	}
	if err == nil {
		err = errors.New("missing data")
	}
	return Entry{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
}

func isScalarJSON(b []byte) bool {
	if len(b) == 0 || b[0] == '{' || b[0] == '[' {
		return false
	}
	return json.Valid(b)
}
