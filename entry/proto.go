package entry

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/unkn0wn-root/cachemgr/codec"
)

// Proto serializes entries as google.protobuf.Struct messages so non-Go
// consumers can read them with stock protobuf tooling. Numbers travel as
// doubles: integers beyond 2^53 lose precision.
type Proto struct {
	inner codec.Protobuf[*structpb.Struct]
}

var _ codec.Codec[Entry] = Proto{}

func NewProto() Proto {
	return Proto{inner: codec.NewProtobuf(func() *structpb.Struct { return &structpb.Struct{} })}
}

func (p Proto) Encode(e Entry) ([]byte, error) {
	var data any
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return nil, fmt.Errorf("proto entry data: %w", err)
	}
	fields := map[string]any{
		"data":      data,
		"createdAt": float64(e.CreatedAt),
	}
	if e.ExpiresAt != 0 {
		fields["expiresAt"] = float64(e.ExpiresAt)
	}
	if len(e.Metadata) > 0 {
		fields["metadata"] = e.Metadata
	}
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	return p.inner.Encode(s)
}

func (p Proto) Decode(b []byte) (Entry, error) {
	s, err := p.inner.Decode(b)
	if err != nil {
		return Entry{}, err
	}
	f := s.GetFields()
	dv, ok := f["data"]
	if !ok {
		return Entry{}, fmt.Errorf("proto entry: missing data")
	}
	data, err := json.Marshal(dv.AsInterface())
	if err != nil {
		return Entry{}, err
	}
	e := Entry{
		Data:      data,
		CreatedAt: int64(f["createdAt"].GetNumberValue()),
		ExpiresAt: int64(f["expiresAt"].GetNumberValue()),
	}
	if md := f["metadata"].GetStructValue(); md != nil {
		e.Metadata = md.AsMap()
	}
	return e, nil
}
