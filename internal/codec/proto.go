package codec

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/rickgao/marketbus/internal/event"
)

// ProtoCodec is the schema'd binary codec. Events travel as a
// google.protobuf.Struct with a "kind" tag and a "data" body, so the wire
// format is standard protobuf without per-kind generated code.
//
// Struct stores every number as a float64, so int64 fields such as volume
// and timestamp round-trip exactly only up to 2^53. Microsecond timestamps
// stay below that bound until the year 2255; volumes above ~9e15 would lose
// precision.
type ProtoCodec struct{}

func (*ProtoCodec) Name() string { return NameProto }

func (*ProtoCodec) Encode(ev event.Event) ([]byte, error) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("proto encode %s: %w", ev.Kind(), err)
	}

	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("proto encode %s: %w", ev.Kind(), err)
	}

	body, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("proto encode %s: %w", ev.Kind(), err)
	}

	env := &structpb.Struct{Fields: map[string]*structpb.Value{
		"kind": structpb.NewStringValue(string(ev.Kind())),
		"data": structpb.NewStructValue(body),
	}}
	return proto.Marshal(env)
}

func (c *ProtoCodec) Decode(data []byte) (event.Event, error) {
	env := &structpb.Struct{}
	if err := proto.Unmarshal(data, env); err != nil {
		return nil, &DecodeError{Codec: c.Name(), Err: err}
	}

	kindVal, ok := env.Fields["kind"]
	if !ok {
		return nil, &DecodeError{Codec: c.Name(), Err: fmt.Errorf("missing kind field")}
	}
	body := env.Fields["data"].GetStructValue()
	if body == nil {
		return nil, &DecodeError{Codec: c.Name(), Err: fmt.Errorf("missing data field")}
	}

	ev, err := event.New(event.Kind(kindVal.GetStringValue()))
	if err != nil {
		return nil, &DecodeError{Codec: c.Name(), Err: err}
	}

	raw, err := body.MarshalJSON()
	if err != nil {
		return nil, &DecodeError{Codec: c.Name(), Err: err}
	}
	if err := json.Unmarshal(raw, ev); err != nil {
		return nil, &DecodeError{Codec: c.Name(), Err: err}
	}
	return ev, nil
}
