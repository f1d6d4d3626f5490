package codec

import (
	"encoding/json"
	"fmt"

	"github.com/rickgao/marketbus/internal/event"
)

// JSONCodec is the plain structured text codec.
type JSONCodec struct{}

// jsonEnvelope tags the payload with its event kind.
type jsonEnvelope struct {
	Kind event.Kind      `json:"kind"`
	Data json.RawMessage `json:"data"`
}

func (*JSONCodec) Name() string { return NameJSON }

func (*JSONCodec) Encode(ev event.Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("json encode %s: %w", ev.Kind(), err)
	}
	return json.Marshal(jsonEnvelope{Kind: ev.Kind(), Data: data})
}

func (c *JSONCodec) Decode(data []byte) (event.Event, error) {
	var env jsonEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &DecodeError{Codec: c.Name(), Err: err}
	}

	ev, err := event.New(env.Kind)
	if err != nil {
		return nil, &DecodeError{Codec: c.Name(), Err: err}
	}
	if err := json.Unmarshal(env.Data, ev); err != nil {
		return nil, &DecodeError{Codec: c.Name(), Err: err}
	}
	return ev, nil
}
