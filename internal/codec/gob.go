package codec

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/rickgao/marketbus/internal/event"
)

func init() {
	// Concrete types must be registered before gob can move them
	// through the event.Event interface.
	gob.Register(&event.Candle{})
	gob.Register(&event.Status{})
	gob.Register(&event.Breadth{})
	gob.Register(&event.Trend{})
}

// GobCodec is the compact binary codec.
type GobCodec struct{}

func (*GobCodec) Name() string { return NameGob }

func (*GobCodec) Encode(ev event.Event) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&ev); err != nil {
		return nil, fmt.Errorf("gob encode %s: %w", ev.Kind(), err)
	}
	return buf.Bytes(), nil
}

func (c *GobCodec) Decode(data []byte) (event.Event, error) {
	var ev event.Event
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&ev); err != nil {
		return nil, &DecodeError{Codec: c.Name(), Err: err}
	}
	return ev, nil
}
