package codec

import (
	"fmt"

	"github.com/rickgao/marketbus/internal/event"
)

// Codec names accepted in configuration.
const (
	NameJSON  = "json"
	NameGob   = "gob"
	NameProto = "proto"
)

// Codec encodes events into a kind-tagged wire form and back.
type Codec interface {
	// Name returns the codec's registry name.
	Name() string

	// Encode converts an event into wire bytes.
	Encode(ev event.Event) ([]byte, error)

	// Decode converts wire bytes back into an event. A malformed payload
	// yields a *DecodeError; callers count it and drop the message.
	Decode(data []byte) (event.Event, error)
}

// DecodeError reports a payload that could not be decoded. Messages that
// fail to decode are dropped, never retried.
type DecodeError struct {
	Codec string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s decode: %v", e.Codec, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// New returns the codec registered under name.
func New(name string) (Codec, error) {
	switch name {
	case NameJSON:
		return &JSONCodec{}, nil
	case NameGob:
		return &GobCodec{}, nil
	case NameProto:
		return &ProtoCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}
