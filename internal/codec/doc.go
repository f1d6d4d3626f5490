// Package codec converts events to and from their wire form.
//
// Three interchangeable codecs:
//   - json: kind-tagged JSON, human readable
//   - gob: compact binary via encoding/gob
//   - proto: protobuf wire format via google.protobuf.Struct
//
// Round-trips are lossless for every event kind. Serialization happens only
// at real network boundaries (NATS, DLQ storage); the in-process broker
// hands subscribers the original event object.
package codec
