package rq

import (
	"encoding/json"

	"github.com/DoNewsCode/core/contract"
)

var _ contract.Codec = jsonCodec{}

// jsonCodec is the default payload codec. The payload must be JSON because it is embedded verbatim in the
// stored message.
type jsonCodec struct{}

// Marshal serializes the payload to bytes. A json.RawMessage or []byte payload that is already valid JSON
// is kept as is.
func (c jsonCodec) Marshal(payload interface{}) ([]byte, error) {
	switch v := payload.(type) {
	case json.RawMessage:
		if json.Valid(v) {
			return v, nil
		}
	case []byte:
		if json.Valid(v) {
			return v, nil
		}
	}
	return json.Marshal(payload)
}

// Unmarshal reverses the bytes to payload
func (c jsonCodec) Unmarshal(data []byte, payload interface{}) error {
	return json.Unmarshal(data, payload)
}
