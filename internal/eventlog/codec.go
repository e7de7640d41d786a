package eventlog

import (
	"bytes"
	"encoding/gob"
)

// Encode serializes arbitrary Go values using encoding/gob.
// Callers must ensure that values are gob-encodable; concrete types carried
// inside interface-typed fields must be registered with gob.Register.
func Encode(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)

	// Important: encode as interface{} so payloads can be decoded into
	// interface{} without knowing the concrete type up front.
	var iv = v
	if err := enc.Encode(&iv); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode deserializes a payload produced by Encode. Empty payloads decode to
// nil.
func Decode(data []byte) (any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var iv any
	dec := gob.NewDecoder(bytes.NewBuffer(data))
	if err := dec.Decode(&iv); err != nil {
		return nil, err
	}
	return iv, nil
}
