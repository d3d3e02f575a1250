package protocol

import "encoding/json"

// Envelope wraps one inbound frame: a type discriminator plus an opaque
// payload. Data stays raw until the normalizer knows the kind.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

func ParseEnvelope(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}
