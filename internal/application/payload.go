package application

import (
	"bytes"
	"encoding/json"
)

type pagedEnvelope struct {
	Results json.RawMessage `json:"results"`
}

// decodePayload accepts either a bare document or a paginated
// {"results": [...]} envelope.
func decodePayload(payload []byte, out any) error {
	err := json.Unmarshal(payload, out)
	if err == nil {
		return nil
	}

	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return err
	}
	var envelope pagedEnvelope
	if envErr := json.Unmarshal(trimmed, &envelope); envErr != nil || len(envelope.Results) == 0 {
		return err
	}
	return json.Unmarshal(envelope.Results, out)
}
