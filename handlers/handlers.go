// Package handlers ships the reference handlers for the three routed message
// types: rule-engine, llm-config-manager, and job-executor. Each registers
// itself by name at init; the workflow consumer resolves names from its
// queue table.
package handlers

import (
	"encoding/json"
	"fmt"
)

// decodePayload re-marshals a generic payload map into a typed struct.
// Unknown fields are ignored; producers may carry extra envelope keys.
func decodePayload(payload map[string]any, out any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}
