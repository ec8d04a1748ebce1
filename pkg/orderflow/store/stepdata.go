package store

import (
	"encoding/json"
)

// stepDataVersion is the current on-disk format of a persisted stepData
// document. Increment when the envelope shape changes; the payload itself
// (a flat string map) is free to grow new keys without a version bump,
// mirroring the teacher flowgraph package's checkpoint.Checkpoint envelope
// (version + opaque payload), repurposed here for a step's key/value output
// instead of a whole graph-node state blob.
const stepDataVersion = 1

// stepDataEnvelope is the structured document persisted for
// SagaStepResult.StepData (§3). Keeping the payload opaque behind a
// versioned envelope is what lets the retry planner (C6) reconstruct
// SagaContext.Data without a brittle per-field schema migration.
type stepDataEnvelope struct {
	Version int               `json:"version"`
	Payload map[string]string `json:"payload"`
}

// MarshalStepData serialises a step's output map for durable storage.
func MarshalStepData(data map[string]string) ([]byte, error) {
	if data == nil {
		data = map[string]string{}
	}
	return json.Marshal(stepDataEnvelope{Version: stepDataVersion, Payload: data})
}

// UnmarshalStepData deserialises a previously persisted stepData document.
// Empty input yields an empty, non-nil map rather than an error, since a
// step may legitimately complete with no output (§8 boundary case).
func UnmarshalStepData(raw []byte) (map[string]string, error) {
	if len(raw) == 0 {
		return map[string]string{}, nil
	}
	var env stepDataEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	if env.Payload == nil {
		env.Payload = map[string]string{}
	}
	return env.Payload, nil
}
