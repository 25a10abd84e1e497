// Package message defines the envelope exchanged between the manager and the
// step workers, and its JSON codec.
package message

import (
	"encoding/json"
	"fmt"

	"github.com/petrijr/disturb/pkg/api"
)

// Type identifies the purpose of an envelope.
type Type string

const (
	TypeWorkflowControl Type = "WF-CONTROL"
	TypeStepControl     Type = "STEP-CTRL"
	TypeStepAck         Type = "STEP-ACK"
)

// ActionStart is the only action currently understood.
const ActionStart = "start"

// Envelope is the wire message. Result carries a JSON document encoded as a
// string, as produced by step workers.
type Envelope struct {
	ID       string      `json:"id"`
	Type     Type        `json:"type"`
	Action   string      `json:"action,omitempty"`
	StepCode string      `json:"stepCode,omitempty"`
	JobID    *int        `json:"jobId,omitempty"`
	Payload  api.Payload `json:"payload,omitempty"`
	Result   string      `json:"result,omitempty"`
}

// Known reports whether t is one of the defined message types.
func (t Type) Known() bool {
	return t == TypeWorkflowControl || t == TypeStepControl || t == TypeStepAck
}

// NewStart builds the workflow-control envelope that starts workflow id.
func NewStart(id string, payload api.Payload) *Envelope {
	return &Envelope{ID: id, Type: TypeWorkflowControl, Action: ActionStart, Payload: payload}
}

// NewStepControl builds the envelope that asks a step worker to run a job.
func NewStepControl(id, stepCode string, jobID int, payload api.Payload) *Envelope {
	return &Envelope{
		ID:       id,
		Type:     TypeStepControl,
		Action:   ActionStart,
		StepCode: stepCode,
		JobID:    &jobID,
		Payload:  payload,
	}
}

// NewStepAck builds the envelope reporting the result of a job.
func NewStepAck(id, stepCode string, jobID int, result api.StepResult) (*Envelope, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode step result: %w", err)
	}
	return &Envelope{
		ID:       id,
		Type:     TypeStepAck,
		StepCode: stepCode,
		JobID:    &jobID,
		Result:   string(raw),
	}, nil
}

// Job returns the job id and whether it was present.
func (e *Envelope) Job() (int, bool) {
	if e.JobID == nil {
		return 0, false
	}
	return *e.JobID, true
}

// Parse decodes and validates an envelope. Envelopes of unknown type are
// returned without error so callers can decide how to report them.
func Parse(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", api.ErrMalformedMessage, err)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}

// Validate checks the fields required by the envelope's type.
func (e *Envelope) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("%w: missing id", api.ErrMalformedMessage)
	}
	switch e.Type {
	case TypeWorkflowControl:
		if e.Action == "" {
			return fmt.Errorf("%w: %s without action", api.ErrMalformedMessage, e.Type)
		}
	case TypeStepControl, TypeStepAck:
		if e.StepCode == "" {
			return fmt.Errorf("%w: %s without stepCode", api.ErrMalformedMessage, e.Type)
		}
		if e.JobID == nil {
			return fmt.Errorf("%w: %s without jobId", api.ErrMalformedMessage, e.Type)
		}
		if *e.JobID < 0 {
			return fmt.Errorf("%w: negative jobId %d", api.ErrMalformedMessage, *e.JobID)
		}
	}
	return nil
}

// Encode serializes the envelope.
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeResult decodes the string-encoded result document. An empty result
// decodes to the zero StepResult.
func (e *Envelope) DecodeResult() (api.StepResult, error) {
	var r api.StepResult
	if e.Result == "" {
		return r, nil
	}
	if err := json.Unmarshal([]byte(e.Result), &r); err != nil {
		return r, fmt.Errorf("%w: result: %v", api.ErrMalformedMessage, err)
	}
	return r, nil
}

func (e *Envelope) String() string {
	b, err := e.Encode()
	if err != nil {
		return fmt.Sprintf("%s/%s", e.Type, e.ID)
	}
	return string(b)
}
