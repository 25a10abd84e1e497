package message

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/disturb/pkg/api"
)

func TestParseStepAck(t *testing.T) {
	raw := `{"id":"42","type":"STEP-ACK","stepCode":"fetch","jobId":3,"result":"{\"status\":\"SUCCESS\",\"data\":{\"n\":1}}"}`

	env, err := Parse([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, TypeStepAck, env.Type)

	job, ok := env.Job()
	require.True(t, ok)
	assert.Equal(t, 3, job)

	res, err := env.DecodeResult()
	require.NoError(t, err)
	assert.Equal(t, api.StatusSuccess, res.Status)
	assert.Equal(t, map[string]any{"n": float64(1)}, res.Data)
}

func TestParseRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"not json":           `{`,
		"missing id":         `{"type":"WF-CONTROL","action":"start"}`,
		"control w/o action": `{"id":"1","type":"WF-CONTROL"}`,
		"ack w/o step":       `{"id":"1","type":"STEP-ACK","jobId":0}`,
		"ack w/o job":        `{"id":"1","type":"STEP-ACK","stepCode":"a"}`,
		"negative job":       `{"id":"1","type":"STEP-CTRL","stepCode":"a","jobId":-1}`,
		"string job":         `{"id":"1","type":"STEP-CTRL","stepCode":"a","jobId":"x"}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(raw))
			require.Error(t, err)
			assert.True(t, errors.Is(err, api.ErrMalformedMessage))
		})
	}
}

func TestParseKeepsUnknownType(t *testing.T) {
	env, err := Parse([]byte(`{"id":"1","type":"PING"}`))
	require.NoError(t, err)
	assert.False(t, env.Type.Known())
}

func TestStepAckRoundTrip(t *testing.T) {
	env, err := NewStepAck("wf-1", "process", 2, api.StepResult{Status: api.StatusFailed, Info: "boom"})
	require.NoError(t, err)

	raw, err := env.Encode()
	require.NoError(t, err)

	back, err := Parse(raw)
	require.NoError(t, err)
	res, err := back.DecodeResult()
	require.NoError(t, err)
	assert.Equal(t, api.StatusFailed, res.Status)
	assert.Equal(t, "boom", res.Info)
}

func TestStepControlWireFormat(t *testing.T) {
	raw, err := NewStepControl("wf-1", "fetch", 0, api.Payload{"k": "v"}).Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"wf-1","type":"STEP-CTRL","action":"start","stepCode":"fetch","jobId":0,"payload":{"k":"v"}}`, string(raw))
}

func TestEmptyResultDecodesToZero(t *testing.T) {
	env := &Envelope{ID: "1", Type: TypeStepAck}
	res, err := env.DecodeResult()
	require.NoError(t, err)
	assert.Equal(t, api.StepResult{}, res)
}
