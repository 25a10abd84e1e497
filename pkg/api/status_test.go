package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAggregateStatus(t *testing.T) {
	cases := []struct {
		name string
		in   []Status
		want Status
	}{
		{"all success", []Status{StatusSuccess, StatusSuccess}, StatusSuccess},
		{"single running", []Status{StatusRunning}, StatusRunning},
		{"all not started", []Status{StatusNotStarted, StatusNotStarted}, StatusNotStarted},
		{"success and running", []Status{StatusSuccess, StatusRunning}, StatusRunning},
		{"success and started", []Status{StatusSuccess, StatusStarted}, StatusRunning},
		{"success and not started", []Status{StatusNotStarted, StatusSuccess}, StatusRunning},
		{"failed wins over running", []Status{StatusRunning, StatusFailed}, StatusFailed},
		{"failed wins over success", []Status{StatusSuccess, StatusFailed}, StatusFailed},
		{"success and finished", []Status{StatusSuccess, StatusFinished}, StatusFailed},
		{"success and paused", []Status{StatusSuccess, StatusPaused}, StatusFailed},
		{"empty", nil, StatusFailed},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, AggregateStatus(tc.in))
		})
	}
}

func TestAggregateStatusSuccessOnlyWhenUniform(t *testing.T) {
	all := []Status{StatusNotStarted, StatusStarted, StatusRunning, StatusPaused, StatusFailed, StatusFinished}
	for _, other := range all {
		got := AggregateStatus([]Status{StatusSuccess, other, StatusSuccess})
		if got == StatusSuccess {
			t.Fatalf("mixed SUCCESS/%s aggregated to SUCCESS", other)
		}
	}
}

func TestStatusHelpers(t *testing.T) {
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusFinished.Terminal())
	assert.False(t, StatusRunning.Terminal())
	assert.True(t, StatusPaused.Valid())
	assert.False(t, Status("DONE").Valid())
}

func TestTimestamp(t *testing.T) {
	ts := time.Date(2024, 3, 9, 7, 5, 1, 0, time.UTC)
	assert.Equal(t, "2024-03-09 07:05:01", Timestamp(ts))
}
