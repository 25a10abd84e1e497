package api

import "time"

// Status is the lifecycle state of a workflow instance or of a single job.
type Status string

const (
	StatusNotStarted Status = "NOT_STARTED"
	StatusStarted    Status = "STARTED"
	StatusRunning    Status = "RUNNING"
	StatusPaused     Status = "PAUSED"
	StatusSuccess    Status = "SUCCESS"
	StatusFailed     Status = "FAILED"
	StatusFinished   Status = "FINISHED"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusNotStarted, StatusStarted, StatusRunning, StatusPaused,
		StatusSuccess, StatusFailed, StatusFinished:
		return true
	}
	return false
}

// Terminal reports whether a workflow in status s will not make progress
// anymore.
func (s Status) Terminal() bool {
	return s == StatusFailed || s == StatusFinished || s == StatusSuccess
}

// AggregateStatus folds a list of statuses into a single one:
//
//   - if every entry is identical, that value is returned;
//   - otherwise any FAILED entry yields FAILED;
//   - otherwise any NOT_STARTED, STARTED or RUNNING entry yields RUNNING;
//   - anything else yields FAILED.
//
// SUCCESS is only ever returned when all entries are SUCCESS. An empty list
// yields FAILED.
func AggregateStatus(statuses []Status) Status {
	if len(statuses) == 0 {
		return StatusFailed
	}

	first := statuses[0]
	identical := true
	for _, s := range statuses[1:] {
		if s != first {
			identical = false
			break
		}
	}
	if identical {
		return first
	}

	agg := StatusFailed
	for _, s := range statuses {
		switch s {
		case StatusNotStarted, StatusRunning, StatusStarted:
			agg = StatusRunning
		}
	}
	for _, s := range statuses {
		if s == StatusFailed {
			return StatusFailed
		}
	}
	return agg
}

// DateFormat is the layout used for every timestamp stored in a workflow
// context or a monitoring document.
const DateFormat = "2006-01-02 15:04:05"

// Timestamp formats t using DateFormat in UTC.
func Timestamp(t time.Time) string {
	return t.UTC().Format(DateFormat)
}
