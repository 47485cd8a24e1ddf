package syncer

import (
	"time"
)

type Status string

const (
	StatusOK            Status = "ok"
	StatusPartial       Status = "partial"
	StatusFailedToStart Status = "failed_to_start"
	StatusFailed        Status = "failed"
	StatusInterrupted   Status = "interrupted"
)

// Transition is one step of the session state machine.
type Transition struct {
	Phase      Phase     `json:"phase"`
	Collection string    `json:"collection,omitempty"`
	At         time.Time `json:"at"`
}

type RecordFailure struct {
	GUID   string `json:"guid"`
	Reason string `json:"reason"`
}

type CollectionReport struct {
	Name            string `json:"name"`
	DownloadSkipped bool   `json:"downloadSkipped,omitempty"`
	Fetched         int    `json:"fetched"`
	Applied         int    `json:"applied"`
	Failed          int    `json:"failed"`
	Uploaded        int    `json:"uploaded"`
	UploadRejected  int    `json:"uploadRejected"`
	// UploadConflict means the server changed during the session and the
	// upload was postponed to the next sync.
	UploadConflict     bool            `json:"uploadConflict,omitempty"`
	ValidationFailures []RecordFailure `json:"validationFailures,omitempty"`
	DecryptFailures    []string        `json:"decryptFailures,omitempty"`
	UploadFailures     []RecordFailure `json:"uploadFailures,omitempty"`
	Error              string          `json:"error,omitempty"`
}

func (c *CollectionReport) clean() bool {
	return c.Failed == 0 && c.UploadRejected == 0 && !c.UploadConflict &&
		len(c.DecryptFailures) == 0 && c.Error == ""
}

// Report describes one sync session. It is safe to serialize as JSON for
// telemetry.
type Report struct {
	Status      Status              `json:"status"`
	Started     time.Time           `json:"started"`
	Finished    time.Time           `json:"finished"`
	Transitions []Transition        `json:"transitions"`
	Collections []*CollectionReport `json:"collections"`
	Error       string              `json:"error,omitempty"`
	// Err is the error that ended the session, if any.
	Err error `json:"-"`
}

// Phase is the last phase the session reached.
func (r *Report) Phase() Phase {
	if len(r.Transitions) == 0 {
		return PhaseIdle
	}
	return r.Transitions[len(r.Transitions)-1].Phase
}

// Phases lists the visited phases in order.
func (r *Report) Phases() []Phase {
	out := make([]Phase, len(r.Transitions))
	for i, t := range r.Transitions {
		out[i] = t.Phase
	}
	return out
}

func (r *Report) Collection(name string) *CollectionReport {
	for _, c := range r.Collections {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func (r *Report) collection(name string) *CollectionReport {
	if c := r.Collection(name); c != nil {
		return c
	}
	c := &CollectionReport{Name: name}
	r.Collections = append(r.Collections, c)
	return c
}
