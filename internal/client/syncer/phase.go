package syncer

import "fmt"

type Phase string

const (
	PhaseIdle                   Phase = "idle"
	PhaseAuthenticated          Phase = "authenticated"
	PhaseCollectionsInfoFetched Phase = "collections_info_fetched"
	PhaseDownloading            Phase = "downloading"
	PhaseMerging                Phase = "merging"
	PhaseUploading              Phase = "uploading"
	PhaseCompleted              Phase = "completed"
	PhaseInterrupted            Phase = "interrupted"
	PhaseFailed                 Phase = "failed"
)

func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseInterrupted || p == PhaseFailed
}

var transitions = map[Phase][]Phase{
	PhaseIdle:                   {PhaseAuthenticated},
	PhaseAuthenticated:          {PhaseCollectionsInfoFetched},
	PhaseCollectionsInfoFetched: {PhaseDownloading, PhaseUploading, PhaseCompleted},
	PhaseDownloading:            {PhaseMerging},
	PhaseMerging:                {PhaseUploading},
	PhaseUploading:              {PhaseDownloading, PhaseUploading, PhaseCompleted},
}

func canTransition(from, to Phase) bool {
	if from.Terminal() {
		return false
	}
	if to == PhaseInterrupted || to == PhaseFailed {
		return true
	}
	for _, p := range transitions[from] {
		if p == to {
			return true
		}
	}
	return false
}

type transitionError struct {
	from, to Phase
}

func (e *transitionError) Error() string {
	return fmt.Sprintf("invalid sync phase transition %s -> %s", e.from, e.to)
}
