package models

import "time"

// Outcome is the result of one record's run.
type Outcome struct {
	RecordID     int64
	OwnerID      string
	Stage        Stage
	ArtifactName string
	ArtifactURL  string
	DocumentID   string
	Err          error
	// Skipped is set when the record was not worked on: another run held its
	// lease, it was no longer pending, or the run was shutting down.
	Skipped   bool
	StartedAt time.Time
	Duration  time.Duration
}

func (o Outcome) Succeeded() bool {
	return o.Err == nil && !o.Skipped && o.Stage == StageCommitted
}

// BatchReport collects outcomes in the order records were fetched.
type BatchReport struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Batches    int
	Outcomes   []Outcome
}

func (r *BatchReport) Counts() (succeeded, failed, skipped int) {
	for _, o := range r.Outcomes {
		switch {
		case o.Skipped:
			skipped++
		case o.Succeeded():
			succeeded++
		default:
			failed++
		}
	}
	return succeeded, failed, skipped
}
