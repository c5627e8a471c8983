package harvest

import (
	"fmt"
	"time"

	"github.com/DinhLiu/arXiv-Crawler/internal/ident"
)

// Stage names the pipeline step a failure was observed in.
type Stage string

const (
	StageMetadata   Stage = "metadata"
	StageDownload   Stage = "download"
	StageSanitize   Stage = "sanitize"
	StagePersist    Stage = "persist"
	StageReferences Stage = "references"
	StageInternal   Stage = "internal"
)

// Status is the final classification of one paper job.
type Status string

const (
	// StatusSuccess means every stage completed.
	StatusSuccess Status = "success"
	// StatusPartialFailure means metadata was persisted but at least one
	// version or the reference fetch failed.
	StatusPartialFailure Status = "partial_failure"
	// StatusFailure means the job produced nothing usable.
	StatusFailure Status = "failure"
)

// StageError records one stage failure inside a job. Version is zero for
// stages that are not version-scoped.
type StageError struct {
	Stage   Stage
	Version int
	Err     error
}

func (e StageError) Error() string {
	if e.Version > 0 {
		return fmt.Sprintf("%s stage (v%d): %v", e.Stage, e.Version, e.Err)
	}
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

func (e StageError) Unwrap() error {
	return e.Err
}

// Outcome is the final report of one paper job. Jobs are never retried at
// the orchestrator level; the outcome is the whole story.
type Outcome struct {
	ID       ident.ID
	Status   Status
	Failures []StageError
	Duration time.Duration
}

// FailedStages returns the distinct stage names present in Failures, in
// first-seen order.
func (o Outcome) FailedStages() []string {
	seen := make(map[Stage]struct{}, len(o.Failures))
	var out []string
	for _, f := range o.Failures {
		if _, ok := seen[f.Stage]; ok {
			continue
		}
		seen[f.Stage] = struct{}{}
		out = append(out, string(f.Stage))
	}
	return out
}

// Summary aggregates outcomes across one run.
type Summary struct {
	Succeeded int
	Partial   int
	Failed    int
}

// Summarize counts outcomes per status.
func Summarize(outcomes []Outcome) Summary {
	var s Summary
	for _, o := range outcomes {
		switch o.Status {
		case StatusSuccess:
			s.Succeeded++
		case StatusPartialFailure:
			s.Partial++
		default:
			s.Failed++
		}
	}
	return s
}
