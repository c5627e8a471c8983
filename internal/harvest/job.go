// Package harvest runs the per-paper job state machine and the worker pool
// that drives jobs over an identifier range.
package harvest

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/DinhLiu/arXiv-Crawler/internal/arxiv"
	"github.com/DinhLiu/arXiv-Crawler/internal/ident"
	"github.com/DinhLiu/arXiv-Crawler/internal/monitor"
	"github.com/DinhLiu/arXiv-Crawler/internal/sanitize"
	"github.com/DinhLiu/arXiv-Crawler/internal/scholar"
)

// MetadataSource provides paper metadata and raw source bundles.
type MetadataSource interface {
	FetchMetadata(ctx context.Context, id ident.ID) (arxiv.Metadata, int, error)
	DownloadSource(ctx context.Context, id ident.ID, version int) ([]byte, error)
}

// ReferenceSource provides the paper's direct reference record.
type ReferenceSource interface {
	FetchReferences(ctx context.Context, id ident.ID) (map[string]scholar.Reference, error)
}

// Sanitizer filters a raw source bundle to the retained entries.
type Sanitizer interface {
	Sanitize(archive []byte) ([]sanitize.Entry, error)
}

// OutputManager persists the per-paper artifact layout.
type OutputManager interface {
	WriteMetadata(ctx context.Context, id ident.ID, metadata any) error
	WriteReferences(ctx context.Context, id ident.ID, references any) error
	WriteVersionFiles(ctx context.Context, id ident.ID, version int, entries []sanitize.Entry) (int64, error)
}

// Monitor brackets a job with resource sampling and records its disk
// footprint. Results never feed back into job logic.
type Monitor interface {
	Start(jobID string)
	Stop(jobID string)
	RecordDiskStats(jobID string, stats monitor.DiskStats)
}

// nopMonitor stands in when monitoring is disabled.
type nopMonitor struct{}

func (nopMonitor) Start(string)                              {}
func (nopMonitor) Stop(string)                               {}
func (nopMonitor) RecordDiskStats(string, monitor.DiskStats) {}

// Job processes one paper end to end: metadata, then each source version in
// increasing order, then references. A metadata fetch failure aborts the job
// since the version count is unknowable; any later failure, including a
// failed metadata write, is recorded and the job continues.
type Job struct {
	ID      ident.ID
	Meta    MetadataSource
	Refs    ReferenceSource
	San     Sanitizer
	Output  OutputManager
	Monitor Monitor
	// DirSize reports the paper directory's on-disk size for disk stats.
	// Optional; zero when unset.
	DirSize func(id ident.ID) int64
	Logger  *zap.Logger
}

// Run executes the job and returns its outcome. Run never panics outward
// and never returns an error; every failure lands in the outcome.
func (j *Job) Run(ctx context.Context) Outcome {
	start := time.Now()
	logger := j.logger().With(zap.String("paper", j.ID.String()))
	mon := j.monitor()

	dir := j.ID.DirName()
	mon.Start(dir)
	defer mon.Stop(dir)

	outcome := Outcome{ID: j.ID}
	fail := func(stage Stage, version int, err error) {
		outcome.Failures = append(outcome.Failures, StageError{Stage: stage, Version: version, Err: err})
		logger.Warn("stage failed",
			zap.String("stage", string(stage)),
			zap.Int("version", version),
			zap.Error(err),
		)
	}

	meta, latest, err := j.Meta.FetchMetadata(ctx, j.ID)
	if err != nil {
		fail(StageMetadata, 0, err)
		outcome.Status = StatusFailure
		outcome.Duration = time.Since(start)
		return outcome
	}
	// A failed metadata write only loses that one artifact; the versions
	// and references are still worth harvesting.
	if err := j.Output.WriteMetadata(ctx, j.ID, meta); err != nil {
		fail(StagePersist, 0, err)
	}

	var tarBytes, processedBytes int64
	for v := 1; v <= latest; v++ {
		if err := ctx.Err(); err != nil {
			fail(StageInternal, v, err)
			break
		}

		archive, err := j.Meta.DownloadSource(ctx, j.ID, v)
		if err != nil {
			fail(StageDownload, v, err)
			continue
		}
		tarBytes += int64(len(archive))

		entries, err := j.San.Sanitize(archive)
		if err != nil {
			fail(StageSanitize, v, err)
			continue
		}

		written, err := j.Output.WriteVersionFiles(ctx, j.ID, v, entries)
		processedBytes += written
		if err != nil {
			fail(StagePersist, v, err)
			continue
		}
		logger.Debug("version persisted",
			zap.Int("version", v),
			zap.Int64("bytes", written),
		)
	}

	if ctx.Err() == nil {
		refs, err := j.Refs.FetchReferences(ctx, j.ID)
		if err != nil {
			fail(StageReferences, 0, err)
		} else if err := j.Output.WriteReferences(ctx, j.ID, refs); err != nil {
			fail(StagePersist, 0, err)
		}
	}

	var dirSize int64
	if j.DirSize != nil {
		dirSize = j.DirSize(j.ID)
	}
	mon.RecordDiskStats(dir, monitor.DiskStats{
		TotalVersions:      latest,
		TotalTarSize:       tarBytes,
		TotalProcessedSize: processedBytes,
		PaperDirectorySize: dirSize,
	})

	if len(outcome.Failures) == 0 {
		outcome.Status = StatusSuccess
	} else {
		outcome.Status = StatusPartialFailure
	}
	outcome.Duration = time.Since(start)
	return outcome
}

func (j *Job) logger() *zap.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return zap.NewNop()
}

func (j *Job) monitor() Monitor {
	if j.Monitor != nil {
		return j.Monitor
	}
	return nopMonitor{}
}
