package harvest

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/DinhLiu/arXiv-Crawler/internal/ident"
	"github.com/DinhLiu/arXiv-Crawler/internal/metrics"
)

// ClientSet is one worker's private upstream clients. Each worker gets a
// fresh set so rate-limiter state is never shared; effective upstream rate
// scales linearly with worker count.
type ClientSet struct {
	Meta MetadataSource
	Refs ReferenceSource
}

// Pool fans a range of identifiers out over a fixed number of workers. Each
// worker processes its contiguous partition sequentially.
type Pool struct {
	// NewClients builds one worker's client set. Called once per worker.
	NewClients func() ClientSet
	San        Sanitizer
	Output     OutputManager
	Monitor    Monitor
	DirSize    func(id ident.ID) int64
	Logger     *zap.Logger
}

// Partition splits ids into at most n contiguous chunks whose sizes differ
// by at most one. The split is deterministic for a given input.
func Partition(ids []ident.ID, n int) [][]ident.ID {
	if n < 1 {
		n = 1
	}
	if n > len(ids) {
		n = len(ids)
	}
	if n == 0 {
		return nil
	}

	chunks := make([][]ident.ID, 0, n)
	base := len(ids) / n
	extra := len(ids) % n
	start := 0
	for i := 0; i < n; i++ {
		size := base
		if i < extra {
			size++
		}
		chunks = append(chunks, ids[start:start+size])
		start += size
	}
	return chunks
}

// Run processes ids with the given worker count and returns one outcome per
// identifier, in partition order. The only synchronization point is the
// fan-in at the end; workers never exchange state while running.
func (p *Pool) Run(ctx context.Context, ids []ident.ID, workers int) []Outcome {
	logger := p.logger()
	partitions := Partition(ids, workers)
	results := make([][]Outcome, len(partitions))

	var wg sync.WaitGroup
	for i, part := range partitions {
		wg.Add(1)
		go func(i int, part []ident.ID) {
			defer wg.Done()
			wlog := logger.Named("worker").With(zap.Int("index", i))
			clients := p.NewClients()
			out := make([]Outcome, 0, len(part))
			for _, id := range part {
				out = append(out, p.runSafe(ctx, clients, id, wlog))
			}
			results[i] = out
		}(i, part)
	}
	wg.Wait()

	outcomes := make([]Outcome, 0, len(ids))
	for _, part := range results {
		outcomes = append(outcomes, part...)
	}
	for _, o := range outcomes {
		switch o.Status {
		case StatusSuccess:
			metrics.PapersSucceeded.Inc()
		case StatusPartialFailure:
			metrics.PapersPartial.Inc()
		default:
			metrics.PapersFailed.Inc()
		}
	}
	return outcomes
}

// runSafe isolates one job: a panic becomes a failed outcome instead of
// taking down the worker's remaining partition.
func (p *Pool) runSafe(ctx context.Context, clients ClientSet, id ident.ID, logger *zap.Logger) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("job panicked",
				zap.String("paper", id.String()),
				zap.Any("panic", r),
			)
			outcome = Outcome{
				ID:     id,
				Status: StatusFailure,
				Failures: []StageError{{
					Stage: StageInternal,
					Err:   fmt.Errorf("panic: %v", r),
				}},
			}
		}
	}()

	job := &Job{
		ID:      id,
		Meta:    clients.Meta,
		Refs:    clients.Refs,
		San:     p.San,
		Output:  p.Output,
		Monitor: p.Monitor,
		DirSize: p.DirSize,
		Logger:  logger,
	}
	return job.Run(ctx)
}

func (p *Pool) logger() *zap.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return zap.NewNop()
}
