// Package monitor samples process memory while a paper job runs and records
// per-paper resource statistics as append-only JSONL under the output root.
package monitor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

const (
	ramStatsFile  = "ram_stats.jsonl"
	diskStatsFile = "disk_stats.jsonl"
)

// Sample is one memory observation taken while a job was running.
type Sample struct {
	RSSBytes          uint64  `json:"rss_bytes"`
	MemoryPercent     float32 `json:"memory_percent"`
	SystemUsedPercent float64 `json:"system_used_percent"`
	Timestamp         string  `json:"timestamp"`
}

// DiskStats summarizes the bytes a finished job left on disk.
type DiskStats struct {
	PaperID            string `json:"paper_id"`
	TotalVersions      int    `json:"total_versions"`
	TotalTarSize       int64  `json:"total_tar_size_bytes"`
	TotalProcessedSize int64  `json:"total_processed_size_bytes"`
	PaperDirectorySize int64  `json:"paper_directory_size_bytes"`
}

type ramRecord struct {
	Type           string   `json:"type"`
	PaperID        string   `json:"paper_id"`
	SampleInterval string   `json:"sample_interval"`
	SampleCount    int      `json:"sample_count"`
	Samples        []Sample `json:"samples"`
	Timestamp      string   `json:"timestamp"`
}

type session struct {
	stop    chan struct{}
	done    chan struct{}
	samples []Sample
}

// Sampler brackets jobs with background memory sampling. Start spawns a
// per-job goroutine; Stop joins it and appends the collected record.
type Sampler struct {
	root     string
	interval time.Duration
	logger   *zap.Logger
	proc     *process.Process

	mu       sync.Mutex
	sessions map[string]*session
}

// NewSampler builds a Sampler writing under root. A non-positive interval
// defaults to 500ms.
func NewSampler(root string, interval time.Duration, logger *zap.Logger) (*Sampler, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("attach to own process: %w", err)
	}
	return &Sampler{
		root:     root,
		interval: interval,
		logger:   logger,
		proc:     proc,
		sessions: make(map[string]*session),
	}, nil
}

// Start begins sampling for one job. Starting an already-started job is a
// no-op.
func (s *Sampler) Start(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[jobID]; ok {
		return
	}
	sess := &session{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	s.sessions[jobID] = sess

	go func() {
		defer close(sess.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-sess.stop:
				return
			case <-ticker.C:
				if sample, ok := s.takeSample(); ok {
					sess.samples = append(sess.samples, sample)
				}
			}
		}
	}()
}

// Stop ends sampling for the job and appends its record to ram_stats.jsonl.
// Stopping an unknown job is a no-op.
func (s *Sampler) Stop(jobID string) {
	s.mu.Lock()
	sess, ok := s.sessions[jobID]
	if ok {
		delete(s.sessions, jobID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	close(sess.stop)
	<-sess.done

	record := ramRecord{
		Type:           "ram",
		PaperID:        jobID,
		SampleInterval: s.interval.String(),
		SampleCount:    len(sess.samples),
		Samples:        sess.samples,
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
	}
	if record.Samples == nil {
		record.Samples = []Sample{}
	}
	if err := s.appendJSONL(ramStatsFile, record); err != nil {
		s.logger.Warn("append ram stats failed",
			zap.String("paper", jobID),
			zap.Error(err),
		)
	}
}

// RecordDiskStats appends one job's disk summary to disk_stats.jsonl.
func (s *Sampler) RecordDiskStats(jobID string, stats DiskStats) {
	stats.PaperID = jobID
	if err := s.appendJSONL(diskStatsFile, stats); err != nil {
		s.logger.Warn("append disk stats failed",
			zap.String("paper", jobID),
			zap.Error(err),
		)
	}
}

func (s *Sampler) takeSample() (Sample, bool) {
	info, err := s.proc.MemoryInfo()
	if err != nil {
		s.logger.Debug("memory info unavailable", zap.Error(err))
		return Sample{}, false
	}
	pct, err := s.proc.MemoryPercent()
	if err != nil {
		pct = 0
	}
	var systemUsed float64
	if vm, err := mem.VirtualMemory(); err == nil {
		systemUsed = vm.UsedPercent
	}
	return Sample{
		RSSBytes:          info.RSS,
		MemoryPercent:     pct,
		SystemUsedPercent: systemUsed,
		Timestamp:         time.Now().UTC().Format(time.RFC3339),
	}, true
}

// appendJSONL serializes appends across jobs so records never interleave.
var appendMu sync.Mutex

func (s *Sampler) appendJSONL(name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	appendMu.Lock()
	defer appendMu.Unlock()
	f, err := os.OpenFile(filepath.Join(s.root, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	defer func() {
		_ = f.Close()
	}()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append to %s: %w", name, err)
	}
	return nil
}

// DirectorySize walks a directory and sums regular-file sizes. Missing paths
// count as zero.
func DirectorySize(path string) int64 {
	var total int64
	_ = filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.Mode().IsRegular() {
			total += info.Size()
		}
		return nil
	})
	return total
}
