// Package metrics exposes Prometheus counters for the harvest pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PapersSucceeded counts papers whose every stage completed.
	PapersSucceeded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_papers_succeeded_total",
		Help: "The total number of papers harvested with every stage successful.",
	})
	// PapersPartial counts papers where metadata succeeded but a later stage failed.
	PapersPartial = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_papers_partial_total",
		Help: "The total number of papers harvested with at least one failed stage.",
	})
	// PapersFailed counts papers that produced no artifacts because metadata failed.
	PapersFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_papers_failed_total",
		Help: "The total number of papers that failed outright.",
	})
	// APIRequests counts upstream HTTP attempts, including retries.
	APIRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_api_requests_total",
		Help: "The total number of upstream API request attempts.",
	})
	// APIRetries counts request attempts made after a transient failure.
	APIRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_api_retries_total",
		Help: "The total number of retried upstream API requests.",
	})
	// RateLimitHits counts 429 responses from upstream APIs.
	RateLimitHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_rate_limit_hits_total",
		Help: "The total number of times an upstream API rate limited the harvester.",
	})
	// ArchiveBytesKept counts bytes retained by the sanitizer.
	ArchiveBytesKept = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_archive_bytes_kept_total",
		Help: "The total number of archive entry bytes retained by sanitization.",
	})
)
