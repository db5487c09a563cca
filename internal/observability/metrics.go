package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	// Source metrics
	RecordsRead       *prometheus.CounterVec
	RecordsRejected   *prometheus.CounterVec
	RecordsClassified *prometheus.CounterVec

	// Pipeline metrics
	RecordsProcessed *prometheus.CounterVec
	BatchesProcessed *prometheus.CounterVec
	BatchDuration    prometheus.Histogram
	FileStates       *prometheus.CounterVec
	QueueDepth       prometheus.Gauge

	// Shard metrics
	ShardFlushes prometheus.Counter
	FlushErrors  prometheus.Counter
	FlushBytes   prometheus.Histogram
	OpenShards   prometheus.Gauge

	// Checkpoint metrics
	CheckpointCommits *prometheus.CounterVec
	CommitLatency     *prometheus.HistogramVec

	// Compaction metrics
	ShardsCompacted  *prometheus.CounterVec
	CompressionRatio prometheus.Histogram

	// Archive and export metrics
	ArchiveUploads *prometheus.CounterVec
	UploadDuration *prometheus.HistogramVec
	FilesWritten   *prometheus.CounterVec
	FileSize       *prometheus.HistogramVec
	RowsExported   *prometheus.CounterVec
	DeadLetters    *prometheus.CounterVec
	StorageErrors  *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		// Source metrics
		RecordsRead: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dumpshard_records_read_total",
				Help: "Total number of records decoded from input files",
			},
			[]string{"codec"},
		),
		RecordsRejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dumpshard_records_rejected_total",
				Help: "Total number of input lines skipped by the record source",
			},
			[]string{"reason"},
		),
		RecordsClassified: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dumpshard_records_classified_total",
				Help: "Total number of classifier decisions",
			},
			[]string{"verdict"},
		),

		// Pipeline metrics
		RecordsProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dumpshard_records_processed_total",
				Help: "Total number of records dispatched in batches",
			},
			[]string{"status"},
		),
		BatchesProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dumpshard_batches_total",
				Help: "Total number of batches handled by writer workers",
			},
			[]string{"status"},
		),
		BatchDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dumpshard_batch_duration_seconds",
				Help:    "Duration of writing and flushing one batch",
				Buckets: prometheus.DefBuckets,
			},
		),
		FileStates: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dumpshard_file_state_transitions_total",
				Help: "Total number of input file state transitions",
			},
			[]string{"state"},
		),
		QueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "dumpshard_batch_queue_depth",
				Help: "Number of batches waiting for a writer",
			},
		),

		// Shard metrics
		ShardFlushes: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "dumpshard_shard_flushes_total",
				Help: "Total number of successful shard buffer flushes",
			},
		),
		FlushErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "dumpshard_shard_flush_errors_total",
				Help: "Total number of shard flushes that failed after retries",
			},
		),
		FlushBytes: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dumpshard_shard_flush_bytes",
				Help:    "Size of flushed shard buffers",
				Buckets: prometheus.ExponentialBuckets(1024, 4, 8), // 1KB to 16MB
			},
		),
		OpenShards: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "dumpshard_open_shard_files",
				Help: "Number of shard files currently held open",
			},
		),

		// Checkpoint metrics
		CheckpointCommits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dumpshard_checkpoint_commits_total",
				Help: "Total number of checkpoint commits",
			},
			[]string{"backend", "status"},
		),
		CommitLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dumpshard_checkpoint_commit_latency_seconds",
				Help:    "Latency of durable checkpoint commits",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
			},
			[]string{"backend"},
		),

		// Compaction metrics
		ShardsCompacted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dumpshard_shards_compacted_total",
				Help: "Total number of shards handled by the compactor",
			},
			[]string{"outcome"},
		),
		CompressionRatio: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dumpshard_compression_ratio",
				Help:    "Compressed to uncompressed size ratio of compacted shards",
				Buckets: prometheus.LinearBuckets(0.05, 0.05, 20),
			},
		),

		// Archive and export metrics
		ArchiveUploads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dumpshard_archive_uploads_total",
				Help: "Total number of archived shards",
			},
			[]string{"backend", "status"},
		),
		UploadDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dumpshard_archive_upload_duration_seconds",
				Help:    "Duration of shard uploads",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"backend"},
		),
		FilesWritten: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dumpshard_export_files_written_total",
				Help: "Total number of export files written",
			},
			[]string{"format", "status"},
		),
		FileSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dumpshard_export_file_size_bytes",
				Help:    "Size of export files",
				Buckets: prometheus.ExponentialBuckets(1024, 4, 10), // 1KB to 256MB
			},
			[]string{"format"},
		),
		RowsExported: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dumpshard_rows_exported_total",
				Help: "Total number of rows written by search exports",
			},
			[]string{"format"},
		),
		DeadLetters: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dumpshard_dead_letters_total",
				Help: "Total number of rejected lines published to a dead letter sink",
			},
			[]string{"sink", "status"},
		),
		StorageErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dumpshard_storage_errors_total",
				Help: "Total number of storage errors",
			},
			[]string{"backend", "error_type"},
		),
	}
}

// IncRecordsRead increments the records read counter.
func (m *Metrics) IncRecordsRead(codec string) {
	m.RecordsRead.WithLabelValues(codec).Inc()
}

// IncRecordsRejected increments the rejected lines counter.
func (m *Metrics) IncRecordsRejected(reason string) {
	m.RecordsRejected.WithLabelValues(reason).Inc()
}

// IncRecordsClassified increments the classifier decision counter.
func (m *Metrics) IncRecordsClassified(verdict string) {
	m.RecordsClassified.WithLabelValues(verdict).Inc()
}

// AddRecords adds count to the processed records counter.
func (m *Metrics) AddRecords(status string, count int) {
	m.RecordsProcessed.WithLabelValues(status).Add(float64(count))
}

// IncBatches increments the batches counter.
func (m *Metrics) IncBatches(status string) {
	m.BatchesProcessed.WithLabelValues(status).Inc()
}

// ObserveBatchDuration observes batch write duration.
func (m *Metrics) ObserveBatchDuration(seconds float64) {
	m.BatchDuration.Observe(seconds)
}

// IncFileStates increments the file state transition counter.
func (m *Metrics) IncFileStates(state string) {
	m.FileStates.WithLabelValues(state).Inc()
}

// SetQueueDepth sets the batch queue depth gauge.
func (m *Metrics) SetQueueDepth(depth int) {
	m.QueueDepth.Set(float64(depth))
}

// IncShardFlushes increments shard flush counters.
func (m *Metrics) IncShardFlushes(status string) {
	if status == "success" {
		m.ShardFlushes.Inc()
		return
	}
	m.FlushErrors.Inc()
}

// ObserveFlushBytes observes flushed buffer size.
func (m *Metrics) ObserveFlushBytes(size float64) {
	m.FlushBytes.Observe(size)
}

// SetOpenShards sets the open shard files gauge.
func (m *Metrics) SetOpenShards(count int) {
	m.OpenShards.Set(float64(count))
}

// IncCheckpointCommits increments checkpoint commits counter.
func (m *Metrics) IncCheckpointCommits(backend string, status string) {
	m.CheckpointCommits.WithLabelValues(backend, status).Inc()
}

// ObserveCommitLatency observes commit latency.
func (m *Metrics) ObserveCommitLatency(backend string, seconds float64) {
	m.CommitLatency.WithLabelValues(backend).Observe(seconds)
}

// IncShardsCompacted increments the compaction counter.
func (m *Metrics) IncShardsCompacted(outcome string) {
	m.ShardsCompacted.WithLabelValues(outcome).Inc()
}

// ObserveCompressionRatio observes the compression ratio of a shard.
func (m *Metrics) ObserveCompressionRatio(ratio float64) {
	m.CompressionRatio.Observe(ratio)
}

// IncArchiveUploads increments the archive uploads counter.
func (m *Metrics) IncArchiveUploads(backend string, status string) {
	m.ArchiveUploads.WithLabelValues(backend, status).Inc()
}

// ObserveUploadDuration observes upload duration.
func (m *Metrics) ObserveUploadDuration(backend string, seconds float64) {
	m.UploadDuration.WithLabelValues(backend).Observe(seconds)
}

// IncFilesWritten increments files written counter.
func (m *Metrics) IncFilesWritten(format string, status string) {
	m.FilesWritten.WithLabelValues(format, status).Inc()
}

// ObserveFileSize observes file size.
func (m *Metrics) ObserveFileSize(format string, size float64) {
	m.FileSize.WithLabelValues(format).Observe(size)
}

// AddRowsExported adds count to the exported rows counter.
func (m *Metrics) AddRowsExported(format string, count int) {
	m.RowsExported.WithLabelValues(format).Add(float64(count))
}

// IncDeadLetters increments the dead letter counter.
func (m *Metrics) IncDeadLetters(sink string, status string) {
	m.DeadLetters.WithLabelValues(sink, status).Inc()
}

// IncStorageErrors increments storage errors counter.
func (m *Metrics) IncStorageErrors(backend string, operation string) {
	m.StorageErrors.WithLabelValues(backend, operation).Inc()
}
