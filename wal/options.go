package wal

import (
	"expvar"
	"log/slog"

	"github.com/caio/go-tdigest/v4"
	"go.opentelemetry.io/otel/trace"

	"github.com/nexuscore/tabletwal/compress"
)

// FaultInjection groups the testing-only knobs of spec §6. They are
// accepted as configuration only: nothing in this package reads them, so
// they have no effect in any build.
type FaultInjection struct {
	AppendLatencyMeanMicros       int64   `yaml:"append_latency_mean_micros"`
	AppendLatencyStddevMicros     int64   `yaml:"append_latency_stddev_micros"`
	AppendIOErrorProbability      float64 `yaml:"append_io_error_probability"`
	PreallocateIOErrorProbability float64 `yaml:"preallocate_io_error_probability"`
	CrashBeforeCommitProbability  float64 `yaml:"crash_before_commit_probability"`
}

// Options configures a Log Facade at Open (spec §6). Field tags follow the
// teacher's host process's yaml.v3 config-file convention.
type Options struct {
	Dir string `yaml:"dir"`

	SegmentSizeMB             int64  `yaml:"segment_size_mb"`
	ForceFsyncAll             bool   `yaml:"force_fsync_all"`
	AsyncPreallocateSegments  bool   `yaml:"async_preallocate_segments"`
	PreallocateSegments       bool   `yaml:"preallocate_segments"`
	CompressionCodec          string `yaml:"compression_codec"`
	MinSegmentsToRetain       int    `yaml:"min_segments_to_retain"`
	MaxSegmentsToRetain       int    `yaml:"max_segments_to_retain"`
	FSWalDirReservedBytes     int64  `yaml:"fs_wal_dir_reserved_bytes"`
	GroupCommitQueueSizeBytes int64  `yaml:"group_commit_queue_size_bytes"`

	Fault FaultInjection `yaml:"fault_injection"`

	// Ambient collaborators, not host-config-file fields.
	Logger *slog.Logger
	Tracer trace.Tracer

	// FsyncLatencyDigest, when non-nil, accumulates each group fsync's
	// latency in microseconds for quantile reporting.
	FsyncLatencyDigest *tdigest.TDigest

	BatchesAppended *expvar.Int
	BytesAppended   *expvar.Int
	SegmentsRolled  *expvar.Int
	SegmentsGCed    *expvar.Int
}

func (o *Options) setDefaults() error {
	if o.SegmentSizeMB <= 0 {
		o.SegmentSizeMB = 128
	}
	if o.MinSegmentsToRetain <= 0 {
		o.MinSegmentsToRetain = 1
	}
	if o.MaxSegmentsToRetain <= 0 {
		o.MaxSegmentsToRetain = 1 << 20
	}
	if o.GroupCommitQueueSizeBytes <= 0 {
		o.GroupCommitQueueSizeBytes = 64 * 1024 * 1024
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return nil
}

func (o *Options) maxSegmentSizeBytes() int64 {
	return o.SegmentSizeMB * 1024 * 1024
}

func (o *Options) codec() (compress.Codec, error) {
	return compress.ByName(o.CompressionCodec)
}
