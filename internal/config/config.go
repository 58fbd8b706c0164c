// Package config holds the process-wide, read-once-at-startup
// configuration surface of §6: page/bucket layout, lifecycle
// thresholds, query/worker tuning, rate defaults, and the ambient
// additions (data directory, listener addresses, log level, NATS).
// Grounded on the teacher's internal/config/config.go package-level
// `Keys` + `Init(path)` idiom.
package config

import (
	"bytes"
	"encoding/json"
	"os"

	"github.com/nova-ts/tsdb/pkg/cclog"
	"github.com/nova-ts/tsdb/pkg/nats"
)

// Config is the full, JSON-tagged configuration surface named in §6.
type Config struct {
	PageSize          int    `json:"page_size"`
	PageCountPerFile  int    `json:"page_count_per_file"`
	BucketDuration    string `json:"bucket_duration"`
	TimestampRes      string `json:"timestamp_resolution"`
	CompressorVersion int    `json:"compressor_version"`
	ReadOnlyThreshold string `json:"read_only_threshold"`
	ArchiveThreshold  string `json:"archive_threshold"`

	QueryDeadlineMs int `json:"query_deadline_ms"`
	WorkerThreads   int `json:"worker_threads"`

	GCInterval     string `json:"gc_interval"`
	RecyclePoolCap int    `json:"recycle_pool_cap"`

	CounterMax uint64  `json:"counter_max"`
	ResetValue float64 `json:"reset_value"`

	DataDir  string `json:"data_dir"`
	HTTPAddr string `json:"http_addr"`
	PutAddr  string `json:"put_addr"`
	LogLevel string `json:"log_level"`

	CompactionAt      string `json:"compaction_at"`
	CompactionWorkers int    `json:"compaction_workers"`
	EnableCompaction  bool   `json:"enable_compaction"`

	Nats        *nats.NatsConfig `json:"nats"`
	NatsSubject string           `json:"nats_subject"`
	NatsFormat  string           `json:"nats_format"`
	NatsWorkers int              `json:"nats_workers"`
}

// Keys holds the process-wide configuration, populated once by Init.
var Keys = Config{
	PageSize:          4096,
	PageCountPerFile:  256,
	BucketDuration:    "1h",
	TimestampRes:      "ms",
	CompressorVersion: 2,
	ReadOnlyThreshold: "10m",
	ArchiveThreshold:  "1h",
	QueryDeadlineMs:   5000,
	WorkerThreads:     4,
	GCInterval:        "1m",
	RecyclePoolCap:    4096,
	CounterMax:        1<<64 - 1,
	DataDir:           "./var/tsdb",
	HTTPAddr:          ":4242",
	PutAddr:           ":4243",
	LogLevel:          "info",
	CompactionWorkers: 4,
	NatsSubject:       "tsdb.put",
	NatsFormat:        "putline",
	NatsWorkers:       1,
}

// Init reads and validates flagConfigFile (if it exists) and decodes
// it on top of Keys' defaults. A missing file is not an error, per the
// teacher's Init (optional config with baked-in defaults).
func Init(flagConfigFile string) error {
	raw, err := os.ReadFile(flagConfigFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	if err := Validate(raw); err != nil {
		return err
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&Keys); err != nil {
		return err
	}

	cclog.SetLevel(cclog.ParseLevel(Keys.LogLevel))
	return nil
}
