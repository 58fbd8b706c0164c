package config

const configSchema = `{
  "type": "object",
  "description": "Configuration for the tsdb engine.",
  "properties": {
    "page_size": {
      "description": "Page size in bytes, a power of two.",
      "type": "integer"
    },
    "page_count_per_file": {
      "description": "Number of pages packed into one data.<k> file.",
      "type": "integer"
    },
    "bucket_duration": {
      "description": "Duration of one time bucket, e.g. '1h', '2h', '1d'.",
      "type": "string"
    },
    "timestamp_resolution": {
      "description": "Sample timestamp resolution.",
      "type": "string",
      "enum": ["sec", "ms"]
    },
    "compressor_version": {
      "description": "Compressor version (0, 1, or 2).",
      "type": "integer",
      "enum": [0, 1, 2]
    },
    "read_only_threshold": {
      "description": "Idle duration after which an active bucket becomes read_only.",
      "type": "string"
    },
    "archive_threshold": {
      "description": "Idle duration after which a read_only bucket becomes archived.",
      "type": "string"
    },
    "query_deadline_ms": {
      "description": "Per-query deadline in milliseconds.",
      "type": "integer"
    },
    "worker_threads": {
      "description": "Size of the bounded worker pool.",
      "type": "integer"
    },
    "gc_interval": {
      "description": "Cadence of the lifecycle scheduler's flush/transition/GC tick.",
      "type": "string"
    },
    "recycle_pool_cap": {
      "description": "Soft cap on each RecyclePool's outstanding object count.",
      "type": "integer"
    },
    "counter_max": {
      "description": "Default counter wrap-around value for rate computation.",
      "type": "integer"
    },
    "reset_value": {
      "description": "Default clamp applied to an implausibly large computed rate.",
      "type": "number"
    },
    "data_dir": {
      "description": "Root directory holding meta.log and per-bucket directories.",
      "type": "string"
    },
    "http_addr": {
      "description": "Address the HTTP API (query, put, healthz, metrics) listens on.",
      "type": "string"
    },
    "put_addr": {
      "description": "Address the line-oriented put TCP listener listens on.",
      "type": "string"
    },
    "log_level": {
      "description": "Logging verbosity: debug, info, warn, or error.",
      "type": "string"
    },
    "compaction_at": {
      "description": "Daily off-hours compaction time, 'HH:MM'.",
      "type": "string"
    },
    "compaction_workers": {
      "description": "Worker pool size for the compactor.",
      "type": "integer"
    },
    "enable_compaction": {
      "description": "Whether the lifecycle scheduler runs the daily compaction job.",
      "type": "boolean"
    },
    "nats": {
      "description": "Optional NATS subscriber configuration.",
      "type": "object",
      "properties": {
        "address": { "type": "string" },
        "username": { "type": "string" },
        "password": { "type": "string" },
        "creds-file-path": { "type": "string" }
      }
    },
    "nats_subject": {
      "description": "NATS subject the optional subscriber listens on.",
      "type": "string"
    },
    "nats_format": {
      "description": "Decoding applied to NATS message bodies: 'putline' or 'influx'.",
      "type": "string",
      "enum": ["putline", "influx"]
    },
    "nats_workers": {
      "description": "Worker-pool size for the NATS subscriber's decode fan-out.",
      "type": "integer"
    }
  },
  "required": ["data_dir"]
}`
