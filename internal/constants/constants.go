// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

import "time"

// Face matching constants
const (
	// DefaultMatchThreshold is the confidence a match must strictly exceed.
	// Confidence is 1 minus the normalized cosine distance.
	DefaultMatchThreshold = 0.6

	// DefaultMinFaceHeightRatio is the minimum face height relative to the
	// image height accepted for enrollment photos
	DefaultMinFaceHeightRatio = 0.2

	// DefaultEmbeddingDim is the embedding width produced by the extractor
	DefaultEmbeddingDim = 512
)

// Template index constants
const (
	// HNSWMinTemplates is the default template count at which a snapshot
	// builds an HNSW graph instead of scanning every template
	HNSWMinTemplates = 50000

	// HNSWCandidates is the number of graph neighbours rescored exactly
	HNSWCandidates = 64

	// HNSWNeighbors is the M parameter of the graph
	HNSWNeighbors = 16
)

// Processing constants
const (
	// WorkerPoolSize is the default number of parallel workers for bulk enrollment
	WorkerPoolSize = 4

	// MaxImageSize is the maximum dimension (width or height) of stored capture images
	MaxImageSize = 1920

	// PreviewWidth is the width of frames served to the live preview
	PreviewWidth = 640

	// OverlayEveryFrames controls how often the preview loop runs face detection
	OverlayEveryFrames = 10
)

// Background job constants
const (
	// DefaultReprocessBatch is the number of pending records handled per sweep
	DefaultReprocessBatch = 100

	// OutboxClaimBatch is the number of queued notifications claimed per drain
	OutboxClaimBatch = 50

	// OutboxSweepSpec is the cron schedule of the outbox safety sweep
	OutboxSweepSpec = "@every 30s"

	// CaptureCleanupSpec runs the capture retention job once a day at midnight
	CaptureCleanupSpec = "0 0 * * *"
)

// Timeouts
const (
	// DatabasePingTimeout bounds the connectivity check when opening a pool
	DatabasePingTimeout = 10 * time.Second

	// ShutdownTimeout bounds graceful shutdown of the server and background jobs
	ShutdownTimeout = 30 * time.Second
)
