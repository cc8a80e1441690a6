// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

import "time"

// Face matching constants
const (
	// MatchThreshold is the minimum cosine similarity for a probe to be
	// attributed to a person group
	MatchThreshold = 0.7

	// HNSWMaxNeighbors is the M parameter of the optional HNSW reference index
	HNSWMaxNeighbors = 16
)

// Inference constants
const (
	// MemoryPressureRatio is the fraction of the memory limit above which the
	// embedding extractor yields before allocating crop buffers
	MemoryPressureRatio = 0.7

	// MemoryYield is how long the extractor pauses under memory pressure
	MemoryYield = 100 * time.Millisecond

	// ModelReadyTimeout bounds how long a task waits for its model to report ready
	ModelReadyTimeout = 15 * time.Second

	// ModelReadyPollInterval is how often readiness is polled
	ModelReadyPollInterval = 150 * time.Millisecond

	// FaceCropSize is the square size face crops are scaled to before embedding
	FaceCropSize = 112

	// FaceMinScore drops detections the sidecar is less confident about
	FaceMinScore = 0.5
)

// Pipeline constants
const (
	// InterImagePause bounds thermal and memory pressure between images
	InterImagePause = 300 * time.Millisecond

	// MaxAnalysisTokens caps the generated output per image
	MaxAnalysisTokens = 300

	// MaxAnalysisChars is the maximum length of a stored analysis text
	MaxAnalysisChars = 1200

	// AnalysisImageSize is the maximum dimension of images sent to the text generator
	AnalysisImageSize = 800

	// AnalysisProgressStart is where the analysis phase starts in overall progress
	AnalysisProgressStart = 0.05

	// AnalysisProgressEnd is where the analysis phase ends; delivery owns the rest
	AnalysisProgressEnd = 0.80

	// ProgressMinDelta is the smallest progress change that is persisted
	ProgressMinDelta = 0.01
)

// Delivery constants
const (
	// DeliveryMaxAttempts is the number of attempts per network call
	DeliveryMaxAttempts = 3

	// DeliveryBackoffStep is multiplied by the attempt number between retries
	DeliveryBackoffStep = time.Second

	// AttachmentPause separates consecutive attachment sends
	AttachmentPause = 500 * time.Millisecond

	// MaxAttachmentBytes is the size ceiling for a single compressed attachment
	MaxAttachmentBytes = 5 * 1024 * 1024

	// MaxMessageChars is the Telegram limit for a single text message
	MaxMessageChars = 4096

	// AttachmentStartQuality and AttachmentMinQuality bound JPEG re-encoding
	AttachmentStartQuality = 90
	AttachmentMinQuality   = 30
	AttachmentQualityStep  = 10
)

// Sweeper constants
const (
	// StaleTaskAge is how long a non-terminal task status may go without an
	// update before the sweeper marks it interrupted
	StaleTaskAge = 10 * time.Minute

	// TaskHeartbeatInterval is how often a running task re-stamps its status
	// so sweepers sharing the store see it as alive
	TaskHeartbeatInterval = time.Minute

	// DefaultSweepSpec is the cron schedule of the stale task sweeper
	DefaultSweepSpec = "*/5 * * * *"
)
