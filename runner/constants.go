package runner

import "time"

const (
	// DefaultEventTimeout bounds the silence between two engine events
	DefaultEventTimeout = 10 * time.Minute

	// DefaultProgressInterval is how often the console indicator logs progress
	DefaultProgressInterval = 30 * time.Second

	StatusRunning             = "Running tests..."
	StatusRunningWithCoverage = "Running tests with coverage..."
	StatusFinished            = "Finished"
	StatusNoTestsFound        = "No tests found"
	StatusUnavailable         = "Engine unavailable"
	StatusInterrupted         = "Interrupted"
)
