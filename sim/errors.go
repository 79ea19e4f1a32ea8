package sim

import (
	"errors"
	"fmt"
)

// ErrorCode classifies caller-visible failures.
type ErrorCode string

const (
	CodeConfiguration ErrorCode = "CONFIGURATION_ERROR"
	CodeSimulation    ErrorCode = "SIMULATION_ERROR"
	CodeWorkerLost    ErrorCode = "WORKER_LOST"
	CodeInternal      ErrorCode = "INTERNAL_SERVER_ERROR"
)

// ConfigurationError reports an invalid or inconsistent SimulationConfig.
// It is always raised before any worker process is spawned.
type ConfigurationError struct {
	Message string
	Err     error
}

// Configurationf builds a ConfigurationError from a format string.
func Configurationf(format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Message: fmt.Sprintf(format, args...)}
}

// WrapConfiguration wraps err as a ConfigurationError with a message prefix.
func WrapConfiguration(message string, err error) *ConfigurationError {
	return &ConfigurationError{Message: message, Err: err}
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid simulation configuration: %s: %v", e.Message, e.Err)
	}
	return "invalid simulation configuration: " + e.Message
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// SimulationError is a failure reported by the worker through an ErrorRecord.
type SimulationError struct {
	Message string
	Details string
}

func (e *SimulationError) Error() string {
	if e.Details == "" {
		return e.Message
	}
	return e.Message + ": " + e.Details
}

// WorkerLostError means the worker exited without a stop marker or error
// record: a crash or an external kill rather than a reported failure.
type WorkerLostError struct {
	RequestID string
	PID       int
	ExitErr   error
}

func (e *WorkerLostError) Error() string {
	msg := fmt.Sprintf("worker for request %s (pid %d) exited without a conclusive signal", e.RequestID, e.PID)
	if e.ExitErr != nil {
		msg += ": " + e.ExitErr.Error()
	}
	return msg
}

func (e *WorkerLostError) Unwrap() error { return e.ExitErr }

// CleanupError wraps a failure while tearing down a worker. It is logged and
// never returned past cleanup.
type CleanupError struct {
	RequestID string
	Op        string
	Err       error
}

func (e *CleanupError) Error() string {
	return fmt.Sprintf("cleanup of request %s failed during %s: %v", e.RequestID, e.Op, e.Err)
}

func (e *CleanupError) Unwrap() error { return e.Err }

// ErrorBody maps an error onto the caller-visible {error_code, message, details}
// shape.
func ErrorBody(err error) ErrorRecord {
	var cfgErr *ConfigurationError
	var simErr *SimulationError
	var lostErr *WorkerLostError
	switch {
	case errors.As(err, &cfgErr):
		return ErrorRecord{Code: CodeConfiguration, Message: "Invalid simulation configuration", Details: cfgErr.Error()}
	case errors.As(err, &simErr):
		return ErrorRecord{Code: CodeSimulation, Message: simErr.Message, Details: simErr.Details}
	case errors.As(err, &lostErr):
		return ErrorRecord{Code: CodeWorkerLost, Message: "Simulation worker died unexpectedly", Details: lostErr.Error()}
	default:
		return ErrorRecord{Code: CodeInternal, Message: "running simulation failed", Details: err.Error()}
	}
}
