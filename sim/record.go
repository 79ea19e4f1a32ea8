package sim

// RecordKind tags a QueueRecord.
type RecordKind string

const (
	RecordData  RecordKind = "data"
	RecordError RecordKind = "error"
	RecordStop  RecordKind = "stop"
)

// QueueRecord is one message on the worker→parent channel. Exactly one of
// Data or Error is set for data and error records; stop markers carry nothing.
// A record sequence ends with a stop marker, optionally preceded by one error
// record.
type QueueRecord struct {
	Kind  RecordKind   `json:"kind"`
	Data  *DataRecord  `json:"data,omitempty"`
	Error *ErrorRecord `json:"error,omitempty"`
}

// DataRecord is one simulated trace for one sweep value at one recording
// location. Amplitude is set in current-varying runs, Frequency in
// frequency-varying runs.
type DataRecord struct {
	RecordingName string    `json:"recording_name"`
	Label         string    `json:"label"`
	Amplitude     *float64  `json:"amplitude,omitempty"`
	Frequency     *float64  `json:"frequency,omitempty"`
	Time          []float64 `json:"time"`
	Voltage       []float64 `json:"voltage"`
}

// ErrorRecord is a structured failure. It doubles as the terminal error
// object written to realtime streams.
type ErrorRecord struct {
	Code    ErrorCode `json:"error_code"`
	Message string    `json:"message"`
	Details string    `json:"details"`
}

// AsError converts the record into the SimulationError it reports.
func (r ErrorRecord) AsError() *SimulationError {
	return &SimulationError{Message: r.Message, Details: r.Details}
}

// DataMessage wraps a data record.
func DataMessage(d DataRecord) QueueRecord {
	return QueueRecord{Kind: RecordData, Data: &d}
}

// ErrorMessage wraps an error record.
func ErrorMessage(e ErrorRecord) QueueRecord {
	return QueueRecord{Kind: RecordError, Error: &e}
}

// StopMarker returns the end-of-sequence sentinel.
func StopMarker() QueueRecord {
	return QueueRecord{Kind: RecordStop}
}

// Float returns a pointer to v, for the optional sweep fields.
func Float(v float64) *float64 {
	return &v
}
