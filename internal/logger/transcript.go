// Package logger records kernel session transcripts in JSON-Lines format.
package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Event kinds recorded in a transcript.
const (
	EventKindOutput = "out"    // rendered kernel output
	EventKindInput  = "in"     // user input sent to the kernel
	EventKindStatus = "status" // execution state changes
)

// TranscriptHeader is the first line of a transcript file.
type TranscriptHeader struct {
	Version   int    `json:"version"`
	Kernel    string `json:"kernel"`
	Timestamp int64  `json:"timestamp"`
}

// TranscriptEvent is one timed event line.
// Wire format: [offset_seconds, kind, data]
type TranscriptEvent struct {
	Offset float64
	Kind   string
	Data   string
}

// MarshalJSON renders the event as a three-element array.
func (e TranscriptEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{e.Offset, e.Kind, e.Data})
}

// UnmarshalJSON parses the three-element array form.
func (e *TranscriptEvent) UnmarshalJSON(data []byte) error {
	var arr []interface{}
	if err := json.Unmarshal(data, &arr); err != nil {
		return err
	}
	if len(arr) != 3 {
		return fmt.Errorf("invalid event: expected 3 elements, got %d", len(arr))
	}

	offset, ok := arr[0].(float64)
	if !ok {
		return fmt.Errorf("invalid event offset")
	}
	kind, ok := arr[1].(string)
	if !ok {
		return fmt.Errorf("invalid event kind")
	}
	payload, ok := arr[2].(string)
	if !ok {
		return fmt.Errorf("invalid event data")
	}

	e.Offset = offset
	e.Kind = kind
	e.Data = payload
	return nil
}

// TranscriptLogger writes one session transcript: a header line followed by
// timed event lines.
type TranscriptLogger struct {
	mu        sync.Mutex
	writer    io.Writer
	file      *os.File // only set if we own the file
	startTime time.Time
}

// NewTranscriptLogger creates a logger writing to the given file path.
func NewTranscriptLogger(filePath string) (*TranscriptLogger, error) {
	file, err := os.Create(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create transcript file: %w", err)
	}
	return &TranscriptLogger{
		writer:    file,
		file:      file,
		startTime: time.Now(),
	}, nil
}

// NewTranscriptLoggerWithWriter creates a logger over an arbitrary writer.
// Useful for testing.
func NewTranscriptLoggerWithWriter(w io.Writer) *TranscriptLogger {
	return &TranscriptLogger{
		writer:    w,
		startTime: time.Now(),
	}
}

// WriteHeader writes the transcript header. Call once before any events.
func (l *TranscriptLogger) WriteHeader(kernelName string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	header := TranscriptHeader{
		Version:   1,
		Kernel:    kernelName,
		Timestamp: l.startTime.Unix(),
	}
	data, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}
	if _, err := l.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	return nil
}

// WriteOutput records rendered kernel output.
func (l *TranscriptLogger) WriteOutput(data string) error {
	return l.writeEvent(EventKindOutput, data)
}

// WriteInput records user input sent to the kernel.
func (l *TranscriptLogger) WriteInput(data string) error {
	return l.writeEvent(EventKindInput, data)
}

// WriteStatus records an execution state change.
func (l *TranscriptLogger) WriteStatus(state string) error {
	return l.writeEvent(EventKindStatus, state)
}

func (l *TranscriptLogger) writeEvent(kind, data string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	event := TranscriptEvent{
		Offset: time.Since(l.startTime).Seconds(),
		Kind:   kind,
		Data:   data,
	}
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if _, err := l.writer.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	return nil
}

// Close closes the transcript file if the logger owns one.
func (l *TranscriptLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// StartTime returns when the transcript started.
func (l *TranscriptLogger) StartTime() time.Time {
	return l.startTime
}
