// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package logger

import (
	"encoding/json"
	"log"
	"os"
	"strings"
	"time"
)

// LogLevel represents the severity of a log entry
type LogLevel string

const (
	DEBUG LogLevel = "DEBUG"
	INFO  LogLevel = "INFO"
	WARN  LogLevel = "WARN"
	ERROR LogLevel = "ERROR"
)

var levelRank = map[LogLevel]int{
	DEBUG: 0,
	INFO:  1,
	WARN:  2,
	ERROR: 3,
}

// Logger provides structured logging keyed by database target
type Logger struct {
	Component  string
	InstanceID string
	Container  string
	MinLevel   LogLevel
}

// LogEntry represents a structured log entry
type LogEntry struct {
	Timestamp  string                 `json:"timestamp"`
	Level      LogLevel               `json:"level"`
	Component  string                 `json:"component"`
	InstanceID string                 `json:"instance_id"`
	Container  string                 `json:"container"`
	Target     string                 `json:"target,omitempty"`
	RequestID  string                 `json:"request_id,omitempty"`
	Message    string                 `json:"message"`
	Fields     map[string]interface{} `json:"fields,omitempty"`
}

// New creates a new Logger for the specified component
func New(component string) *Logger {
	// Get instance ID from environment (set during deployment)
	instanceID := os.Getenv("INSTANCE_ID")
	if instanceID == "" {
		instanceID = "unknown"
	}

	// Get container name from hostname
	container, err := os.Hostname()
	if err != nil {
		container = "unknown"
	}

	return &Logger{
		Component:  component,
		InstanceID: instanceID,
		Container:  container,
		MinLevel:   ParseLevel(os.Getenv("LOG_LEVEL")),
	}
}

// ParseLevel converts a level name to a LogLevel, defaulting to INFO
func ParseLevel(s string) LogLevel {
	lvl := LogLevel(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := levelRank[lvl]; ok {
		return lvl
	}
	return INFO
}

// Enabled reports whether entries at level are written
func (l *Logger) Enabled(level LogLevel) bool {
	min, ok := levelRank[l.MinLevel]
	if !ok {
		min = levelRank[INFO]
	}
	return levelRank[level] >= min
}

// Log creates a structured log entry and writes it to stdout
func (l *Logger) Log(level LogLevel, target, requestID, message string, fields map[string]interface{}) {
	if !l.Enabled(level) {
		return
	}

	entry := LogEntry{
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		Level:      level,
		Component:  l.Component,
		InstanceID: l.InstanceID,
		Container:  l.Container,
		Target:     target,
		RequestID:  requestID,
		Message:    message,
		Fields:     fields,
	}

	jsonBytes, err := json.Marshal(entry)
	if err != nil {
		// Fallback to plain text if JSON marshaling fails
		log.Printf("ERROR: Failed to marshal log entry: %v", err)
		return
	}

	log.Println(string(jsonBytes))
}

// Info logs an informational message
func (l *Logger) Info(target, requestID, message string, fields map[string]interface{}) {
	l.Log(INFO, target, requestID, message, fields)
}

// Error logs an error message
func (l *Logger) Error(target, requestID, message string, fields map[string]interface{}) {
	l.Log(ERROR, target, requestID, message, fields)
}

// Warn logs a warning message
func (l *Logger) Warn(target, requestID, message string, fields map[string]interface{}) {
	l.Log(WARN, target, requestID, message, fields)
}

// Debug logs a debug message
func (l *Logger) Debug(target, requestID, message string, fields map[string]interface{}) {
	l.Log(DEBUG, target, requestID, message, fields)
}

// InfoWithDuration logs an info message with duration field
func (l *Logger) InfoWithDuration(target, requestID, message string, durationMS float64, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["duration_ms"] = durationMS
	l.Info(target, requestID, message, fields)
}

// ErrorWithCode logs an error with the vendor error code
func (l *Logger) ErrorWithCode(target, requestID, message string, vendorCode string, err error, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	if vendorCode != "" {
		fields["vendor_code"] = vendorCode
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	l.Error(target, requestID, message, fields)
}
