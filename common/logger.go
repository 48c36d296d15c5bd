// Package common provides enhanced logging utilities for structured logging across the bioetl engine.
// This file extends the base logging functionality with context-aware logging
// and pipeline-specific field helpers.
package common

import (
	"time"

	"bioetl.dev/bioetl/version"
	"github.com/sirupsen/logrus"
)

// ContextLogger carries a base field set (pipeline, run_id, stage) so
// every line a component emits is attributable to its run without
// re-threading the fields by hand.
type ContextLogger struct {
	logger *logrus.Logger
	fields logrus.Fields
}

// NewContextLogger creates a context-aware logger with base fields.
// A nil logger falls back to the global Logger.
func NewContextLogger(logger *logrus.Logger, fields map[string]interface{}) *ContextLogger {
	if logger == nil {
		logger = Logger
	}

	baseFields := make(logrus.Fields)
	for k, v := range fields {
		baseFields[k] = v
	}

	return &ContextLogger{
		logger: logger,
		fields: baseFields,
	}
}

// WithField adds a single field to the logger context
func (cl *ContextLogger) WithField(key string, value interface{}) *ContextLogger {
	newFields := make(logrus.Fields)
	for k, v := range cl.fields {
		newFields[k] = v
	}
	newFields[key] = value

	return &ContextLogger{
		logger: cl.logger,
		fields: newFields,
	}
}

// WithFields adds multiple fields to the logger context
func (cl *ContextLogger) WithFields(fields map[string]interface{}) *ContextLogger {
	newFields := make(logrus.Fields)
	for k, v := range cl.fields {
		newFields[k] = v
	}
	for k, v := range fields {
		newFields[k] = v
	}

	return &ContextLogger{
		logger: cl.logger,
		fields: newFields,
	}
}

// WithError adds an error to the logger context
func (cl *ContextLogger) WithError(err error) *ContextLogger {
	return cl.WithField("error", err.Error())
}

// Debug logs a debug message
func (cl *ContextLogger) Debug(msg string) {
	cl.logger.WithFields(cl.fields).Debug(msg)
}

// Info logs an info message
func (cl *ContextLogger) Info(msg string) {
	cl.logger.WithFields(cl.fields).Info(msg)
}

// Warn logs a warning message
func (cl *ContextLogger) Warn(msg string) {
	cl.logger.WithFields(cl.fields).Warn(msg)
}

// Error logs an error message
func (cl *ContextLogger) Error(msg string) {
	cl.logger.WithFields(cl.fields).Error(msg)
}

// PipelineLogger creates a logger pre-configured with pipeline run
// metadata. Automatically includes the bioetl module version for
// debugging purposes.
func PipelineLogger(pipeline, runID string) *ContextLogger {
	return NewContextLogger(Logger, map[string]interface{}{
		"pipeline":         pipeline,
		"run_id":           runID,
		"pipeline_version": version.GetPipelineVersion(),
	})
}

// StageLogger creates a logger for one stage of a pipeline run.
func StageLogger(pipeline, stage, runID string) *ContextLogger {
	return NewContextLogger(Logger, map[string]interface{}{
		"pipeline": pipeline,
		"stage":    stage,
		"run_id":   runID,
	})
}

// AdapterFields returns standard fields for source adapter QC logging
func AdapterFields(sourceName string, apiCalls, cacheHits, fallbacks int, duration time.Duration) map[string]interface{} {
	return map[string]interface{}{
		"source":         sourceName,
		"api_calls":      apiCalls,
		"cache_hits":     cacheHits,
		"fallback_count": fallbacks,
		"duration_ms":    duration.Milliseconds(),
	}
}

// ErrorFields returns standard fields for error logging
func ErrorFields(err error, context string) map[string]interface{} {
	return map[string]interface{}{
		"error":   err.Error(),
		"context": context,
	}
}
