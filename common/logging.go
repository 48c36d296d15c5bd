// Package common provides the shared record/frame data model, logging
// infrastructure and small utility helpers used across the bioetl engine.
//
// This file sets up the global logger: error-level lines go to stderr,
// everything else to stdout, so the shell and log collectors can treat
// the two streams separately.
package common

import (
	"bytes"
	"os"

	"github.com/sirupsen/logrus"
)

// OutputSplitter routes formatted log lines by severity: lines carrying
// the text formatter's "level=error" marker go to stderr, the rest to
// stdout.
type OutputSplitter struct{}

// Write implements io.Writer for the splitter.
func (splitter *OutputSplitter) Write(p []byte) (n int, err error) {
	if bytes.Contains(p, []byte("level=error")) {
		return os.Stderr.Write(p)
	}
	return os.Stdout.Write(p)
}

// Logger is the engine-wide logger. The CLI applies the configured level
// and format on top; components wrap it via PipelineLogger/StageLogger.
var Logger = logrus.New()

func init() {
	Logger.SetOutput(&OutputSplitter{})
}
