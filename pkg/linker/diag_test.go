package linker

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiagnosticsCountsAndPrefixes(t *testing.T) {
	var console bytes.Buffer
	diag := NewDiagnostics(&console, nil, false)

	diag.Infof("linking %d inputs", 2)
	diag.Warnf("duplicate symbol %s", "main")
	diag.Errorf("unresolved relocation")
	diag.Debugf("not shown at info level")

	assert.Equal(t, int64(1), diag.Warnings())
	assert.Equal(t, int64(1), diag.Errors())

	output := console.String()
	assert.Contains(t, output, "linking 2 inputs")
	assert.Contains(t, output, "Warning: duplicate symbol main")
	assert.Contains(t, output, "Error: unresolved relocation")
	assert.NotContains(t, output, "not shown")
}

func TestDiagnosticsLogFileFanout(t *testing.T) {
	var console, logFile bytes.Buffer
	diag := NewDiagnostics(&console, &logFile, false)

	diag.Warnf("something odd")

	require.NotEmpty(t, logFile.String())
	// the log file copy is structured JSON, the console copy is not
	assert.True(t, strings.HasPrefix(strings.TrimSpace(logFile.String()), "{"))
	assert.Contains(t, logFile.String(), "something odd")
}

func TestNilDiagnosticsAreSafe(t *testing.T) {
	var diag *Diagnostics
	diag.Warnf("into the void")
	diag.Errorf("also fine")
	assert.Equal(t, int64(0), diag.Warnings())
	assert.Equal(t, int64(0), diag.Errors())
}
