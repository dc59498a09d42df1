package obslog

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLineWritesTaggedOutput(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter("fabric", &buf)
	l.Logf("retrying %s after %d failures", "example.com", 2)
	assert.Equal(t, "[fabric] retrying example.com after 2 failures\n", buf.String())
}

func TestCaptureRecordsLines(t *testing.T) {
	var c Capture
	c.Logf("first")
	c.Logf("second %d", 2)
	assert.Equal(t, []string{"first", "second 2"}, c.Lines())
}
