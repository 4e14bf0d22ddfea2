package monitoring

import (
	"bytes"
	"fmt"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
)

// These tests mutate the package logger and must not run in parallel.

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var got []string
	SetLogger(func(format string, v ...interface{}) {
		got = append(got, fmt.Sprintf(format, v...))
	})
	Logf("enter #%d", 3)
	assert.Equal(t, []string{"enter #3"}, got)

	SetLogger(nil)
	Logf("dropped")
	assert.Len(t, got, 1, "no-op logger must not reach the previous logger")
}

func TestSetOutput(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var buf bytes.Buffer
	SetOutput(&buf, "[footfall] ")
	Logf("flushed %d rows", 4)
	assert.Contains(t, buf.String(), "[footfall] ")
	assert.Contains(t, buf.String(), "flushed 4 rows")
}

func TestOrDefault(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var got []string
	SetLogger(func(format string, v ...interface{}) {
		got = append(got, fmt.Sprintf(format, v...))
	})

	OrDefault(nil).Printf("via package logger")
	assert.Equal(t, []string{"via package logger"}, got)

	var buf bytes.Buffer
	injected := log.New(&buf, "", 0)
	assert.Same(t, injected, OrDefault(injected))
	OrDefault(injected).Print("direct")
	assert.Equal(t, "direct\n", buf.String())
	assert.Len(t, got, 1)
}
