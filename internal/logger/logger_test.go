package logger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInitWithWriter_Level(t *testing.T) {
	orig := Log
	defer func() { Log = orig }()

	var buf bytes.Buffer
	InitWithWriter(&buf, "warn")

	Info("ignored_event")
	Warn("partial_sync_failure", "thread_id", "thread_h1_t2", "message_id", "7")

	out := buf.String()
	assert.NotContains(t, out, "ignored_event")
	assert.Contains(t, out, "partial_sync_failure")
	assert.Contains(t, out, "thread_id=thread_h1_t2")
	assert.Contains(t, out, "message_id=7")
}
