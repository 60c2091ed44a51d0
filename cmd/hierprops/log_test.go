package main

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingBuffer(t *testing.T) {
	b := newRingBuffer(3)
	for i := 0; i < 5; i++ {
		b.Write(fmt.Sprintf("line %d", i))
	}
	assert.Equal(t, []string{"line 2", "line 3", "line 4"}, b.Lines())
	assert.Equal(t, 5, b.Count())
}

func TestLineHandler(t *testing.T) {
	var out bytes.Buffer
	buf := newRingBuffer(10)
	logger := slog.New(newLineHandler(&out, buf, slog.LevelInfo)).With("forest", "org")

	logger.Debug("hidden")
	logger.WithGroup("req").Info("property assigned", "node", "n1")

	lines := buf.Lines()
	require.Len(t, lines, 1)
	assert.True(t, strings.HasSuffix(lines[0], "INFO property assigned forest=org req.node=n1"), lines[0])
	assert.Equal(t, lines[0]+"\n", out.String())
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warn"))
	assert.Equal(t, slog.LevelInfo, parseLevel("bogus"))
}
