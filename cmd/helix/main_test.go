package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/helix-hr/helix-client/internal/domain"
	"github.com/helix-hr/helix-client/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranscriptPrinterSurvivesReset(t *testing.T) {
	var buf bytes.Buffer
	st := store.New("session-1", "welcome")
	p := &transcriptPrinter{out: &buf}
	st.Subscribe(func() { p.print(st.Messages()) })
	p.print(st.Messages())

	st.AddMessage("hi", domain.SenderUser)
	st.AddMessage("hello!", domain.SenderAI)

	// A delete or failed recovery shrinks the transcript back to the
	// welcome message mid-subscription.
	require.NotPanics(t, func() { st.Reset("session-2") })

	st.AddMessage("after reset", domain.SenderUser)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "[ai] welcome", lines[0])
	assert.Equal(t, "[user] hi", lines[1])
	assert.Equal(t, "[ai] hello!", lines[2])
	assert.Equal(t, "[user] after reset", lines[3])
}

func TestTranscriptPrinterPrintsEachEntryOnce(t *testing.T) {
	var buf bytes.Buffer
	st := store.New("session-1", "welcome")
	p := &transcriptPrinter{out: &buf}

	p.print(st.Messages())
	p.print(st.Messages())
	st.AddMessage("hi", domain.SenderUser)
	p.print(st.Messages())
	p.print(st.Messages())

	assert.Equal(t, 1, strings.Count(buf.String(), "welcome"))
	assert.Equal(t, 1, strings.Count(buf.String(), "hi"))
}
