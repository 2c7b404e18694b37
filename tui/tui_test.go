package tui

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasTTY(t *testing.T) {
	assert.Contains(t, []bool{true, false}, HasTTY)
}

func withoutTTY(t *testing.T) *bytes.Buffer {
	t.Helper()
	origTTY, origOut := HasTTY, Output
	t.Cleanup(func() { HasTTY, Output = origTTY, origOut })
	var buf bytes.Buffer
	HasTTY = false
	Output = &buf
	return &buf
}

func TestShowMessages(t *testing.T) {
	buf := withoutTTY(t)
	ShowSuccess("removed %d keys", 3)
	ShowWarning("disk tier %s", "disabled")
	ShowError("boom")
	out := buf.String()
	assert.Contains(t, out, "removed 3 keys")
	assert.Contains(t, out, "disk tier disabled")
	assert.Contains(t, out, "boom")
}

func TestTable(t *testing.T) {
	buf := withoutTTY(t)
	Table([]string{"Key", "Size"}, [][]string{{"alpha", "10 B"}, {"beta", "2.0 KiB"}})
	out := buf.String()
	for _, s := range []string{"Key", "Size", "alpha", "beta", "2.0 KiB"} {
		assert.Contains(t, out, s)
	}
}

func TestAskWithoutTTY(t *testing.T) {
	withoutTTY(t)
	ok, err := Ask("clear?", false)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = Ask("clear?", true)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestShowSpinnerWithoutTTY(t *testing.T) {
	withoutTTY(t)
	ran := false
	ShowSpinner(context.Background(), "working", func() { ran = true })
	assert.True(t, ran)
}

func TestMaxWidth(t *testing.T) {
	assert.Equal(t, "short", MaxWidth("short", 10))
	assert.Equal(t, "abcdefg...", MaxWidth("abcdefghijklmnop", 10))
	assert.Equal(t, "ab", MaxWidth("abcdef", 2))
}
