package vcs

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeadWithCustomCommand(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("relies on POSIX echo")
	}
	p := NewProber(func() string { return "echo abc123" })

	head, err := p.Head(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "abc123", head)
}

func TestHeadQuotedArguments(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("relies on POSIX echo")
	}
	p := NewProber(func() string { return `echo "two words"` })

	head, err := p.Head(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "two words", head)
}

func TestHeadMissingDirectory(t *testing.T) {
	p := NewProber(nil)
	_, err := p.Head(context.Background(),
		filepath.Join(t.TempDir(), "gone"))
	assert.Error(t, err)

	_, err = p.Head(context.Background(), "")
	assert.Error(t, err)
}

func TestHeadCommandFailure(t *testing.T) {
	p := NewProber(func() string { return "false" })
	_, err := p.Head(context.Background(), t.TempDir())
	assert.Error(t, err)
}

func TestHeadEmptyOutput(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("relies on POSIX true")
	}
	p := NewProber(func() string { return "true" })
	_, err := p.Head(context.Background(), t.TempDir())
	assert.Error(t, err)
}
