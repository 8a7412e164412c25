package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCommandDefaultBody(t *testing.T) {
	cmd := NewCommand("app", "ping", nil)
	assert.Equal(t, OpCommand, cmd.Op)
	assert.Equal(t, "app", cmd.Database)
	assert.Equal(t, map[string]any{"ping": 1}, cmd.Body)
	assert.Zero(t, cmd.RequestID())
}

func TestNewWrite(t *testing.T) {
	docs := []map[string]any{{"n": 1}}
	selector := map[string]any{"n": 0}

	cmd := NewWrite(OpUpdate, "app", "users", docs, selector)
	assert.Equal(t, OpUpdate, cmd.Op)
	assert.Equal(t, "users", cmd.Name)
	assert.Equal(t, docs, cmd.Documents)
	assert.Equal(t, selector, cmd.Body)
}

func TestNewAckCommand(t *testing.T) {
	cmd := NewAckCommand("app", 2, true, 1500)
	require.Equal(t, OpCommand, cmd.Op)
	require.Equal(t, "getlasterror", cmd.Name)
	assert.Equal(t, 1, cmd.Body["getlasterror"])
	assert.Equal(t, 2, cmd.Body["w"])
	assert.Equal(t, true, cmd.Body["j"])
	assert.Equal(t, 1500, cmd.Body["wtimeout"])
}

func TestNewAckCommandMinimal(t *testing.T) {
	cmd := NewAckCommand("app", nil, false, 0)
	assert.NotContains(t, cmd.Body, "w")
	assert.NotContains(t, cmd.Body, "j")
	assert.NotContains(t, cmd.Body, "wtimeout")
}

func TestReplyFirst(t *testing.T) {
	assert.Nil(t, (&Reply{}).First())

	reply := &Reply{Documents: []map[string]any{{"a": 1}, {"b": 2}}}
	assert.Equal(t, map[string]any{"a": 1}, reply.First())
}
