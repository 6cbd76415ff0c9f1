package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestOpen_EmptyChainGenesisTip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	c, err := Open(path, zap.NewNop())
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, Genesis, c.Tip())
	assert.Equal(t, 0, c.Len())
}

func TestAppend_LinksEntriesAndVerifies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	c, err := Open(path, zap.NewNop())
	require.NoError(t, err)
	defer c.Close()

	e0 := c.Append(EventDecision, map[string]any{"intent_id": "i1"})
	e1 := c.Append(EventDecision, map[string]any{"intent_id": "i2"})

	assert.Equal(t, Genesis, e0.PrevHash)
	assert.Equal(t, e0.EntryHash, e1.PrevHash)
	assert.NotEmpty(t, e0.EntryHash)

	ok, idx := c.Verify()
	assert.True(t, ok)
	assert.Equal(t, -1, idx)
}

func TestVerify_DetectsTamperedData(t *testing.T) {
	// Scenario 5 from spec §8: write two entries, flip a byte in entry
	// 0's data on disk, reopen, expect verify_chain() = (false, 0).
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	c, err := Open(path, zap.NewNop())
	require.NoError(t, err)
	c.Append(EventDecision, map[string]any{"intent_id": "i1"})
	c.Append(EventDecision, map[string]any{"intent_id": "i2"})
	require.NoError(t, c.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
	require.Len(t, lines, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	first["data"] = map[string]any{"intent_id": "TAMPERED"}
	tampered, err := json.Marshal(first)
	require.NoError(t, err)
	lines[0] = string(tampered)

	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))

	reopened, err := Open(path, zap.NewNop())
	require.NoError(t, err)
	defer reopened.Close()

	ok, idx := reopened.Verify()
	assert.False(t, ok)
	assert.Equal(t, 0, idx)
}

func TestOpen_ReplaysAcrossRestarts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	c, err := Open(path, zap.NewNop())
	require.NoError(t, err)
	c.Append(EventDecision, map[string]any{"intent_id": "i1"})
	c.Append(EventDecision, map[string]any{"intent_id": "i2"})
	tip := c.Tip()
	require.NoError(t, c.Close())

	reopened, err := Open(path, zap.NewNop())
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, 2, reopened.Len())
	assert.Equal(t, tip, reopened.Tip())

	e2 := reopened.Append(EventDecision, map[string]any{"intent_id": "i3"})
	assert.Equal(t, tip, e2.PrevHash)
}

func TestAppend_PersistsLineDelimitedJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	c, err := Open(path, zap.NewNop())
	require.NoError(t, err)
	c.Append(EventDecision, map[string]any{"intent_id": "i1"})
	require.NoError(t, c.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	scanner := bufio.NewScanner(f)
	count := 0
	for scanner.Scan() {
		var e Entry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		count++
	}
	assert.Equal(t, 1, count)
}

func TestConvenienceAppenders(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	c, err := Open(path, zap.NewNop())
	require.NoError(t, err)
	defer c.Close()

	c.LogPolicyReload("abc123", "production")
	c.LogPanic("operator triggered")
	c.LogManualOverride("alice", "approve", "false positive")

	assert.Equal(t, 3, c.Len())
	ok, _ := c.Verify()
	assert.True(t, ok)
}
