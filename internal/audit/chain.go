// Package audit implements the tamper-evident, append-only hash-linked
// AuditChain (spec §3, §4.6). Every decision, policy reload, panic
// activation, and manual override is recorded here.
package audit

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Genesis is the fixed prev_hash of the first entry (spec §3, §9).
const Genesis = "0000000000000000000000000000000000000000000000000000000000000000"

func init() {
	// Genesis must be exactly 64 hex zero characters (spec §3: "64-hex").
	if len(Genesis) != 64 {
		panic("audit: genesis hash constant is not 64 characters")
	}
}

// EventType enumerates the AuditEntry.event_type values (spec §3).
type EventType string

const (
	EventDecision     EventType = "decision"
	EventPolicyReload EventType = "policy_reload"
	EventPanic        EventType = "panic"
	EventOverride     EventType = "override"
)

// Entry is one AuditEntry (spec §3). CorrelationID is a supplemental
// field (not part of the hash input) used only for operator-facing
// cross-referencing.
type Entry struct {
	Sequence      uint64         `json:"seq"`
	Timestamp     time.Time      `json:"ts"`
	EventType     EventType      `json:"type"`
	Data          any            `json:"data"`
	PrevHash      string         `json:"prev_hash"`
	EntryHash     string         `json:"hash"`
	CorrelationID string         `json:"correlation_id,omitempty"`
}

// canonicalFields is the exact set of fields fed to SHA-256, using the
// wire names required by spec §4.6/§6/§9: "seq, ts, type, data, prev".
// This is the ONLY detail that must match byte-for-byte across
// implementations for cross-verifiability, resolved from
// original_source/src/core/governance/audit.py's compute_hash().
type canonicalFields struct {
	Seq  uint64 `json:"seq"`
	TS   string `json:"ts"`
	Type EventType `json:"type"`
	Data any    `json:"data"`
	Prev string `json:"prev"`
}

// computeHash returns the SHA-256 hex digest of the canonical, key-sorted
// JSON encoding of exactly {seq, ts, type, data, prev}.
func computeHash(seq uint64, ts time.Time, eventType EventType, data any, prevHash string) (string, error) {
	cf := canonicalFields{
		Seq:  seq,
		TS:   ts.Format(time.RFC3339Nano),
		Type: eventType,
		Data: data,
		Prev: prevHash,
	}

	// encoding/json sorts map keys but preserves struct field declaration
	// order; canonicalFields declares its fields as seq, ts, type, data,
	// prev, which is not the sorted order of their JSON names (data, prev,
	// seq, ts, type), so marshal via a map to guarantee key-sorted output
	// regardless of struct field order.
	m := map[string]any{
		"seq":  cf.Seq,
		"ts":   cf.TS,
		"type": cf.Type,
		"data": cf.Data,
		"prev": cf.Prev,
	}
	canonical, err := marshalSorted(m)
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// marshalSorted encodes m with keys in lexicographic order, matching
// Python's json.dumps(..., sort_keys=True). encoding/json already
// sorts map[string]any keys, so this is a thin, explicitly-named
// wrapper documenting that requirement for future maintainers.
func marshalSorted(m map[string]any) ([]byte, error) {
	return json.Marshal(m)
}

// Chain is the append-only, hash-linked audit log.
type Chain struct {
	mu       sync.Mutex
	path     string
	log      *zap.Logger
	entries  []Entry
	lastHash string
	sequence uint64
	file     *os.File
}

// Open opens (creating if necessary) the line-delimited audit log at
// path, replays existing entries, and verifies the chain (spec §4.6:
// "On startup, replays the file, reconstructing the chain and verifying
// integrity"). A broken chain is logged at error level but does not prevent
// startup; new entries still append after the loaded tip (spec §7:
// "implementers may refuse to start or start degraded; choose one and
// document" — this implementation starts degraded, logging loudly,
// since availability of the decision path takes priority).
func Open(path string, log *zap.Logger) (*Chain, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "create audit directory")
	}

	c := &Chain{path: path, log: log, lastHash: Genesis}

	if err := c.loadExisting(); err != nil {
		return nil, errors.Wrap(err, "replay audit chain")
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "open audit file for append")
	}
	c.file = f

	ok, badIndex := c.verifyLocked()
	if !ok {
		log.Error("audit chain integrity check failed on load — starting degraded",
			zap.Int("broken_index", badIndex))
	}

	return c, nil
}

func (c *Chain) loadExisting() error {
	f, err := os.Open(c.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			c.log.Error("skipping unparseable audit line", zap.Error(err))
			continue
		}
		c.entries = append(c.entries, e)
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	if n := len(c.entries); n > 0 {
		last := c.entries[n-1]
		c.lastHash = last.EntryHash
		c.sequence = last.Sequence + 1
	}
	return nil
}

// Append builds, hashes, links, and persists a new entry. It never
// returns an error to the caller for a disk failure — persistence
// failures are logged but the in-memory chain still advances (spec
// §4.6, §5, §7: "the decision path must not stall on disk").
func (c *Chain) Append(eventType EventType, data any) Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().UTC()
	prevHash := c.lastHash
	seq := c.sequence

	hash, err := computeHash(seq, now, eventType, data, prevHash)
	if err != nil {
		// Hashing a JSON-marshalable value should never fail; if it does,
		// the entry is still appended with an empty hash, which Verify
		// then reports as the first broken index.
		c.log.Error("failed to compute audit entry hash", zap.Error(err))
		hash = ""
	}

	entry := Entry{
		Sequence:      seq,
		Timestamp:     now,
		EventType:     eventType,
		Data:          data,
		PrevHash:      prevHash,
		EntryHash:     hash,
		CorrelationID: uuid.NewString(),
	}

	c.entries = append(c.entries, entry)
	c.lastHash = hash
	c.sequence++

	c.persist(entry)

	return entry
}

func (c *Chain) persist(e Entry) {
	line, err := json.Marshal(e)
	if err != nil {
		c.log.Error("failed to marshal audit entry", zap.Error(err))
		return
	}
	line = append(line, '\n')

	if c.file == nil {
		return
	}
	if _, err := c.file.Write(line); err != nil {
		c.log.Error("failed to persist audit entry to disk", zap.Error(err), zap.Uint64("seq", e.Sequence))
		return
	}
	if err := c.file.Sync(); err != nil {
		c.log.Error("failed to fsync audit log", zap.Error(err))
	}
}

// LogDecision is the convenience appender for a DecisionTrace's ToDict()
// form (spec §4.6).
func (c *Chain) LogDecision(traceDict map[string]any) Entry {
	return c.Append(EventDecision, traceDict)
}

// LogPolicyReload records a policy_reload event.
func (c *Chain) LogPolicyReload(fileHash, mode string) Entry {
	return c.Append(EventPolicyReload, map[string]any{
		"file_hash": fileHash,
		"mode":      mode,
	})
}

// LogPanic records a panic event.
func (c *Chain) LogPanic(reason string) Entry {
	return c.Append(EventPanic, map[string]any{"reason": reason})
}

// LogManualOverride records an override event.
func (c *Chain) LogManualOverride(operator, action, justification string) Entry {
	return c.Append(EventOverride, map[string]any{
		"operator":      operator,
		"action":        action,
		"justification": justification,
	})
}

// Len returns the number of entries currently in the chain.
func (c *Chain) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Tip returns the hash of the most recently appended entry, or Genesis
// if the chain is empty.
func (c *Chain) Tip() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastHash
}

// Verify re-checks the whole in-memory chain and returns (true, -1) or
// (false, i) with i the first offending index (spec §4.6).
func (c *Chain) Verify() (bool, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.verifyLocked()
}

func (c *Chain) verifyLocked() (bool, int) {
	prev := Genesis
	for i, e := range c.entries {
		if i == 0 && e.PrevHash != Genesis {
			return false, i
		}
		if e.PrevHash != prev {
			return false, i
		}
		want, err := computeHash(e.Sequence, e.Timestamp, e.EventType, e.Data, e.PrevHash)
		if err != nil || want != e.EntryHash {
			return false, i
		}
		prev = e.EntryHash
	}
	return true, -1
}

// Close flushes and closes the underlying file.
func (c *Chain) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.file == nil {
		return nil
	}
	return c.file.Close()
}
