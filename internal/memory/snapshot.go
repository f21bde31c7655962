package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/rcliao/brandkeeper/internal/errs"
	"github.com/rcliao/brandkeeper/internal/logging"
	"github.com/rcliao/brandkeeper/internal/metrics"
	"github.com/rcliao/brandkeeper/internal/model"
	"github.com/rcliao/brandkeeper/internal/session"
)

// SnapshotFormat identifies the snapshot document layout.
const SnapshotFormat = "brandkeeper.memory/v1"

// Snapshot is the full contents of the memory store.
type Snapshot struct {
	Format  string              `json:"format"`
	Policy  []model.AccessRule  `json:"policy"`
	Entries []model.MemoryEntry `json:"entries"`
}

// ImportSummary reports what an import replaced.
type ImportSummary struct {
	Entries int `json:"entries"`
	Rules   int `json:"rules"`
}

// ExportSnapshot serializes every entry and the access policy. The caller
// needs read on every memory type.
func (m *Manager) ExportSnapshot(ctx context.Context, sc session.Context) (_ []byte, err error) {
	defer func(start time.Time) { metrics.Observe(component, "export", start, err) }(time.Now())

	if err := m.Policy().CheckAll(sc, model.OpRead); err != nil {
		return nil, err
	}

	entries, err := m.store.ExportMemories(ctx)
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	rules, err := m.store.LoadAccessRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("export rules: %w", err)
	}
	if entries == nil {
		entries = []model.MemoryEntry{}
	}

	snap := Snapshot{Format: SnapshotFormat, Policy: NewPolicy(rules).Rules(), Entries: entries}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

// ImportSnapshot replaces every entry and the policy with the snapshot's.
// The caller needs consolidate on every memory type. The whole snapshot is
// validated before anything is written, and the swap is one transaction.
func (m *Manager) ImportSnapshot(ctx context.Context, sc session.Context, blob []byte) (_ *ImportSummary, err error) {
	defer func(start time.Time) { metrics.Observe(component, "import", start, err) }(time.Now())

	if err := m.Policy().CheckAll(sc, model.OpConsolidate); err != nil {
		return nil, err
	}

	var snap Snapshot
	dec := json.NewDecoder(bytes.NewReader(blob))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&snap); err != nil {
		return nil, errs.E(errs.KindInvalidInput, "import", "decode snapshot: %v", err)
	}
	if err := validateSnapshot(&snap); err != nil {
		return nil, err
	}

	release, err := m.lockAll(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := m.store.ReplaceAll(ctx, snap.Entries, snap.Policy); err != nil {
		return nil, fmt.Errorf("import: %w", err)
	}

	m.mu.Lock()
	m.policy = NewPolicy(snap.Policy)
	m.mu.Unlock()

	logging.With(m.logger, sc).Info("imported memory snapshot",
		"entries", len(snap.Entries), "rules", len(snap.Policy))
	return &ImportSummary{Entries: len(snap.Entries), Rules: len(snap.Policy)}, nil
}

func validateSnapshot(snap *Snapshot) error {
	bad := func(format string, args ...any) error {
		return errs.E(errs.KindInvalidInput, "import", format, args...)
	}
	if snap.Format != SnapshotFormat {
		return bad("unsupported snapshot format %q", snap.Format)
	}

	type ruleKey struct {
		role model.Role
		mt   model.MemoryType
	}
	seenRules := map[ruleKey]bool{}
	for _, r := range snap.Policy {
		if r.Role == "" {
			return bad("policy rule without role")
		}
		if !model.ValidMemoryTypes[r.MemoryType] {
			return bad("policy rule for unknown memory type %q", r.MemoryType)
		}
		for _, op := range r.Operations {
			if !model.ValidOperations[op] {
				return bad("policy rule %s/%s has unknown operation %q", r.Role, r.MemoryType, op)
			}
		}
		k := ruleKey{r.Role, r.MemoryType}
		if seenRules[k] {
			return bad("duplicate policy rule %s/%s", r.Role, r.MemoryType)
		}
		seenRules[k] = true
	}

	ids := map[string]bool{}
	seqs := map[int64]bool{}
	for i, e := range snap.Entries {
		switch {
		case e.ID == "":
			return bad("entry %d has no id", i)
		case ids[e.ID]:
			return bad("duplicate entry id %s", e.ID)
		case e.Seq <= 0:
			return bad("entry %s has no seq", e.ID)
		case seqs[e.Seq]:
			return bad("duplicate entry seq %d", e.Seq)
		case !model.ValidMemoryTypes[e.Type]:
			return bad("entry %s has unknown memory type %q", e.ID, e.Type)
		case !model.ValidRecordKinds[e.Kind]:
			return bad("entry %s has unknown kind %q", e.ID, e.Kind)
		case isBlank(e.Content):
			return bad("entry %s has empty content", e.ID)
		case math.IsNaN(e.Importance) || e.Importance < 0 || e.Importance > 1:
			return bad("entry %s importance %v outside [0,1]", e.ID, e.Importance)
		case e.CreatedAt.IsZero():
			return bad("entry %s has no created_at", e.ID)
		}
		ids[e.ID] = true
		seqs[e.Seq] = true
	}
	return nil
}
