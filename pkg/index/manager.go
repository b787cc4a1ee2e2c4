package index

import (
	"context"
	"fmt"

	"github.com/pay-theory/docorm/internal/logging"
	"github.com/pay-theory/docorm/pkg/core"
)

// Action is what Plan decided for one descriptor
type Action int

const (
	// ActionNone means the live index already satisfies the descriptor
	ActionNone Action = iota
	// ActionCreate means no single-field index exists on the field
	ActionCreate
	// ActionUpgrade means the live index must become unique
	ActionUpgrade
)

func (a Action) String() string {
	switch a {
	case ActionCreate:
		return "create"
	case ActionUpgrade:
		return "upgrade"
	}
	return "none"
}

// Step is one planned index mutation
type Step struct {
	Descriptor core.IndexDescriptor
	Action     Action
}

// Manager reconciles declared index descriptors with a collection's live
// catalog. Callers must serialise Ensure against concurrent writes on the
// same collection.
type Manager struct {
	coll core.Collection
}

// NewManager creates a manager for coll
func NewManager(coll core.Collection) *Manager {
	return &Manager{coll: coll}
}

// Plan compares descriptors with the catalog. Descriptors that the
// catalog already satisfies yield ActionNone.
func Plan(catalog Catalog, descriptors []core.IndexDescriptor) []Step {
	steps := make([]Step, 0, len(descriptors))
	for _, d := range descriptors {
		live, ok := catalog.Field(d.Field)
		switch {
		case !ok:
			steps = append(steps, Step{Descriptor: d, Action: ActionCreate})
		case d.Unique && !live.Unique:
			steps = append(steps, Step{Descriptor: d, Action: ActionUpgrade})
		default:
			steps = append(steps, Step{Descriptor: d, Action: ActionNone})
		}
	}
	return steps
}

// Ensure creates missing indexes and upgrades non-unique ones that must be
// unique. It returns the number of index mutations issued; a second run with
// unchanged descriptors issues none.
func (m *Manager) Ensure(ctx context.Context, descriptors []core.IndexDescriptor) (int, error) {
	catalog, err := ReadCatalog(ctx, m.coll)
	if err != nil {
		return 0, err
	}

	mutations := 0
	for _, step := range Plan(catalog, descriptors) {
		if step.Action == ActionNone {
			continue
		}

		d := step.Descriptor
		if err := m.coll.EnsureIndex(ctx, d); err != nil {
			return mutations, fmt.Errorf("failed to %s index on %s.%s: %w", step.Action, m.coll.Name(), d.Field, err)
		}
		mutations++

		logging.Info().
			Str("collection", m.coll.Name()).
			Str("field", d.Field).
			Bool("unique", d.Unique).
			Stringer("action", step.Action).
			Msg("index ensured")
	}
	return mutations, nil
}
