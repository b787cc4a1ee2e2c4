package index

import (
	"context"
	"sort"

	"github.com/pay-theory/docorm/pkg/core"
	"github.com/pay-theory/docorm/pkg/errors"
)

// Guard rejects find-or-create lookups on fields the store cannot keep
// unique. Without it two concurrent GetOrCreate calls on a non-unique field
// could both miss and both insert.
type Guard struct {
	coll core.Collection
}

// NewGuard creates a guard for coll
func NewGuard(coll core.Collection) *Guard {
	return &Guard{coll: coll}
}

// Check returns a *errors.UniqueError naming every key without a unique
// index. It reads the live catalog on every call.
func (g *Guard) Check(ctx context.Context, keys []string) error {
	catalog, err := ReadCatalog(ctx, g.coll)
	if err != nil {
		return err
	}
	return CheckKeys(g.coll.Name(), catalog, keys)
}

// CheckKeys is Check against an already read catalog
func CheckKeys(collection string, catalog Catalog, keys []string) error {
	unique := catalog.UniqueFields()

	var missing []string
	for _, k := range keys {
		if _, ok := unique[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return errors.NewUniqueError(collection, missing)
}
