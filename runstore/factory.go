package runstore

import (
	"fmt"

	"github.com/openfluke/bytecnn/nn"
)

// NewStore returns an uninitialized store of the given kind: "memory"
// (the default) or "sqlite" at sqlitePath.
func NewStore(kind, sqlitePath string) (Store, error) {
	switch kind {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return NewSQLiteStore(sqlitePath), nil
	default:
		return nil, fmt.Errorf("unsupported store backend: %s: %w", kind, nn.ErrConfiguration)
	}
}
