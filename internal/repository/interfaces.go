package repository

import (
	"context"

	"tcsgo-engine/internal/model"
)

// LinkRepository defines account-link data access methods. Links group
// identities across platforms so one viewer's inventories can be merged.
type LinkRepository interface {
	// ResolveLinks returns every identity linked to the given one, including
	// itself. An unlinked identity resolves to a single-element slice.
	ResolveLinks(ctx context.Context, identity model.Identity) ([]model.Identity, error)

	// CreateLink links two identities into one group, merging their existing
	// groups when both are already linked elsewhere.
	CreateLink(ctx context.Context, a, b model.Identity) error

	// RemoveLink detaches an identity from its link group.
	RemoveLink(ctx context.Context, identity model.Identity) error

	// Close closes the repository connection.
	Close() error
}
