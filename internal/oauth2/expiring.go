package oauth2

import (
	"context"

	"github.com/uptrace/bun"
)

// ExpiringModel is implemented by entities that carry an expiration
// timestamp and know how to clean themselves up once it passes.
type ExpiringModel interface {
	IsExpired() bool
	// ExpireAction removes the expired entity from the store.
	ExpireAction(ctx context.Context, db bun.IDB) error
}
