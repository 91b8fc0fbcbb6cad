// Sets of string flags attached to a key.
//
// The dispatcher records per-sender moderation flags ("warned", "deleted") here, keyed by sender ID.
package flagstore

import (
	"context"
)

type FlagStore interface {
	Get(ctx context.Context, key string) ([]string, error)
	Add(ctx context.Context, key string, flags []string) error
	// Removing flags which are not set is not an error.
	Remove(ctx context.Context, key string, flags []string) error
}
