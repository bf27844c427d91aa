package port

import "context"

// ArtifactStore keeps copies of ledger documents (timestamped backups and the
// mirror) under a single root. Keys are relative paths that must stay inside
// that root.
type ArtifactStore interface {
	Put(ctx context.Context, key string, content []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	// Remove succeeds when the key is already gone
	Remove(ctx context.Context, key string) error
	// List returns the keys directly under prefix in name order
	List(ctx context.Context, prefix string) ([]string, error)
}
