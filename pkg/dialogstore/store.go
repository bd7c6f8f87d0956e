// Package dialogstore persists dialogs, messages and avatars across
// restarts. It is the durable middle tier of the cache: the hot tier reads
// through it, the event ingestor writes through it, and everything survives
// a process restart.
package dialogstore

import (
	"context"

	"github.com/chatmirror/chatmirror/pkg/dialogkey"
)

// Store is the durable tier. Implementations must make batch upserts atomic
// (a partial batch is never observable) and idempotent on their primary
// keys, and must honor the ObservedAtUnix guard: an upsert older than the
// stored row leaves the row untouched.
type Store interface {
	// Messages returns up to limit messages for the dialog, oldest first
	// within the returned page. When beforeID > 0 only messages with
	// RemoteMessageID < beforeID are considered, otherwise the most recent
	// page is returned. Fewer than limit rows means the store has nothing
	// older.
	Messages(ctx context.Context, dialogID dialogkey.Key, limit int, beforeID int64) ([]MessageRecord, error)

	// UpsertMessages applies the batch in one transaction.
	UpsertMessages(ctx context.Context, dialogID dialogkey.Key, records []MessageRecord) error

	// DeleteMessage removes one row; deleting an absent row is a no-op.
	DeleteMessage(ctx context.Context, dialogID dialogkey.Key, remoteMessageID int64) error

	// Dialogs returns up to limit dialogs ordered by last activity,
	// newest first.
	Dialogs(ctx context.Context, limit int) ([]DialogRecord, error)

	// UpsertDialogs applies the batch in one transaction.
	UpsertDialogs(ctx context.Context, records []DialogRecord) error

	// DeleteDialog removes one dialog row; deleting an absent row is a
	// no-op. Message rows keyed by the dialog are untouched.
	DeleteDialog(ctx context.Context, id dialogkey.Key) error

	Avatar(ctx context.Context, subjectID string) (AvatarBlob, bool, error)
	SetAvatar(ctx context.Context, blob AvatarBlob) error

	// Close flushes and releases the underlying handles. Safe to call on
	// every exit path.
	Close() error
}
