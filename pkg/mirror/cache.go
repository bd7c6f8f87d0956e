// Package mirror keeps a local view of dialogs and messages consistent with
// the remote messaging backend. Reads follow a three-tier path: the
// in-process hot cache, the durable store, and finally the backend itself,
// with each miss populating the tiers above it. A separate event ingestor
// applies live push events to the same state.
package mirror

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/chatmirror/chatmirror/pkg/dialogkey"
	"github.com/chatmirror/chatmirror/pkg/dialogstore"
	"github.com/chatmirror/chatmirror/pkg/remote"
)

// ErrInvalidLimit is returned for non-positive page limits. Limits are never
// silently coerced.
var ErrInvalidLimit = errors.New("mirror: limit must be positive")

const (
	defaultMessageTTL    = 2 * time.Second
	defaultDialogTTL     = 30 * time.Second
	defaultTopicTTL      = 30 * time.Second
	defaultRemoteTimeout = 20 * time.Second
)

// CacheConfig wires a Cache. Store and Fetcher are required; zero durations
// fall back to the defaults above.
type CacheConfig struct {
	Store   dialogstore.Store
	Fetcher remote.Fetcher

	MessageTTL    time.Duration
	DialogTTL     time.Duration
	TopicTTL      time.Duration
	RemoteTimeout time.Duration
}

// Cache owns all mutable cache state: the hot tier, the durable store
// handle, the topic resolver and the in-flight request registry. It is
// constructed once per process and shared by reference; there is no ambient
// global state.
type Cache struct {
	store   dialogstore.Store
	fetcher remote.Fetcher
	topics  *TopicResolver

	messages *ttlCache[[]dialogstore.MessageRecord]
	dialogs  *ttlCache[[]dialogstore.DialogRecord]
	flight   singleflight.Group

	remoteTimeout time.Duration
	now           func() time.Time
	log           zerolog.Logger
}

func NewCache(cfg CacheConfig) (*Cache, error) {
	if cfg.Store == nil {
		return nil, errors.New("mirror: cache store is nil")
	}
	if cfg.Fetcher == nil {
		return nil, errors.New("mirror: cache fetcher is nil")
	}
	messageTTL := cfg.MessageTTL
	if messageTTL <= 0 {
		messageTTL = defaultMessageTTL
	}
	dialogTTL := cfg.DialogTTL
	if dialogTTL <= 0 {
		dialogTTL = defaultDialogTTL
	}
	topicTTL := cfg.TopicTTL
	if topicTTL <= 0 {
		topicTTL = defaultTopicTTL
	}
	remoteTimeout := cfg.RemoteTimeout
	if remoteTimeout <= 0 {
		remoteTimeout = defaultRemoteTimeout
	}

	return &Cache{
		store:         cfg.Store,
		fetcher:       cfg.Fetcher,
		topics:        NewTopicResolver(cfg.Fetcher, topicTTL, remoteTimeout),
		messages:      newTTLCache[[]dialogstore.MessageRecord](messageTTL),
		dialogs:       newTTLCache[[]dialogstore.DialogRecord](dialogTTL),
		remoteTimeout: remoteTimeout,
		now:           time.Now,
		log:           log.With().Str("component", "mirror").Logger(),
	}, nil
}

// Topics exposes the resolver for callers that need topic metadata directly.
func (c *Cache) Topics() *TopicResolver {
	if c == nil {
		return nil
	}
	return c.topics
}

// Avatar reads a profile image through the store, falling back to the
// backend on a miss. subjectID is a remote entity ID, never a compound key.
func (c *Cache) Avatar(ctx context.Context, subjectID string) (dialogstore.AvatarBlob, error) {
	if c == nil {
		return dialogstore.AvatarBlob{}, errors.New("mirror: cache is not initialized")
	}
	if subjectID == "" {
		return dialogstore.AvatarBlob{}, errors.New("mirror: subjectID is empty")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	blob, ok, err := c.store.Avatar(ctx, subjectID)
	if err != nil {
		c.log.Warn().Err(err).Str("subject_id", subjectID).Msg("avatar read degraded to miss")
	}
	if ok {
		return blob, nil
	}

	v, err, _ := c.flight.Do("avatar|"+subjectID, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(ctx, c.remoteTimeout)
		defer cancel()
		raw, err := c.fetcher.FetchAvatar(fetchCtx, subjectID)
		if err != nil {
			return dialogstore.AvatarBlob{}, normalizeRemoteError(err)
		}
		if raw == nil {
			return dialogstore.AvatarBlob{}, errors.Wrapf(remote.ErrNotFound, "avatar %s", subjectID)
		}
		blob := dialogstore.AvatarBlob{
			SubjectID:     subjectID,
			Bytes:         raw.Bytes,
			MimeType:      raw.MimeType,
			UpdatedAtUnix: c.now().Unix(),
		}
		if err := c.store.SetAvatar(ctx, blob); err != nil {
			c.log.Warn().Err(err).Str("subject_id", subjectID).Msg("avatar write failed, serving unpersisted")
		}
		return blob, nil
	})
	if err != nil {
		return dialogstore.AvatarBlob{}, err
	}
	return v.(dialogstore.AvatarBlob), nil
}

// invalidateDialog drops every hot entry touching the dialog, including the
// dialog list whose previews may have changed.
func (c *Cache) invalidateDialog(dialogID dialogkey.Key) {
	c.messages.InvalidatePrefix(messagesKeyPrefix(dialogID))
	c.dialogs.Clear()
}

func messagesKeyPrefix(dialogID dialogkey.Key) string {
	return "m|" + string(dialogID) + "|"
}

func messagesKey(dialogID dialogkey.Key, limit int, beforeID int64) string {
	return fmt.Sprintf("%s%d|%d", messagesKeyPrefix(dialogID), limit, beforeID)
}

func dialogsKey(limit int) string {
	return fmt.Sprintf("d|%d", limit)
}

// normalizeRemoteError folds context cancellation into the remote taxonomy
// so callers only ever branch on the sentinel errors.
func normalizeRemoteError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Wrap(remote.ErrTimeout, err.Error())
	}
	return err
}
