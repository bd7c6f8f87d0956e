package mirror

import (
	"context"
	"sort"

	"github.com/pkg/errors"

	"github.com/chatmirror/chatmirror/pkg/dialogkey"
	"github.com/chatmirror/chatmirror/pkg/dialogstore"
	"github.com/chatmirror/chatmirror/pkg/remote"
)

// Dialogs returns up to limit dialogs ordered by last activity, newest
// first. Multi-topic conversations are expanded into one record per topic;
// if the topic listing fails the conversation degrades to a single record
// rather than failing the whole request.
//
// Same tiering as Messages: hot cache, durable store (sufficient hit plus
// background refill), synchronous backend fetch.
func (c *Cache) Dialogs(ctx context.Context, limit int) ([]dialogstore.DialogRecord, error) {
	if c == nil {
		return nil, errors.New("mirror: cache is not initialized")
	}
	if limit <= 0 {
		return nil, errors.Wrapf(ErrInvalidLimit, "dialogs limit %d", limit)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	key := dialogsKey(limit)
	if page, ok := c.dialogs.Get(key); ok {
		return page, nil
	}

	page, err := c.store.Dialogs(ctx, limit)
	if err != nil {
		c.log.Warn().Err(err).Msg("store read degraded to miss")
		page = nil
	}
	// Served from the store whenever it has anything at all; the background
	// refill corrects drift. An empty store (first run, or wiped) is the
	// only case that waits on the backend.
	if len(page) > 0 {
		c.dialogs.Put(key, page)
		c.refillDialogsAsync(limit)
		return page, nil
	}

	v, err, _ := c.flight.Do(key, func() (any, error) {
		return c.fetchDialogs(ctx, limit)
	})
	if err != nil {
		return nil, err
	}
	return v.([]dialogstore.DialogRecord), nil
}

func (c *Cache) fetchDialogs(ctx context.Context, limit int) ([]dialogstore.DialogRecord, error) {
	observedAt := c.now().Unix()
	fetchCtx, cancel := context.WithTimeout(ctx, c.remoteTimeout)
	defer cancel()

	raws, err := c.fetcher.FetchDialogs(fetchCtx, limit)
	if err != nil {
		return nil, normalizeRemoteError(err)
	}

	records := make([]dialogstore.DialogRecord, 0, len(raws))
	var expandedBases []dialogkey.Key
	for _, raw := range raws {
		if raw.IsMultiTopic {
			expanded, err := c.expandMultiTopic(ctx, raw, observedAt)
			if err == nil {
				records = append(records, expanded...)
				expandedBases = append(expandedBases, dialogkey.ForConversation(raw.ConversationID))
				continue
			}
			c.log.Warn().Err(err).Str("conversation_id", raw.ConversationID).
				Msg("topic listing failed, treating conversation as single-topic")
		}
		records = append(records, dialogRecordFromRaw(raw, observedAt))
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].LastMessageTimeUnix > records[j].LastMessageTimeUnix
	})

	if err := c.store.UpsertDialogs(ctx, records); err != nil {
		c.log.Warn().Err(err).Msg("dialog upsert failed, serving unpersisted")
	}
	// A conversation that previously fell back to a single base record is
	// now represented per topic; retire the stale base row so store-served
	// pages don't list it twice.
	for _, base := range expandedBases {
		if err := c.store.DeleteDialog(ctx, base); err != nil {
			c.log.Warn().Err(err).Str("dialog_id", string(base)).Msg("stale base dialog delete failed")
		}
	}

	if len(records) > limit {
		records = records[:limit]
	}
	c.dialogs.Put(dialogsKey(limit), records)
	return records, nil
}

// expandMultiTopic fans one forum-style conversation out into per-topic
// dialog records, deriving each row's metadata from the topic's anchor
// message rather than from the parent conversation.
func (c *Cache) expandMultiTopic(ctx context.Context, raw remote.RawDialog, observedAt int64) ([]dialogstore.DialogRecord, error) {
	topics, err := c.topics.ListTopics(ctx, raw.ConversationID)
	if err != nil {
		return nil, err
	}
	if len(topics) == 0 {
		return nil, errors.Wrapf(remote.ErrNotFound, "no topics for conversation %s", raw.ConversationID)
	}

	records := make([]dialogstore.DialogRecord, 0, len(topics))
	for _, topic := range topics {
		rec := dialogstore.DialogRecord{
			ID:             dialogkey.ForTopic(raw.ConversationID, topic.ID),
			ConversationID: raw.ConversationID,
			TopicID:        topic.ID,
			HasTopic:       true,
			DisplayName:    raw.DisplayName + " / " + topic.Title,
			UnreadCount:    topic.UnreadCount,
			IsMultiTopic:   true,
			Kind:           dialogKind(raw.Kind),
			HasAvatar:      raw.HasAvatar,
			ObservedAtUnix: observedAt,
			Raw:            raw.Raw,
		}
		if anchor, ok := c.topics.AnchorMessage(raw.ConversationID, topic.ID); ok {
			rec.LastMessagePreview = previewText(anchor.Text)
			rec.LastMessageTimeUnix = anchor.TimeUnix
			if outgoing, known := c.topics.IsOutgoingAnchor(raw.ConversationID, anchor.ID); known {
				rec.LastMessageOutgoing = outgoing
			}
		}
		records = append(records, rec)
	}
	return records, nil
}

func (c *Cache) refillDialogsAsync(limit int) {
	key := dialogsKey(limit)
	go func() {
		_, err, _ := c.flight.Do(key, func() (any, error) {
			return c.fetchDialogs(context.Background(), limit)
		})
		if err != nil {
			c.log.Debug().Err(err).Msg("background dialog refill abandoned")
		}
	}()
}
