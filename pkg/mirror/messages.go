package mirror

import (
	"context"

	"github.com/pkg/errors"

	"github.com/chatmirror/chatmirror/pkg/dialogkey"
	"github.com/chatmirror/chatmirror/pkg/dialogstore"
)

// Messages returns up to limit messages for the dialog, oldest first within
// the page. beforeID > 0 pages backwards through history; zero asks for the
// most recent page.
//
// The read path is hot cache, then durable store, then the backend. A
// nonempty store page is served immediately and corrected by a
// fire-and-forget background refill; a cold store goes to the backend
// synchronously. Concurrent requests for the same (dialog, limit, cursor)
// share one in-flight remote call.
func (c *Cache) Messages(ctx context.Context, dialogID dialogkey.Key, limit int, beforeID int64) ([]dialogstore.MessageRecord, error) {
	if c == nil {
		return nil, errors.New("mirror: cache is not initialized")
	}
	if dialogID == "" {
		return nil, errors.New("mirror: dialogID is empty")
	}
	if limit <= 0 {
		return nil, errors.Wrapf(ErrInvalidLimit, "messages limit %d", limit)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	key := messagesKey(dialogID, limit, beforeID)
	if page, ok := c.messages.Get(key); ok {
		return page, nil
	}

	page, err := c.store.Messages(ctx, dialogID, limit, beforeID)
	if err != nil {
		// A broken store never blocks the fall-through to the backend.
		c.log.Warn().Err(err).Str("dialog_id", string(dialogID)).Msg("store read degraded to miss")
		page = nil
	}
	// Any cached rows are served immediately; a background refill corrects
	// drift (and tops up a short page) within one round trip. Only a cold
	// store forces the caller to wait on the backend.
	if len(page) > 0 {
		c.messages.Put(key, page)
		c.refillMessagesAsync(dialogID, limit, beforeID)
		return page, nil
	}

	v, err, _ := c.flight.Do(key, func() (any, error) {
		return c.fetchMessages(ctx, dialogID, limit, beforeID)
	})
	if err != nil {
		return nil, err
	}
	return v.([]dialogstore.MessageRecord), nil
}

// fetchMessages performs the synchronous L3 fetch and populates both cache
// tiers. Results are timestamped at fetch start, so a refill that raced a
// newer live edit loses the store upsert.
func (c *Cache) fetchMessages(ctx context.Context, dialogID dialogkey.Key, limit int, beforeID int64) ([]dialogstore.MessageRecord, error) {
	convID, topicID, hasTopic := dialogkey.Parse(dialogID)
	if !hasTopic {
		topicID = 0
	}

	observedAt := c.now().Unix()
	fetchCtx, cancel := context.WithTimeout(ctx, c.remoteTimeout)
	defer cancel()

	raws, err := c.fetcher.FetchMessages(fetchCtx, convID, topicID, limit, beforeID)
	if err != nil {
		return nil, normalizeRemoteError(err)
	}

	records := messageRecordsFromRaw(dialogID, raws, observedAt)
	if err := c.store.UpsertMessages(ctx, dialogID, records); err != nil {
		c.log.Warn().Err(err).Str("dialog_id", string(dialogID)).Msg("message upsert failed, serving unpersisted")
	}

	// Re-read so a concurrent live edit that beat our upsert wins in the
	// served page too, not just in the store.
	page, err := c.store.Messages(ctx, dialogID, limit, beforeID)
	if err != nil || len(page) == 0 {
		page = records
	}
	c.messages.Put(messagesKey(dialogID, limit, beforeID), page)
	return page, nil
}

// refillMessagesAsync corrects drift behind a sufficient store hit. Failures
// are logged and dropped; they never reach the caller that was already
// served. The single-flight key is shared with the synchronous path so a
// refill and a concurrent cold read collapse into one remote call.
func (c *Cache) refillMessagesAsync(dialogID dialogkey.Key, limit int, beforeID int64) {
	key := messagesKey(dialogID, limit, beforeID)
	go func() {
		_, err, _ := c.flight.Do(key, func() (any, error) {
			return c.fetchMessages(context.Background(), dialogID, limit, beforeID)
		})
		if err != nil {
			c.log.Debug().Err(err).Str("dialog_id", string(dialogID)).Msg("background message refill abandoned")
		}
	}()
}
