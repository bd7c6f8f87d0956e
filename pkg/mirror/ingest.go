package mirror

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/chatmirror/chatmirror/pkg/dialogkey"
	"github.com/chatmirror/chatmirror/pkg/dialogstore"
	"github.com/chatmirror/chatmirror/pkg/remote"
)

// IngestorConfig wires an Ingestor. Cache is required. Publisher is
// optional; when set, every normalized event is also published there as
// JSON under PublishTopic.
type IngestorConfig struct {
	Cache        *Cache
	Publisher    message.Publisher
	PublishTopic string
}

const defaultPublishTopic = "chatmirror.events"

// Ingestor applies backend push events to the cache tiers in arrival order
// and republishes them in normalized form. It writes straight through to
// the store and hot cache; it never goes through the tiered read path.
type Ingestor struct {
	cache        *Cache
	publisher    message.Publisher
	publishTopic string

	mu        sync.Mutex
	listeners map[string]Listener

	now func() time.Time
	log zerolog.Logger
}

func NewIngestor(cfg IngestorConfig) (*Ingestor, error) {
	if cfg.Cache == nil {
		return nil, errors.New("mirror: ingestor cache is nil")
	}
	publishTopic := cfg.PublishTopic
	if publishTopic == "" {
		publishTopic = defaultPublishTopic
	}
	return &Ingestor{
		cache:        cfg.Cache,
		publisher:    cfg.Publisher,
		publishTopic: publishTopic,
		listeners:    map[string]Listener{},
		now:          time.Now,
		log:          log.With().Str("component", "ingest").Logger(),
	}, nil
}

// Subscribe registers a listener and returns its cancellation handle.
func (in *Ingestor) Subscribe(fn Listener) (cancel func()) {
	if in == nil || fn == nil {
		return func() {}
	}
	id := uuid.NewString()
	in.mu.Lock()
	in.listeners[id] = fn
	in.mu.Unlock()
	return func() {
		in.mu.Lock()
		delete(in.listeners, id)
		in.mu.Unlock()
	}
}

// Run consumes the event channel until it closes or ctx is cancelled.
// Events are applied strictly in arrival order, which preserves the
// backend's per-dialog ordering.
func (in *Ingestor) Run(ctx context.Context, events <-chan remote.Event) error {
	if in == nil {
		return errors.New("mirror: ingestor is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			in.Apply(ctx, ev)
		}
	}
}

// Apply processes one push event: persist, invalidate hot entries,
// republish.
func (in *Ingestor) Apply(ctx context.Context, ev remote.Event) {
	if in == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	switch ev.Kind {
	case remote.EventNewMessage, remote.EventEditedMessage:
		in.applyMessage(ctx, ev)
	case remote.EventDeletedMessage:
		in.applyDeleted(ctx, ev)
	case remote.EventTyping:
		// Ephemeral presence signal: republish only, nothing persisted.
		in.publish(Event{
			Kind:       ev.Kind,
			DialogID:   in.owningKey(ev),
			SenderID:   ev.SenderID,
			SenderName: ev.SenderName,
			TimeUnix:   in.eventTime(ev),
		})
	case remote.EventReadHistory:
		// Read receipts are ephemeral like typing: republish only. The
		// unread count is refreshed by the next dialog fetch.
		in.publish(Event{
			Kind:      ev.Kind,
			DialogID:  in.owningKey(ev),
			MaxReadID: ev.MaxReadID,
			TimeUnix:  in.eventTime(ev),
		})
	default:
		in.log.Debug().Str("kind", string(ev.Kind)).Msg("ignoring unknown event kind")
	}
}

func (in *Ingestor) applyMessage(ctx context.Context, ev remote.Event) {
	if ev.Message == nil {
		in.log.Warn().Str("kind", string(ev.Kind)).Msg("message event without message payload")
		return
	}
	key := in.owningKey(ev)
	observedAt := in.eventTime(ev)
	rec := messageRecordFromRaw(key, *ev.Message, observedAt)

	// A store failure must not stale the live view; the hot-cache
	// invalidation below still happens and the event is still delivered.
	if err := in.cache.store.UpsertMessages(ctx, key, []dialogstore.MessageRecord{rec}); err != nil {
		in.log.Warn().Err(err).Str("dialog_id", string(key)).Msg("event upsert failed")
	}

	if topicID, ok := dialogkey.Topic(key); ok {
		in.cache.topics.NoteMessage(ev.Message.ConversationID, topicID, *ev.Message)
	}
	in.cache.invalidateDialog(key)

	in.publish(Event{
		Kind:     ev.Kind,
		DialogID: key,
		Message:  &rec,
		TimeUnix: observedAt,
	})
}

func (in *Ingestor) applyDeleted(ctx context.Context, ev remote.Event) {
	// Deletes arrive without a topic stamp just like new messages. Each ID
	// is routed through the attribution index individually, so a message
	// stored under a topic dialog is removed from that dialog rather than
	// missed under the base one.
	byKey := map[dialogkey.Key][]int64{}
	base := in.owningKey(ev)
	for _, id := range ev.MessageIDs {
		key := base
		if ev.TopicID == 0 {
			if topicID, ok := in.cache.topics.TopicForMessage(ev.ConversationID, id); ok {
				key = dialogkey.ForTopic(ev.ConversationID, topicID)
			}
		}
		byKey[key] = append(byKey[key], id)
	}

	timeUnix := in.eventTime(ev)
	for key, ids := range byKey {
		for _, id := range ids {
			if err := in.cache.store.DeleteMessage(ctx, key, id); err != nil {
				in.log.Warn().Err(err).Int64("message_id", id).Msg("event delete failed")
			}
			in.cache.topics.ForgetMessage(ev.ConversationID, id)
		}
		in.cache.invalidateDialog(key)

		in.publish(Event{
			Kind:       ev.Kind,
			DialogID:   key,
			MessageIDs: ids,
			TimeUnix:   timeUnix,
		})
	}
}

// owningKey computes the compound key an event belongs to. For multi-topic
// conversations the backend does not always stamp the topic on the wire; a
// message that replies into a known topic thread is routed through the
// resolver's attribution index.
func (in *Ingestor) owningKey(ev remote.Event) dialogkey.Key {
	topicID := ev.TopicID
	if topicID == 0 && ev.Message != nil {
		topicID = ev.Message.TopicID
	}
	if topicID == 0 && ev.Message != nil && ev.Message.ReplyToID != 0 {
		if resolved, ok := in.cache.topics.TopicForMessage(ev.ConversationID, ev.Message.ReplyToID); ok {
			topicID = resolved
		}
	}
	if topicID != 0 {
		return dialogkey.ForTopic(ev.ConversationID, topicID)
	}
	return dialogkey.ForConversation(ev.ConversationID)
}

func (in *Ingestor) eventTime(ev remote.Event) int64 {
	if ev.TimeUnix > 0 {
		return ev.TimeUnix
	}
	if ev.Message != nil {
		if ev.Message.EditTimeUnix > 0 {
			return ev.Message.EditTimeUnix
		}
		if ev.Message.TimeUnix > 0 {
			return ev.Message.TimeUnix
		}
	}
	return in.now().Unix()
}

// publish delivers the normalized event to every listener and, when
// configured, to the watermill publisher.
func (in *Ingestor) publish(ev Event) {
	in.mu.Lock()
	listeners := make([]Listener, 0, len(in.listeners))
	for _, fn := range in.listeners {
		listeners = append(listeners, fn)
	}
	in.mu.Unlock()

	for _, fn := range listeners {
		in.deliver(fn, ev)
	}

	if in.publisher == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		in.log.Error().Err(err).Msg("marshal normalized event")
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := in.publisher.Publish(in.publishTopic, msg); err != nil {
		in.log.Warn().Err(err).Str("topic", in.publishTopic).Msg("publish normalized event")
	}
}

func (in *Ingestor) deliver(fn Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			in.log.Error().Interface("panic", r).Str("kind", string(ev.Kind)).Msg("listener panicked")
		}
	}()
	fn(ev)
}
