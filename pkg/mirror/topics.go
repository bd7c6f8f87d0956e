package mirror

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/chatmirror/chatmirror/pkg/remote"
)

// Topic is one named sub-conversation of a multi-topic conversation,
// together with the identity of its anchor (most recent known) message.
type Topic struct {
	ID              int64
	Title           string
	UnreadCount     int
	AnchorMessageID int64
}

// TopicResolver caches per-conversation topic lists and an anchor-message
// index. The index maps every message we have attributed to a topic back to
// that topic, so per-topic dialog metadata (unread, outgoing, preview) and
// event routing never fall back to nearest-timestamp guessing.
type TopicResolver struct {
	fetcher       remote.Fetcher
	ttl           time.Duration
	remoteTimeout time.Duration
	now           func() time.Time

	mu     sync.Mutex
	convs  map[string]*topicIndex
	flight singleflight.Group
	log    zerolog.Logger
}

type topicIndex struct {
	topics         []Topic
	anchors        map[int64]remote.RawMessage // anchor message by ID
	topicByMessage map[int64]int64             // attributed message ID -> topic ID
	fetchedAt      time.Time
}

func NewTopicResolver(fetcher remote.Fetcher, ttl, remoteTimeout time.Duration) *TopicResolver {
	if ttl <= 0 {
		ttl = defaultTopicTTL
	}
	if remoteTimeout <= 0 {
		remoteTimeout = defaultRemoteTimeout
	}
	return &TopicResolver{
		fetcher:       fetcher,
		ttl:           ttl,
		remoteTimeout: remoteTimeout,
		now:           time.Now,
		convs:         map[string]*topicIndex{},
		log:           log.With().Str("component", "topics").Logger(),
	}
}

// ListTopics returns the conversation's topics, fetching on a cold or
// expired entry. The fetch also captures the anchor-message batch, which is
// retained for IsOutgoingAnchor / TopicForMessage lookups.
func (r *TopicResolver) ListTopics(ctx context.Context, conversationID string) ([]Topic, error) {
	if r == nil {
		return nil, errors.New("mirror: topic resolver is not initialized")
	}
	if conversationID == "" {
		return nil, errors.New("mirror: conversationID is empty")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	r.mu.Lock()
	idx, ok := r.convs[conversationID]
	if ok && r.now().Sub(idx.fetchedAt) < r.ttl {
		topics := append([]Topic(nil), idx.topics...)
		r.mu.Unlock()
		return topics, nil
	}
	r.mu.Unlock()

	v, err, _ := r.flight.Do(conversationID, func() (any, error) {
		return r.fetchTopics(ctx, conversationID)
	})
	if err != nil {
		return nil, err
	}
	return append([]Topic(nil), v.([]Topic)...), nil
}

func (r *TopicResolver) fetchTopics(ctx context.Context, conversationID string) ([]Topic, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, r.remoteTimeout)
	defer cancel()

	rawTopics, anchors, err := r.fetcher.FetchTopics(fetchCtx, conversationID)
	if err != nil {
		return nil, normalizeRemoteError(err)
	}

	idx := &topicIndex{
		topics:         make([]Topic, 0, len(rawTopics)),
		anchors:        make(map[int64]remote.RawMessage, len(anchors)),
		topicByMessage: make(map[int64]int64, len(anchors)),
		fetchedAt:      r.now(),
	}
	for _, t := range rawTopics {
		idx.topics = append(idx.topics, Topic{
			ID:              t.TopicID,
			Title:           t.Title,
			UnreadCount:     t.UnreadCount,
			AnchorMessageID: t.AnchorMessageID,
		})
	}
	for _, m := range anchors {
		idx.anchors[m.ID] = m
		if m.TopicID != 0 {
			idx.topicByMessage[m.ID] = m.TopicID
		}
	}
	// Anchor attribution from the topic rows wins over the message batch.
	for _, t := range rawTopics {
		if t.AnchorMessageID != 0 {
			idx.topicByMessage[t.AnchorMessageID] = t.TopicID
		}
	}

	r.mu.Lock()
	// Live events may have extended the previous index while we fetched;
	// carry their attributions forward so routing stays stable.
	if prev, ok := r.convs[conversationID]; ok {
		for msgID, topicID := range prev.topicByMessage {
			if _, exists := idx.topicByMessage[msgID]; !exists {
				idx.topicByMessage[msgID] = topicID
			}
		}
	}
	r.convs[conversationID] = idx
	r.mu.Unlock()

	return idx.topics, nil
}

// AnchorMessage returns the cached anchor message for a topic, if known.
func (r *TopicResolver) AnchorMessage(conversationID string, topicID int64) (remote.RawMessage, bool) {
	if r == nil {
		return remote.RawMessage{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	idx, ok := r.convs[conversationID]
	if !ok {
		return remote.RawMessage{}, false
	}
	for _, t := range idx.topics {
		if t.ID != topicID {
			continue
		}
		anchor, ok := idx.anchors[t.AnchorMessageID]
		return anchor, ok
	}
	return remote.RawMessage{}, false
}

// IsOutgoingAnchor reports whether the given message is a known anchor and
// whether it was outgoing.
func (r *TopicResolver) IsOutgoingAnchor(conversationID string, messageID int64) (outgoing bool, known bool) {
	if r == nil {
		return false, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	idx, ok := r.convs[conversationID]
	if !ok {
		return false, false
	}
	anchor, ok := idx.anchors[messageID]
	if !ok {
		return false, false
	}
	return anchor.IsOutgoing, true
}

// TopicForMessage resolves which topic a message belongs to, using the
// attribution index built from topic anchors and observed live traffic.
func (r *TopicResolver) TopicForMessage(conversationID string, messageID int64) (int64, bool) {
	if r == nil || messageID == 0 {
		return 0, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	idx, ok := r.convs[conversationID]
	if !ok {
		return 0, false
	}
	topicID, ok := idx.topicByMessage[messageID]
	return topicID, ok
}

// NoteMessage records a live message attributed to a topic: it becomes the
// topic's new anchor and joins the attribution index.
func (r *TopicResolver) NoteMessage(conversationID string, topicID int64, msg remote.RawMessage) {
	if r == nil || conversationID == "" || topicID == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	idx, ok := r.convs[conversationID]
	if !ok {
		// No fetched index yet; start one that only carries attributions.
		// The topic list itself still comes from the next fetch.
		idx = &topicIndex{
			anchors:        map[int64]remote.RawMessage{},
			topicByMessage: map[int64]int64{},
		}
		r.convs[conversationID] = idx
	}
	idx.anchors[msg.ID] = msg
	idx.topicByMessage[msg.ID] = topicID
	for i := range idx.topics {
		if idx.topics[i].ID == topicID && msg.ID > idx.topics[i].AnchorMessageID {
			idx.topics[i].AnchorMessageID = msg.ID
		}
	}
}

// ForgetMessage drops a deleted message from the attribution index so it no
// longer serves as an anchor or a routing hint for later replies.
func (r *TopicResolver) ForgetMessage(conversationID string, messageID int64) {
	if r == nil || messageID == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	idx, ok := r.convs[conversationID]
	if !ok {
		return
	}
	delete(idx.anchors, messageID)
	delete(idx.topicByMessage, messageID)
}

// Invalidate drops the cached topic list for a conversation. Attributions
// are kept; they are still valid for event routing.
func (r *TopicResolver) Invalidate(conversationID string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if idx, ok := r.convs[conversationID]; ok {
		idx.fetchedAt = time.Time{}
	}
}
