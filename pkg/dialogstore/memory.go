package dialogstore

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/chatmirror/chatmirror/pkg/dialogkey"
)

// InMemoryStore is a Store implementation backed by plain maps. It mirrors
// the ordering and observed-at semantics of the SQLite store so the read
// path behaves identically against either tier; nothing survives a restart.
type InMemoryStore struct {
	mu       sync.Mutex
	messages map[dialogkey.Key]map[int64]MessageRecord
	dialogs  map[dialogkey.Key]DialogRecord
	avatars  map[string]AvatarBlob
}

var _ Store = &InMemoryStore{}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		messages: map[dialogkey.Key]map[int64]MessageRecord{},
		dialogs:  map[dialogkey.Key]DialogRecord{},
		avatars:  map[string]AvatarBlob{},
	}
}

func (s *InMemoryStore) Close() error { return nil }

func (s *InMemoryStore) Messages(_ context.Context, dialogID dialogkey.Key, limit int, beforeID int64) ([]MessageRecord, error) {
	if s == nil {
		return nil, errors.New("in-memory dialog store: nil store")
	}
	if dialogID == "" {
		return nil, errors.New("in-memory dialog store: dialogID is empty")
	}
	if limit <= 0 {
		return nil, errors.New("in-memory dialog store: limit must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	byID := s.messages[dialogID]
	candidates := make([]MessageRecord, 0, len(byID))
	for id, rec := range byID {
		if beforeID > 0 && id >= beforeID {
			continue
		}
		candidates = append(candidates, rec)
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].RemoteMessageID > candidates[j].RemoteMessageID
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	reverseMessages(candidates)
	return candidates, nil
}

func (s *InMemoryStore) UpsertMessages(_ context.Context, dialogID dialogkey.Key, records []MessageRecord) error {
	if s == nil {
		return errors.New("in-memory dialog store: nil store")
	}
	if dialogID == "" {
		return errors.New("in-memory dialog store: dialogID is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	byID := s.messages[dialogID]
	if byID == nil {
		byID = map[int64]MessageRecord{}
		s.messages[dialogID] = byID
	}
	for _, rec := range records {
		rec.DialogID = dialogID
		if existing, ok := byID[rec.RemoteMessageID]; ok && existing.ObservedAtUnix > rec.ObservedAtUnix {
			continue
		}
		byID[rec.RemoteMessageID] = rec
	}
	return nil
}

func (s *InMemoryStore) DeleteMessage(_ context.Context, dialogID dialogkey.Key, remoteMessageID int64) error {
	if s == nil {
		return errors.New("in-memory dialog store: nil store")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if byID := s.messages[dialogID]; byID != nil {
		delete(byID, remoteMessageID)
	}
	return nil
}

func (s *InMemoryStore) Dialogs(_ context.Context, limit int) ([]DialogRecord, error) {
	if s == nil {
		return nil, errors.New("in-memory dialog store: nil store")
	}
	if limit <= 0 {
		return nil, errors.New("in-memory dialog store: limit must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]DialogRecord, 0, len(s.dialogs))
	for _, rec := range s.dialogs {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].LastMessageTimeUnix != records[j].LastMessageTimeUnix {
			return records[i].LastMessageTimeUnix > records[j].LastMessageTimeUnix
		}
		return records[i].ID < records[j].ID
	})
	if len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func (s *InMemoryStore) UpsertDialogs(_ context.Context, records []DialogRecord) error {
	if s == nil {
		return errors.New("in-memory dialog store: nil store")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		if rec.ID == "" {
			return errors.New("in-memory dialog store: dialog record without id")
		}
		if existing, ok := s.dialogs[rec.ID]; ok && existing.ObservedAtUnix > rec.ObservedAtUnix {
			continue
		}
		s.dialogs[rec.ID] = rec
	}
	return nil
}

func (s *InMemoryStore) DeleteDialog(_ context.Context, id dialogkey.Key) error {
	if s == nil {
		return errors.New("in-memory dialog store: nil store")
	}
	if id == "" {
		return errors.New("in-memory dialog store: dialog id is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.dialogs, id)
	return nil
}

func (s *InMemoryStore) Avatar(_ context.Context, subjectID string) (AvatarBlob, bool, error) {
	if s == nil {
		return AvatarBlob{}, false, errors.New("in-memory dialog store: nil store")
	}
	if subjectID == "" {
		return AvatarBlob{}, false, errors.New("in-memory dialog store: subjectID is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	blob, ok := s.avatars[subjectID]
	return blob, ok, nil
}

func (s *InMemoryStore) SetAvatar(_ context.Context, blob AvatarBlob) error {
	if s == nil {
		return errors.New("in-memory dialog store: nil store")
	}
	if blob.SubjectID == "" {
		return errors.New("in-memory dialog store: subjectID is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.avatars[blob.SubjectID] = blob
	return nil
}
