package store

import (
	"context"
	"sort"
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/model"
)

type pairKey struct{ low, high int64 }

// Memory is a Store kept entirely in process memory.
type Memory struct {
	clock clock.Clock

	mu          sync.RWMutex
	nextID      int64
	users       map[int64]model.User
	byUsername  map[string]int64
	friendships map[int64]*model.Friendship
	byPair      map[pairKey]int64
	messages    []model.Message
}

var _ Store = (*Memory)(nil)

func NewMemory(clk clock.Clock) *Memory {
	if clk == nil {
		clk = clock.New()
	}
	return &Memory{
		clock:       clk,
		users:       make(map[int64]model.User),
		byUsername:  make(map[string]int64),
		friendships: make(map[int64]*model.Friendship),
		byPair:      make(map[pairKey]int64),
	}
}

func (m *Memory) allocIDLocked() int64 {
	m.nextID++
	return m.nextID
}

func (m *Memory) CreateUser(_ context.Context, username, passwordHash string) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byUsername[username]; ok {
		return model.User{}, model.ErrUsernameTaken
	}
	u := model.User{
		Identity:     model.Identity{ID: m.allocIDLocked(), Username: username},
		PasswordHash: passwordHash,
		CreatedAt:    m.clock.Now().UTC(),
	}
	m.users[u.ID] = u
	m.byUsername[username] = u.ID
	return u, nil
}

func (m *Memory) UserByUsername(_ context.Context, username string) (model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byUsername[username]
	if !ok {
		return model.User{}, model.ErrNotFound
	}
	return m.users[id], nil
}

func (m *Memory) UserByID(_ context.Context, id int64) (model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return model.User{}, model.ErrNotFound
	}
	return u, nil
}

func (m *Memory) CreatePending(_ context.Context, requesterID, targetID int64) (model.Friendship, error) {
	if requesterID == targetID {
		return model.Friendship{}, model.ErrSelfFriendship
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[requesterID]; !ok {
		return model.Friendship{}, model.ErrNotFound
	}
	if _, ok := m.users[targetID]; !ok {
		return model.Friendship{}, model.ErrNotFound
	}

	low, high := model.PairKey(requesterID, targetID)
	key := pairKey{low, high}
	if _, ok := m.byPair[key]; ok {
		return model.Friendship{}, model.ErrFriendshipExists
	}

	f := &model.Friendship{
		ID:          m.allocIDLocked(),
		RequesterID: requesterID,
		TargetID:    targetID,
		Status:      model.FriendshipPending,
		CreatedAt:   m.clock.Now().UTC(),
	}
	m.friendships[f.ID] = f
	m.byPair[key] = f.ID
	return *f, nil
}

func (m *Memory) ListAccepted(_ context.Context, userID int64) ([]model.Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var rels []*model.Friendship
	for _, f := range m.friendships {
		if f.Status != model.FriendshipAccepted {
			continue
		}
		if f.RequesterID == userID || f.TargetID == userID {
			rels = append(rels, f)
		}
	}
	sort.Slice(rels, func(i, j int) bool { return rels[i].ID < rels[j].ID })

	out := make([]model.Identity, 0, len(rels))
	for _, f := range rels {
		other := f.TargetID
		if other == userID {
			other = f.RequesterID
		}
		out = append(out, m.users[other].Identity)
	}
	return out, nil
}

func (m *Memory) ListPending(_ context.Context, userID int64) ([]model.PendingRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []model.PendingRequest{}
	for _, f := range m.friendships {
		if f.Status == model.FriendshipPending && f.TargetID == userID {
			out = append(out, model.PendingRequest{ID: f.ID, Requester: m.users[f.RequesterID].Identity})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) Accept(_ context.Context, friendshipID, actingID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.friendships[friendshipID]
	if !ok {
		return model.ErrNotFound
	}
	if f.TargetID != actingID {
		return model.ErrNotRequestTarget
	}
	f.Status = model.FriendshipAccepted
	return nil
}

func (m *Memory) PersistMessage(_ context.Context, senderID, receiverID int64, content string) (model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg := model.Message{
		ID:         m.allocIDLocked(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		CreatedAt:  m.clock.Now().UTC(),
	}
	m.messages = append(m.messages, msg)
	return msg, nil
}

func (m *Memory) Conversation(_ context.Context, a, b int64) ([]model.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []model.Message{}
	for _, msg := range m.messages {
		if (msg.SenderID == a && msg.ReceiverID == b) || (msg.SenderID == b && msg.ReceiverID == a) {
			out = append(out, msg)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
