package agent

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

const tempIDPrefix = "temp_"

// Message is a chat message as the client sees it. Optimistic entries carry a
// temp_ id until the server's copy replaces them.
type Message struct {
	ID          string    `json:"id"`
	SenderID    string    `json:"senderId"`
	RecipientID string    `json:"recipientId"`
	Text        string    `json:"text"`
	CreatedAt   time.Time `json:"createdAt"`
	Read        bool      `json:"read"`
}

// Pending reports whether the message is an unconfirmed local send.
func (m Message) Pending() bool {
	return strings.HasPrefix(m.ID, tempIDPrefix)
}

func newTempID() string {
	return tempIDPrefix + uuid.NewString()
}

// View merges history fetches, live frames and optimistic sends for one
// conversation. Entries are keyed by id; a live copy is never overwritten by
// history, and each authoritative self-message retires at most one
// optimistic entry.
type View struct {
	mu sync.Mutex

	selfID string
	peerID string

	entries map[string]Message
	live    map[string]bool
	seen    map[string]bool
	pending []string
}

func NewView(selfID, peerID string) *View {
	return &View{
		selfID:  selfID,
		peerID:  peerID,
		entries: make(map[string]Message),
		live:    make(map[string]bool),
		seen:    make(map[string]bool),
	}
}

// Belongs reports whether msg is part of this view's conversation.
func (v *View) Belongs(msg Message) bool {
	return (msg.SenderID == v.selfID && msg.RecipientID == v.peerID) ||
		(msg.SenderID == v.peerID && msg.RecipientID == v.selfID)
}

// AddPending records an optimistic send and returns its temporary id.
func (v *View) AddPending(text string, at time.Time) string {
	v.mu.Lock()
	defer v.mu.Unlock()

	id := newTempID()
	v.entries[id] = Message{
		ID:          id,
		SenderID:    v.selfID,
		RecipientID: v.peerID,
		Text:        text,
		CreatedAt:   at,
	}
	v.pending = append(v.pending, id)
	return id
}

// DropPending removes an optimistic entry whose frame never left.
func (v *View) DropPending(tempID string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	delete(v.entries, tempID)
	v.pending = lo.Without(v.pending, tempID)
}

// ApplyLive merges a message received over the transport.
func (v *View) ApplyLive(msg Message) bool {
	if !v.Belongs(msg) || msg.ID == "" {
		return false
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	v.entries[msg.ID] = msg
	v.live[msg.ID] = true
	v.reconcile(msg)
	return true
}

// ApplyHistory merges a fetched conversation. Entries already received live
// keep their live copy.
func (v *View) ApplyHistory(msgs []Message) int {
	v.mu.Lock()
	defer v.mu.Unlock()

	applied := 0
	for _, msg := range msgs {
		if !v.Belongs(msg) || msg.ID == "" {
			continue
		}
		if !v.live[msg.ID] {
			v.entries[msg.ID] = msg
		}
		v.reconcile(msg)
		applied++
	}
	return applied
}

// reconcile retires the oldest optimistic entry matching an authoritative
// self-message. Only the first sighting of a message may claim one, so a
// history refetch never retires a newer send with the same text.
func (v *View) reconcile(msg Message) {
	if msg.SenderID != v.selfID || v.seen[msg.ID] {
		return
	}
	v.seen[msg.ID] = true

	for i, tempID := range v.pending {
		temp := v.entries[tempID]
		if temp.Text == msg.Text && temp.RecipientID == msg.RecipientID {
			delete(v.entries, tempID)
			v.pending = append(v.pending[:i:i], v.pending[i+1:]...)
			return
		}
	}
}

// Messages returns the merged conversation ordered by createdAt, ties broken
// by id.
func (v *View) Messages() []Message {
	v.mu.Lock()
	msgs := lo.Values(v.entries)
	v.mu.Unlock()

	sort.Slice(msgs, func(i, j int) bool {
		if !msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
		}
		return msgs[i].ID < msgs[j].ID
	})
	return msgs
}
