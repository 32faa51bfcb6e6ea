package hub

import (
	"crypto/sha1"
	"encoding/binary"
	"encoding/json"
	"sync"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

const defaultShardCount = 64 // tune: 16/64/128 depending on load

type connBucket struct {
	sync.RWMutex
	users map[string]map[string]*Connection // userID -> connectionID -> conn
}

// Registry maps a user identity to its live connections. Safe for concurrent
// use; each shard has its own lock so unrelated users never contend.
type Registry struct {
	shards []*connBucket
	logger *zap.Logger
}

func NewRegistry(shardCount int, logger *zap.Logger) *Registry {
	if shardCount <= 0 {
		shardCount = defaultShardCount
	}

	r := &Registry{
		shards: make([]*connBucket, shardCount),
		logger: logger,
	}
	for i := range r.shards {
		r.shards[i] = &connBucket{
			users: make(map[string]map[string]*Connection),
		}
	}
	return r
}

func (r *Registry) bucket(userID string) *connBucket {
	if userID == "" {
		return r.shards[0]
	}

	h := sha1.Sum([]byte(userID))
	return r.shards[binary.BigEndian.Uint32(h[:4])%uint32(len(r.shards))]
}

// Register adds c to the set for userID. Registering twice is a no-op.
func (r *Registry) Register(userID string, c *Connection) {
	b := r.bucket(userID)
	b.Lock()
	defer b.Unlock()

	set, ok := b.users[userID]
	if !ok {
		set = make(map[string]*Connection)
		b.users[userID] = set
	}

	set[c.ID] = c
	r.logger.Debug("connection registered",
		zap.String("user_id", userID),
		zap.String("connection_id", c.ID),
		zap.Int("user_connections", len(set)),
	)
}

// Unregister removes c from its owner's set. Absent connections are ignored.
func (r *Registry) Unregister(c *Connection) {
	userID := c.UserID()
	if userID == "" {
		return
	}

	b := r.bucket(userID)
	b.Lock()
	defer b.Unlock()

	set, ok := b.users[userID]
	if !ok {
		return
	}
	if _, exists := set[c.ID]; !exists {
		return
	}

	delete(set, c.ID)
	if len(set) == 0 {
		delete(b.users, userID)
	}

	r.logger.Debug("connection unregistered",
		zap.String("user_id", userID),
		zap.String("connection_id", c.ID),
	)
}

// Connections returns a snapshot of the live connections for userID.
func (r *Registry) Connections(userID string) []*Connection {
	b := r.bucket(userID)
	b.RLock()
	defer b.RUnlock()

	return lo.Values(b.users[userID])
}

// Fanout delivers frame to every connection userID currently owns and returns
// how many accepted it. No connections means the frame is dropped.
func (r *Registry) Fanout(userID string, frame any) int {
	return r.fanout(userID, frame, nil)
}

func (r *Registry) fanout(userID string, frame any, except *Connection) int {
	targets := lo.Filter(r.Connections(userID), func(c *Connection, _ int) bool {
		return c != except
	})
	if len(targets) == 0 {
		return 0
	}

	data, err := json.Marshal(frame)
	if err != nil {
		r.logger.Error("failed to encode fanout frame", zap.Error(err))
		return 0
	}

	delivered := 0
	for _, c := range targets {
		if err := c.enqueue(data); err != nil {
			// a stuck or dead peer only costs itself
			r.logger.Warn("fanout send failed, closing connection",
				zap.String("user_id", userID),
				zap.String("connection_id", c.ID),
				zap.Error(err),
			)
			c.Close()
			continue
		}
		delivered++
	}
	return delivered
}

// Snapshot returns userID -> connection ids for every registered user.
func (r *Registry) Snapshot() map[string][]string {
	out := make(map[string][]string)
	for _, b := range r.shards {
		b.RLock()
		for userID, set := range b.users {
			out[userID] = lo.Keys(set)
		}
		b.RUnlock()
	}
	return out
}

// all returns every registered connection.
func (r *Registry) all() []*Connection {
	var conns []*Connection
	for _, b := range r.shards {
		b.RLock()
		for _, set := range b.users {
			conns = append(conns, lo.Values(set)...)
		}
		b.RUnlock()
	}
	return conns
}
