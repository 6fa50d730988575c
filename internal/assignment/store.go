package assignment

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Store is the Redis-backed assignment store realtime listeners poll (or
// get woken up for, via pub/sub) to learn which chats they currently own.
type Store struct {
	rdb    *redis.Client
	prefix string
}

// NewStore builds a Store. prefix is normalized to always end in ":",
// matching the Python store's rstrip(":")+":" normalization.
func NewStore(rdb *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = "rt:assign:"
	}
	prefix = strings.TrimRight(prefix, ":") + ":"
	return &Store{rdb: rdb, prefix: prefix}
}

func (s *Store) setKey(identity string) string {
	return s.prefix + identity
}

func (s *Store) metaKey() string {
	return s.prefix + "meta"
}

func (s *Store) notifyChannel() string {
	return s.prefix + "notify"
}

// ReadAll loads the current assignment for the given identities.
func (s *Store) ReadAll(ctx context.Context, identities []string) (Set, error) {
	out := NewSet(identities)
	for _, id := range identities {
		members, err := s.rdb.SMembers(ctx, s.setKey(id)).Result()
		if err != nil {
			return nil, fmt.Errorf("assignment: smembers %s: %w", id, err)
		}
		for _, m := range members {
			c, err := strconv.ParseInt(m, 10, 64)
			if err != nil {
				continue
			}
			out[id][c] = struct{}{}
		}
	}
	return out, nil
}

// WriteAll atomically replaces the stored assignment, bumps the meta
// version counter, optionally stores a human-readable summary, then
// best-effort publishes an "updated" notification so listeners waiting on
// the notify channel refresh immediately instead of on their fallback poll.
func (s *Store) WriteAll(ctx context.Context, a Set, summary string) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for identity, chans := range a {
			key := s.setKey(identity)
			pipe.Del(ctx, key)
			if len(chans) > 0 {
				members := make([]interface{}, 0, len(chans))
				for c := range chans {
					members = append(members, c)
				}
				pipe.SAdd(ctx, key, members...)
			}
		}
		meta := s.metaKey()
		pipe.HIncrBy(ctx, meta, "version", 1)
		if summary != "" {
			pipe.HSet(ctx, meta, "last_summary", summary)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("assignment: write_all: %w", err)
	}

	// Notification is best-effort: listeners still refresh on their
	// fallback poll interval if the publish itself fails.
	_ = s.rdb.Publish(ctx, s.notifyChannel(), "updated").Err()
	return nil
}

// GetAllowed returns the chat ids currently assigned to identity.
func (s *Store) GetAllowed(ctx context.Context, identity string) (map[int64]struct{}, error) {
	members, err := s.rdb.SMembers(ctx, s.setKey(identity)).Result()
	if err != nil {
		return nil, fmt.Errorf("assignment: get_allowed %s: %w", identity, err)
	}
	out := make(map[int64]struct{}, len(members))
	for _, m := range members {
		c, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		out[c] = struct{}{}
	}
	return out, nil
}

// ReadLastSummary returns the most recently written summary, or "" if none
// has been written yet.
func (s *Store) ReadLastSummary(ctx context.Context) (string, error) {
	val, err := s.rdb.HGet(ctx, s.metaKey(), "last_summary").Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("assignment: read_last_summary: %w", err)
	}
	return val, nil
}

// Subscribe returns the pub/sub handle listeners use to wake up on the
// notify channel for this store's prefix.
func (s *Store) Subscribe(ctx context.Context) *redis.PubSub {
	return s.rdb.Subscribe(ctx, s.notifyChannel())
}
