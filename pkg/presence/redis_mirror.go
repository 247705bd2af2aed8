package presence

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	clog "github.com/mahaj/chatcore/pkg/log"
)

const defaultMirrorTTL = 30 * time.Second

// RedisMirror copies online transitions into a Redis set so other processes
// can display presence. Routing never reads it back.
//
// Each instance also keeps its own set under key:instance with a TTL that
// Run refreshes. When an instance dies its set expires and the next sweep by
// any live instance drops its users from the shared set.
type RedisMirror struct {
	rdb      redis.UniversalClient
	key      string
	instance string
	ttl      time.Duration
	timeout  time.Duration
}

func NewRedisMirror(rdb redis.UniversalClient, key, instance string, ttl time.Duration) *RedisMirror {
	if ttl <= 0 {
		ttl = defaultMirrorTTL
	}
	return &RedisMirror{rdb: rdb, key: key, instance: instance, ttl: ttl, timeout: 2 * time.Second}
}

func (m *RedisMirror) instanceKey() string {
	return m.key + ":" + m.instance
}

func (m *RedisMirror) Online(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	pipe := m.rdb.TxPipeline()
	pipe.SAdd(ctx, m.key, userID)
	pipe.SAdd(ctx, m.instanceKey(), userID)
	pipe.Expire(ctx, m.instanceKey(), m.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		clog.L().Warn().Err(err).Str(clog.FieldUserID, userID).Msg("failed to set presence")
	}
}

// Offline removes userID unless another live instance still has it online.
func (m *RedisMirror) Offline(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	if err := m.rdb.SRem(ctx, m.instanceKey(), userID).Err(); err != nil {
		clog.L().Warn().Err(err).Str(clog.FieldUserID, userID).Msg("failed to delete presence")
		return
	}
	if m.onlineElsewhere(ctx, userID) {
		return
	}
	if err := m.rdb.SRem(ctx, m.key, userID).Err(); err != nil {
		clog.L().Warn().Err(err).Str(clog.FieldUserID, userID).Msg("failed to delete presence")
	}
}

// instanceKeys lists the per-instance sets that have not expired.
func (m *RedisMirror) instanceKeys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := m.rdb.Scan(ctx, 0, m.key+":*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	return keys, iter.Err()
}

func (m *RedisMirror) onlineElsewhere(ctx context.Context, userID string) bool {
	keys, err := m.instanceKeys(ctx)
	if err != nil {
		// keep the user rather than hide someone who is online
		return true
	}
	for _, k := range keys {
		if k == m.instanceKey() {
			continue
		}
		if ok, err := m.rdb.SIsMember(ctx, k, userID).Result(); err == nil && ok {
			return true
		}
	}
	return false
}

// Heartbeat rewrites this instance's set from online, refreshes its TTL and
// sweeps users left behind by expired instances.
func (m *RedisMirror) Heartbeat(ctx context.Context, online []string) error {
	pipe := m.rdb.TxPipeline()
	pipe.Del(ctx, m.instanceKey())
	if len(online) > 0 {
		members := make([]any, len(online))
		for i, u := range online {
			members[i] = u
		}
		pipe.SAdd(ctx, m.instanceKey(), members...)
		pipe.SAdd(ctx, m.key, members...)
		pipe.Expire(ctx, m.instanceKey(), m.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	_, err := m.Sweep(ctx)
	return err
}

// Sweep removes shared-set members that no live instance set contains and
// returns how many were removed.
func (m *RedisMirror) Sweep(ctx context.Context) (int, error) {
	// shared set first: anyone added after this read is not a candidate
	shared, err := m.rdb.SMembers(ctx, m.key).Result()
	if err != nil || len(shared) == 0 {
		return 0, err
	}
	keys, err := m.instanceKeys(ctx)
	if err != nil {
		return 0, err
	}
	live := make(map[string]bool)
	for _, k := range keys {
		members, err := m.rdb.SMembers(ctx, k).Result()
		if err != nil {
			return 0, err
		}
		for _, u := range members {
			live[u] = true
		}
	}
	var stale []any
	for _, u := range shared {
		if !live[u] {
			stale = append(stale, u)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}
	if err := m.rdb.SRem(ctx, m.key, stale...).Err(); err != nil {
		return 0, err
	}
	clog.L().Info().Int("count", len(stale)).Msg("removed stale presence entries")
	return len(stale), nil
}

// Run heartbeats every third of the TTL until ctx is done. snapshot returns
// the users currently online on this instance.
func (m *RedisMirror) Run(ctx context.Context, snapshot func() []string) {
	ticker := time.NewTicker(m.ttl / 3)
	defer ticker.Stop()
	for {
		beat, cancel := context.WithTimeout(ctx, m.timeout)
		if err := m.Heartbeat(beat, snapshot()); err != nil && ctx.Err() == nil {
			clog.L().Warn().Err(err).Str("instance", m.instance).Msg("presence heartbeat failed")
		}
		cancel()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Reset clears this instance's entries, used at startup and shutdown.
func (m *RedisMirror) Reset(ctx context.Context) error {
	members, err := m.rdb.SMembers(ctx, m.instanceKey()).Result()
	if err != nil {
		return err
	}
	if err := m.rdb.Del(ctx, m.instanceKey()).Err(); err != nil {
		return err
	}
	for _, u := range members {
		if !m.onlineElsewhere(ctx, u) {
			m.rdb.SRem(ctx, m.key, u)
		}
	}
	_, err = m.Sweep(ctx)
	return err
}

// Online lists the ids in the shared set.
func Online(ctx context.Context, rdb redis.UniversalClient, key string) ([]string, error) {
	return rdb.SMembers(ctx, key).Result()
}
