package presence

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// onlineScript sets the presence hash only when the registration is newer
// than the one already stored.
var onlineScript = redis.NewScript(`
local cur = tonumber(redis.call('HGET', KEYS[1], 'gen') or '0')
if tonumber(ARGV[2]) > cur then
	redis.call('HSET', KEYS[1], 'conn', ARGV[1], 'gen', ARGV[2])
	return 1
end
return 0
`)

// offlineScript deletes the presence hash only if it still belongs to the
// connection being torn down.
var offlineScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'conn') == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisMirror exposes presence to other processes as one hash per user.
type RedisMirror struct {
	rdb *redis.Client
}

func NewRedisMirror(rdb *redis.Client) *RedisMirror {
	return &RedisMirror{rdb: rdb}
}

func key(userID string) string {
	return "presence:" + userID
}

func (m *RedisMirror) Online(ctx context.Context, userID, connID string, gen uint64) error {
	return onlineScript.Run(ctx, m.rdb, []string{key(userID)}, connID, gen).Err()
}

func (m *RedisMirror) Offline(ctx context.Context, userID, connID string) error {
	return offlineScript.Run(ctx, m.rdb, []string{key(userID)}, connID).Err()
}

func (m *RedisMirror) IsOnline(ctx context.Context, userID string) (bool, error) {
	n, err := m.rdb.Exists(ctx, key(userID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Conn returns the connection id currently registered for userID, or "".
func (m *RedisMirror) Conn(ctx context.Context, userID string) (string, error) {
	id, err := m.rdb.HGet(ctx, key(userID), "conn").Result()
	if err == redis.Nil {
		return "", nil
	}
	return id, err
}
