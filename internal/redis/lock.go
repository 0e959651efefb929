package redis

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	broker_errors "roombroker/pkg/errors"

	goredis "github.com/redis/go-redis/v9"
)

// Lock key pattern:
// - lock:room:{room_id} - held for the duration of a start attempt

// ErrNotAcquired means another holder kept the lock for the whole wait
// window. Callers fail fast instead of queuing.
var ErrNotAcquired = errors.New("lock not acquired")

const acquirePollInterval = 100 * time.Millisecond

// releaseScript deletes the lock only if the caller still owns it, so a
// lock that expired and was re-acquired by someone else is never removed.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RoomLocker is a distributed mutex keyed by room id. The TTL doubles as
// the maximum hold time: a crashed holder frees the room after at most
// one provider-call worth of time.
type RoomLocker struct {
	client *goredis.Client
	ttl    time.Duration
}

func NewRoomLocker(client *goredis.Client, ttl time.Duration) *RoomLocker {
	return &RoomLocker{client: client, ttl: ttl}
}

// Acquire takes the room's lock, polling for at most wait. Returns
// ErrNotAcquired when the wait window elapses without the lock freeing up.
func (l *RoomLocker) Acquire(ctx context.Context, roomID string, wait time.Duration) (func(ctx context.Context) error, error) {
	token := newToken()
	key := "lock:room:" + roomID
	deadline := time.Now().Add(wait)

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			return func(ctx context.Context) error {
				released, err := releaseScript.Run(ctx, l.client, []string{key}, token).Int()
				if err != nil {
					return err
				}
				if released == 0 {
					return broker_errors.ErrLockNotHeld
				}
				return nil
			}, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrNotAcquired
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(acquirePollInterval):
		}
	}
}

func newToken() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return ""
	}
	return hex.EncodeToString(buf)
}
