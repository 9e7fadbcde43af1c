package keystore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RecordStore persists secret records and single-use authentication grants.
type RecordStore interface {
	// Get returns ErrNotFound when no record exists.
	Get(ctx context.Context, id string) (*Record, error)
	// Replace stores next if the current record still equals prev. A nil prev
	// means the record must not exist. It reports whether the swap happened.
	Replace(ctx context.Context, prev, next *Record) (bool, error)
	// Delete removes the record. It returns ErrNotFound when none exists.
	Delete(ctx context.Context, id string) error
	// ConsumeGrant records grantID as used. It reports false when the grant
	// was already consumed.
	ConsumeGrant(ctx context.Context, grantID string, ttl time.Duration) (bool, error)
}

// ARGV[1] = expected encoded record ("" when it must be absent)
// ARGV[2] = replacement encoded record
//
// Returns 1 when swapped, 0 when the current value differs.
var replaceRecordLua = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur == false then
  if ARGV[1] ~= '' then
    return 0
  end
elseif cur ~= ARGV[1] then
  return 0
end
redis.call('SET', KEYS[1], ARGV[2])
return 1
`)

// RedisRecords stores records in Redis under "<prefix>:rec:<id>".
type RedisRecords struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisRecords returns a RecordStore backed by redisClient.
func NewRedisRecords(redisClient redis.UniversalClient, prefix string) *RedisRecords {
	if prefix == "" {
		prefix = "bk"
	}
	return &RedisRecords{redis: redisClient, prefix: prefix}
}

func (r *RedisRecords) recordKey(id string) string {
	return r.prefix + ":rec:" + id
}

func (r *RedisRecords) grantKey(grantID string) string {
	return r.prefix + ":grant:" + grantID
}

// Get implements RecordStore.
func (r *RedisRecords) Get(ctx context.Context, id string) (*Record, error) {
	data, err := r.redis.Get(ctx, r.recordKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return DecodeRecord(data)
}

// Replace implements RecordStore.
func (r *RedisRecords) Replace(ctx context.Context, prev, next *Record) (bool, error) {
	nextData, err := EncodeRecord(next)
	if err != nil {
		return false, err
	}
	var prevData []byte
	if prev != nil {
		if prev.Identifier != next.Identifier {
			return false, errors.New("record identifiers differ")
		}
		if prevData, err = EncodeRecord(prev); err != nil {
			return false, err
		}
	}

	res, err := replaceRecordLua.Run(ctx, r.redis, []string{r.recordKey(next.Identifier)}, prevData, nextData).Int()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return res == 1, nil
}

// Delete implements RecordStore.
func (r *RedisRecords) Delete(ctx context.Context, id string) error {
	n, err := r.redis.Del(ctx, r.recordKey(id)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ConsumeGrant implements RecordStore.
func (r *RedisRecords) ConsumeGrant(ctx context.Context, grantID string, ttl time.Duration) (bool, error) {
	if grantID == "" {
		return false, nil
	}
	ok, err := r.redis.SetNX(ctx, r.grantKey(grantID), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return ok, nil
}
