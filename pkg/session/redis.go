package session

import (
	"context"
	"fmt"
	"strconv"
	"time"

	redisclient "github.com/StricklySoft/messaged/pkg/clients/redis"
	sserr "github.com/StricklySoft/messaged/pkg/errors"
)

// DefaultRedisKeyPrefix namespaces session hashes.
const DefaultRedisKeyPrefix = "messaged:session:"

// registerLua stores ARGV (sid, auth time in unix ms, ttl in ms) in the
// hash at KEYS[1] unless it holds a different, newer session, then
// returns the current {sid, auth_time}.
const registerLua = `
local cur = redis.call('HMGET', KEYS[1], 'sid', 'auth_time')
local sid, at = cur[1], cur[2]
if (not sid) or (not at) or sid == ARGV[1] or tonumber(ARGV[2]) >= tonumber(at) then
  redis.call('HSET', KEYS[1], 'sid', ARGV[1], 'auth_time', ARGV[2])
  local ttl = tonumber(ARGV[3])
  if ttl > 0 then
    redis.call('PEXPIRE', KEYS[1], ttl)
  end
  return {ARGV[1], ARGV[2]}
end
return {sid, at}
`

// registerScript runs registerLua by digest, so each registration sends
// only the SHA1 and its arguments.
var registerScript = redisclient.NewScript(registerLua)

// RedisRegistry stores one hash per subject. Registration runs as a
// single Lua script so concurrent logins on different replicas agree.
type RedisRegistry struct {
	client *redisclient.Client
	ttl    time.Duration
	prefix string
}

var (
	_ Registry      = (*RedisRegistry)(nil)
	_ HealthChecker = (*RedisRegistry)(nil)
)

// NewRedisRegistry returns a registry whose records expire ttl after the
// last registration. A zero ttl keeps records until removed.
func NewRedisRegistry(client *redisclient.Client, ttl time.Duration) *RedisRegistry {
	return &RedisRegistry{client: client, ttl: ttl, prefix: DefaultRedisKeyPrefix}
}

func (r *RedisRegistry) key(subject string) string {
	return r.prefix + subject
}

func (r *RedisRegistry) Register(ctx context.Context, rec Record) (Record, error) {
	if err := rec.validate(); err != nil {
		return Record{}, err
	}

	reply, err := r.client.RunScript(ctx, registerScript, []string{r.key(rec.Subject)},
		rec.SessionID, rec.AuthTime.UnixMilli(), r.ttl.Milliseconds())
	if err != nil {
		return Record{}, err
	}

	fields, ok := reply.([]interface{})
	if !ok || len(fields) != 2 {
		return Record{}, sserr.Newf(sserr.CodeInternalDatabase, "session: unexpected register reply %T", reply)
	}
	return decodeRedisRecord(rec.Subject, fields[0], fields[1])
}

func (r *RedisRegistry) Current(ctx context.Context, subject string) (Record, bool, error) {
	vals, err := r.client.HMGet(ctx, r.key(subject), "sid", "auth_time")
	if err != nil {
		return Record{}, false, err
	}
	if len(vals) != 2 || vals[0] == nil || vals[1] == nil {
		return Record{}, false, nil
	}
	rec, err := decodeRedisRecord(subject, vals[0], vals[1])
	if err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

func (r *RedisRegistry) Remove(ctx context.Context, subject string) error {
	_, err := r.client.Del(ctx, r.key(subject))
	return err
}

func (r *RedisRegistry) Health(ctx context.Context) error {
	return r.client.Health(ctx)
}

func decodeRedisRecord(subject string, sid, authTime interface{}) (Record, error) {
	sidStr, ok := sid.(string)
	if !ok {
		return Record{}, sserr.Newf(sserr.CodeInternalDatabase, "session: unexpected sid type %T", sid)
	}
	ms, err := redisInt(authTime)
	if err != nil {
		return Record{}, sserr.Wrap(err, sserr.CodeInternalDatabase, "session: invalid stored auth_time")
	}
	return Record{Subject: subject, SessionID: sidStr, AuthTime: time.UnixMilli(ms)}, nil
}

func redisInt(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case string:
		return strconv.ParseInt(n, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}
