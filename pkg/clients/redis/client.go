// Package redis wraps go-redis with OpenTelemetry spans and coded errors
// for the session registry.
package redis

import (
	"context"
	"crypto/tls"
	"errors"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/messaged/pkg/errors"
)

const tracerName = "github.com/StricklySoft/messaged/pkg/clients/redis"

// Nil is returned by go-redis when a key does not exist.
const Nil = redis.Nil

// Script is a Lua script addressed by its SHA1 digest.
type Script = redis.Script

// NewScript returns a Script for src. The digest is computed once.
func NewScript(src string) *Script {
	return redis.NewScript(src)
}

// Cmdable is the subset of go-redis used by [Client]. *redis.Client
// satisfies it; tests substitute a mock.
type Cmdable interface {
	redis.Scripter
	HMGet(ctx context.Context, key string, fields ...string) *redis.SliceCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

var _ Cmdable = (*redis.Client)(nil)

// Client is safe for concurrent use.
type Client struct {
	cmdable Cmdable
	tracer  trace.Tracer
	dbIndex int
}

// NewClient validates cfg, connects and pings the server.
//
// Error codes returned:
//   - [sserr.CodeInternalConfiguration]: invalid configuration
//   - [sserr.CodeUnavailableDependency]: cannot reach Redis
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternalConfiguration, "redis: invalid configuration")
	}

	var opts *redis.Options
	if cfg.URI != "" {
		var err error
		opts, err = redis.ParseURL(cfg.URI)
		if err != nil {
			return nil, sserr.Wrap(err, sserr.CodeInternalConfiguration, "redis: failed to parse connection URI")
		}
	} else {
		opts = &redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password.Value(),
			DB:       cfg.DB,
		}
		if cfg.TLSEnabled {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
	}
	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns
	opts.MaxRetries = cfg.MaxRetries
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, sserr.Wrap(err, sserr.CodeUnavailableDependency, "redis: failed to connect to server")
	}

	return &Client{
		cmdable: rdb,
		tracer:  otel.Tracer(tracerName),
		dbIndex: opts.DB,
	}, nil
}

// NewFromClient wraps an existing Cmdable, typically a mock.
func NewFromClient(cmdable Cmdable) *Client {
	return &Client{
		cmdable: cmdable,
		tracer:  otel.Tracer(tracerName),
	}
}

// RunScript runs script atomically on the server and returns its raw
// reply. The script is invoked by digest with EVALSHA; only when the
// server answers NOSCRIPT is the source sent with EVAL, which also caches
// it for later calls.
func (c *Client) RunScript(ctx context.Context, script *Script, keys []string, args ...interface{}) (interface{}, error) {
	ctx, span := c.startSpan(ctx, "RunScript", "EVALSHA "+script.Hash())
	val, err := script.Run(ctx, c.cmdable, keys, args...).Result()
	finishSpan(span, err)
	if err != nil {
		return nil, wrapError(err, "redis: script failed")
	}
	return val, nil
}

// HMGet returns the values of fields in the hash at key. Missing fields
// are nil.
func (c *Client) HMGet(ctx context.Context, key string, fields ...string) ([]interface{}, error) {
	ctx, span := c.startSpan(ctx, "HMGet", "HMGET "+key)
	val, err := c.cmdable.HMGet(ctx, key, fields...).Result()
	finishSpan(span, err)
	if err != nil {
		return nil, wrapError(err, "redis: HMGET failed")
	}
	return val, nil
}

// Del deletes keys and returns how many existed.
func (c *Client) Del(ctx context.Context, keys ...string) (int64, error) {
	ctx, span := c.startSpan(ctx, "Del", "DEL "+strings.Join(keys, " "))
	n, err := c.cmdable.Del(ctx, keys...).Result()
	finishSpan(span, err)
	if err != nil {
		return 0, wrapError(err, "redis: DEL failed")
	}
	return n, nil
}

// Health pings the server, bounded by [DefaultHealthTimeout] when ctx has
// no deadline.
func (c *Client) Health(ctx context.Context) error {
	ctx, span := c.startSpan(ctx, "Health", "PING")
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultHealthTimeout)
		defer cancel()
	}

	err := c.cmdable.Ping(ctx).Err()
	finishSpan(span, err)
	if err != nil {
		return sserr.Wrap(err, sserr.CodeUnavailableDependency, "redis: health check failed")
	}
	return nil
}

// Close releases the connection pool.
func (c *Client) Close() error {
	return c.cmdable.Close()
}

func (c *Client) startSpan(ctx context.Context, operation, statement string) (context.Context, trace.Span) {
	ctx, span := c.tracer.Start(ctx, "redis."+operation, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.Int("db.redis.database_index", c.dbIndex),
		attribute.String("db.statement", truncateStatement(statement)),
	)
	return ctx, span
}

// finishSpan records err and ends the span. redis.Nil is not an error.
func finishSpan(span trace.Span, err error) {
	if err != nil && !errors.Is(err, redis.Nil) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// wrapError maps context.DeadlineExceeded to CodeTimeoutDatabase and
// everything else to CodeInternalDatabase.
func wrapError(err error, message string) *sserr.Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return sserr.Wrap(err, sserr.CodeTimeoutDatabase, message)
	}
	return sserr.Wrap(err, sserr.CodeInternalDatabase, message)
}
