package queue

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/bosley/scorequeue/logx"
)

const defaultRedisPrefix = "scorequeue"

// RedisQueue keeps the pending topic as a list of request names plus a
// hash of payloads, and the completed topic as a hash of results.
// Producers are woken through pub/sub.
type RedisQueue struct {
	client redis.UniversalClient
	mode   ClaimMode

	pendingKey  string
	requestsKey string
	claimsKey   string
	gensKey     string
	resultsKey  string
	notifyChan  string
	doneChan    string
}

// NewRedisQueue connects to addr, a host:port or redis:// URL.
func NewRedisQueue(addr, prefix string, mode ClaimMode) (*RedisQueue, error) {
	opts, err := parseRedisURL(addr)
	if err != nil {
		return nil, err
	}
	c := redis.NewUniversalClient(opts)
	if err := c.Ping(context.Background()).Err(); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to reach redis: %w", err)
	}
	return newRedisQueue(c, prefix, mode), nil
}

func newRedisQueue(c redis.UniversalClient, prefix string, mode ClaimMode) *RedisQueue {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisQueue{
		client:      c,
		mode:        mode,
		pendingKey:  prefix + ":pending",
		requestsKey: prefix + ":requests",
		claimsKey:   prefix + ":claims",
		gensKey:     prefix + ":generations",
		resultsKey:  prefix + ":results",
		notifyChan:  prefix + ":notify",
		doneChan:    prefix + ":completed",
	}
}

// parseRedisURL parses addr into UniversalOptions supporting single,
// cluster, and sentinel Redis deployments. If no scheme is present, addr
// is treated as a plain host:port string.
func parseRedisURL(addr string) (*redis.UniversalOptions, error) {
	if addr == "" {
		return nil, fmt.Errorf("redis: address is required")
	}
	if !strings.Contains(addr, "://") {
		return &redis.UniversalOptions{Addrs: []string{addr}}, nil
	}

	u, err := url.Parse(addr)
	if err != nil {
		return nil, err
	}

	opts := &redis.UniversalOptions{}
	if u.User != nil {
		opts.Username = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			opts.Password = pw
		}
	}
	opts.Addrs = strings.Split(u.Host, ",")

	q := u.Query()
	parseDB := func(s string) error {
		db, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("redis: invalid db: %v", err)
		}
		opts.DB = db
		return nil
	}
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}

	switch u.Scheme {
	case "redis", "rediss":
		if p := strings.TrimPrefix(u.Path, "/"); p != "" {
			if err := parseDB(p); err != nil {
				return nil, err
			}
		} else if s := q.Get("db"); s != "" {
			if err := parseDB(s); err != nil {
				return nil, err
			}
		}
		if u.Scheme == "rediss" {
			opts.TLSConfig = tlsCfg
		}
	case "redis-sentinel", "rediss-sentinel":
		opts.MasterName = strings.TrimPrefix(u.Path, "/")
		if s := q.Get("db"); s != "" {
			if err := parseDB(s); err != nil {
				return nil, err
			}
		}
		opts.SentinelUsername = q.Get("sentinel_username")
		opts.SentinelPassword = q.Get("sentinel_password")
		if u.Scheme == "rediss-sentinel" {
			opts.TLSConfig = tlsCfg
		}
	default:
		return nil, fmt.Errorf("redis: invalid URL scheme: %s", u.Scheme)
	}

	return opts, nil
}

func (q *RedisQueue) List(ctx context.Context) ([]string, error) {
	names, err := q.client.LRange(ctx, q.pendingKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list pending requests: %w", err)
	}
	return names, nil
}

func (q *RedisQueue) Claim(ctx context.Context, name string) (*Claim, error) {
	c := &Claim{Name: name, ref: name}

	if q.mode == ClaimRename {
		removed, err := q.client.LRem(ctx, q.pendingKey, 1, name).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to claim request: %w", err)
		}
		if removed == 0 {
			return nil, ErrAlreadyClaimed
		}
		c.Token = uuid.NewString()
		lease := c.Token + ":" + strconv.FormatInt(time.Now().UnixNano(), 10)
		if err := q.client.HSet(ctx, q.claimsKey, name, lease).Err(); err != nil {
			return c, fmt.Errorf("failed to record claim: %w", err)
		}
	}

	var payload, gen *redis.StringCmd
	_, err := q.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		payload = p.HGet(ctx, q.requestsKey, name)
		gen = p.HGet(ctx, q.gensKey, name)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return c, fmt.Errorf("failed to read request: %w", err)
	}
	if n, err := gen.Int64(); err == nil {
		c.gen = n
	}

	data, err := payload.Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			if q.mode == ClaimScan {
				return nil, ErrAlreadyClaimed
			}
			return c, fmt.Errorf("failed to read request: payload missing")
		}
		return c, fmt.Errorf("failed to read request: %w", err)
	}
	c.Payload = data
	return c, nil
}

func (q *RedisQueue) Publish(ctx context.Context, wavFile string, res Result) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	name := ResultName(wavFile)
	_, err = q.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, q.resultsKey, name, data)
		p.Publish(ctx, q.doneChan, name)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

func (q *RedisQueue) Ack(ctx context.Context, c *Claim) error {
	if c == nil {
		return nil
	}
	keys := []string{q.pendingKey, q.requestsKey, q.claimsKey, q.gensKey}
	removed, err := ackScript.Run(ctx, q.client, keys, c.ref, c.gen, c.Token).Int()
	if err != nil {
		return fmt.Errorf("failed to remove request: %w", err)
	}
	if removed == 0 {
		logx.Log.Debug().Str("request", c.Name).Msg("Request was enqueued again, keeping it")
	}
	return nil
}

// ackScript drops the request only if no producer enqueued it again since
// it was claimed, and releases the lease only if it is still ours.
var ackScript = redis.NewScript(`
local name, gen, token = ARGV[1], tonumber(ARGV[2]), ARGV[3]
if token ~= "" then
	local lease = redis.call("HGET", KEYS[3], name)
	if lease and string.sub(lease, 1, #token + 1) == token .. ":" then
		redis.call("HDEL", KEYS[3], name)
	end
end
if tonumber(redis.call("HGET", KEYS[4], name) or "0") ~= gen then
	return 0
end
redis.call("LREM", KEYS[1], 1, name)
redis.call("HDEL", KEYS[2], name)
redis.call("HDEL", KEYS[4], name)
return 1
`)

func (q *RedisQueue) Close() error { return q.client.Close() }

func (q *RedisQueue) Enqueue(ctx context.Context, req Request) (string, error) {
	if !ValidWavFile(req.WavFile) {
		return "", fmt.Errorf("invalid wav file name %q", req.WavFile)
	}
	data, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}
	name := RequestName(req.WavFile)
	_, err = q.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, q.requestsKey, name, data)
		p.HIncrBy(ctx, q.gensKey, name, 1)
		p.HDel(ctx, q.claimsKey, name)
		p.LRem(ctx, q.pendingKey, 0, name)
		p.RPush(ctx, q.pendingKey, name)
		p.Publish(ctx, q.notifyChan, name)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to enqueue %s: %w", name, err)
	}
	return name, nil
}

func (q *RedisQueue) TakeResult(ctx context.Context, wavFile string) (Result, bool, error) {
	name := ResultName(wavFile)
	data, err := q.client.HGet(ctx, q.resultsKey, name).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Result{}, false, nil
		}
		return Result{}, false, fmt.Errorf("failed to read result: %w", err)
	}

	var res Result
	if err := json.Unmarshal(data, &res); err != nil {
		return Result{}, false, fmt.Errorf("failed to decode result: %w", err)
	}
	if err := q.client.HDel(ctx, q.resultsKey, name).Err(); err != nil {
		logx.Log.Warn().Err(err).Str("result", name).Msg("Failed to remove consumed result")
	}
	return res, true, nil
}

// Reclaim pushes requests whose lease is older than olderThan back onto
// the pending list.
func (q *RedisQueue) Reclaim(ctx context.Context, olderThan time.Duration) (int, error) {
	leases, err := q.client.HGetAll(ctx, q.claimsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list claims: %w", err)
	}

	cutoff := time.Now().Add(-olderThan).UnixNano()
	restored := 0
	for name, lease := range leases {
		_, stamp, _ := strings.Cut(lease, ":")
		at, err := strconv.ParseInt(stamp, 10, 64)
		if err == nil && at > cutoff {
			continue
		}
		_, err = q.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HDel(ctx, q.claimsKey, name)
			p.RPush(ctx, q.pendingKey, name)
			return nil
		})
		if err != nil {
			logx.Log.Warn().Err(err).Str("claim", name).Msg("Failed to reclaim stale request")
			continue
		}
		restored++
	}
	return restored, nil
}

// Notify subscribes to the enqueue channel.
func (q *RedisQueue) Notify(ctx context.Context) (<-chan struct{}, error) {
	sub := q.client.Subscribe(ctx, q.notifyChan)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", q.notifyChan, err)
	}

	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		defer sub.Close()

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-msgs:
				if !ok {
					return
				}
				signal(out)
			}
		}
	}()
	return out, nil
}
