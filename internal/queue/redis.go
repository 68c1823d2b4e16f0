package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"gradi/internal/logging"
	"gradi/internal/services"
)

const redisDedupWindow = 5 * time.Minute

// Redis is a queue stored under {namespace}:queue:{name}. Ready ids live in a
// list, received ids in a sorted set scored by their visibility deadline, and
// each body in a hash.
type Redis struct {
	rdb        *redis.Client
	namespace  string
	name       string
	deadLetter *Redis
	maxReceive int
	logger     *slog.Logger
	now        func() time.Time
}

// NewRedis binds a queue name on an existing client.
func NewRedis(rdb *redis.Client, namespace, name string, logger *slog.Logger) (*Redis, error) {
	if name == "" {
		return nil, fmt.Errorf("queue name cannot be empty")
	}
	if namespace == "" {
		return nil, fmt.Errorf("namespace cannot be empty")
	}
	return &Redis{
		rdb:       rdb,
		namespace: namespace,
		name:      name,
		logger:    logging.NewComponentLogger(logger, "queue"),
		now:       time.Now,
	}, nil
}

// WithDeadLetter moves messages to dlq once they were received maxReceive
// times without being deleted.
func (q *Redis) WithDeadLetter(dlq *Redis, maxReceive int) *Redis {
	q.deadLetter = dlq
	q.maxReceive = maxReceive
	return q
}

func (q *Redis) key(parts ...string) string {
	k := q.namespace + ":queue:" + q.name
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

func (q *Redis) readyKey() string    { return q.key("ready") }
func (q *Redis) inflightKey() string { return q.key("inflight") }
func (q *Redis) msgKey(id string) string {
	return q.key("msg", id)
}

func (q *Redis) Name() string { return q.name }

func (q *Redis) FIFO() bool { return IsFIFO(q.name) }

// Ping verifies Redis connectivity.
func (q *Redis) Ping(ctx context.Context) error {
	return q.rdb.Ping(ctx).Err()
}

func (q *Redis) Send(ctx context.Context, body []byte, opts SendOptions) error {
	if opts.DeduplicationID != "" {
		fresh, err := q.rdb.SetNX(ctx, q.key("dedup", opts.DeduplicationID), "1", redisDedupWindow).Result()
		if err != nil {
			return services.Wrap(services.ErrTransient, "queue", "send", "dedup check", err)
		}
		if !fresh {
			return nil
		}
	}
	id := uuid.NewString()
	return q.push(ctx, id, map[string]any{
		"body":          body,
		"group":         opts.GroupID,
		"receive_count": 0,
		"sent_at":       q.now().UnixMilli(),
	})
}

func (q *Redis) push(ctx context.Context, id string, fields map[string]any) error {
	_, err := q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, q.msgKey(id), fields)
		pipe.RPush(ctx, q.readyKey(), id)
		return nil
	})
	if err != nil {
		return services.Wrap(services.ErrTransient, "queue", "send", q.name, err)
	}
	return nil
}

// claimScript pops one ready id and records it in flight in a single step, so
// an id is always in the ready list or the in-flight set. A reply of
// {id, -1} means the body was deleted while the id was still queued.
var claimScript = redis.NewScript(`
local id = redis.call('LPOP', KEYS[1])
if not id then return false end
local mkey = ARGV[2] .. id
if redis.call('EXISTS', mkey) == 0 then return {id, -1} end
redis.call('ZADD', KEYS[2], ARGV[1], id)
local count = redis.call('HINCRBY', mkey, 'receive_count', 1)
local data = redis.call('HMGET', mkey, 'body', 'group', 'sent_at')
return {id, count, data[1] or '', data[2] or '', data[3] or ''}
`)

// reclaimScript returns one expired delivery to the front of the ready list,
// or moves it to the dead-letter queue once its receive budget is spent.
// Replies: 0 already reclaimed, 1 requeued, 2 dead-lettered.
var reclaimScript = redis.NewScript(`
if redis.call('ZREM', KEYS[1], ARGV[1]) == 0 then return 0 end
local mkey = ARGV[2] .. ARGV[1]
local budget = tonumber(ARGV[3])
if budget > 0 and ARGV[4] ~= '' then
  local count = tonumber(redis.call('HGET', mkey, 'receive_count') or '0')
  if count >= budget then
    local data = redis.call('HMGET', mkey, 'body', 'group', 'sent_at')
    if data[1] then
      redis.call('HSET', ARGV[5] .. ARGV[1], 'body', data[1], 'group', data[2] or '', 'receive_count', 0, 'sent_at', data[3] or '')
      redis.call('RPUSH', ARGV[4], ARGV[1])
    end
    redis.call('DEL', mkey)
    return 2
  end
end
redis.call('LPUSH', KEYS[2], ARGV[1])
return 1
`)

// deleteScript removes a delivery only when the receipt's receive count is
// still current. Replies: 1 deleted or already gone, 0 stale receipt.
var deleteScript = redis.NewScript(`
local count = redis.call('HGET', KEYS[2], 'receive_count')
if count and count ~= ARGV[2] then return 0 end
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('DEL', KEYS[2])
return 1
`)

// redisPollInterval paces long-poll receives while the ready list is empty.
const redisPollInterval = 200 * time.Millisecond

func (q *Redis) Receive(ctx context.Context, opts ReceiveOptions) ([]Message, error) {
	maxMessages := max(opts.MaxMessages, 1)
	waitUntil := time.Now().Add(opts.Wait)
	for {
		if err := q.reclaimExpired(ctx); err != nil {
			return nil, err
		}
		out, err := q.claimReady(ctx, maxMessages, opts.Visibility)
		if err != nil || len(out) > 0 || !time.Now().Before(waitUntil) {
			return out, err
		}
		timer := time.NewTimer(min(redisPollInterval, time.Until(waitUntil)))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (q *Redis) claimReady(ctx context.Context, maxMessages int, visibility time.Duration) ([]Message, error) {
	var out []Message
	for len(out) < maxMessages {
		deadline := q.now().Add(visibility).UnixMilli()
		reply, err := claimScript.Run(ctx, q.rdb, []string{q.readyKey(), q.inflightKey()}, deadline, q.msgKey("")).Slice()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			return out, services.Wrap(services.ErrTransient, "queue", "receive", q.name, err)
		}
		msg, ok := q.decodeClaim(reply)
		if ok {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (q *Redis) decodeClaim(reply []any) (Message, bool) {
	if len(reply) < 2 {
		return Message{}, false
	}
	id, _ := reply[0].(string)
	count, _ := reply[1].(int64)
	if id == "" || count < 0 || len(reply) < 5 {
		return Message{}, false
	}
	body, _ := reply[2].(string)
	group, _ := reply[3].(string)
	sentAt, _ := reply[4].(string)
	msg := Message{
		ID:            id,
		Body:          []byte(body),
		ReceiptHandle: id + ":" + strconv.FormatInt(count, 10),
		ReceiveCount:  int(count),
		GroupID:       group,
	}
	if ms, err := strconv.ParseInt(sentAt, 10, 64); err == nil {
		msg.SentAt = time.UnixMilli(ms)
	}
	return msg, true
}

// reclaimExpired returns timed-out deliveries to the front of the ready list,
// or to the dead-letter queue once their receive budget is spent.
func (q *Redis) reclaimExpired(ctx context.Context) error {
	now := strconv.FormatInt(q.now().UnixMilli(), 10)
	ids, err := q.rdb.ZRangeByScore(ctx, q.inflightKey(), &redis.ZRangeBy{Min: "-inf", Max: now}).Result()
	if err != nil {
		return services.Wrap(services.ErrTransient, "queue", "reclaim", q.name, err)
	}
	var dlqReady, dlqMsgPrefix string
	budget := 0
	if q.deadLetter != nil && q.maxReceive > 0 {
		dlqReady, dlqMsgPrefix, budget = q.deadLetter.readyKey(), q.deadLetter.msgKey(""), q.maxReceive
	}
	for i := len(ids) - 1; i >= 0; i-- {
		id := ids[i]
		moved, err := reclaimScript.Run(ctx, q.rdb, []string{q.inflightKey(), q.readyKey()},
			id, q.msgKey(""), budget, dlqReady, dlqMsgPrefix).Int()
		if err != nil {
			return services.Wrap(services.ErrTransient, "queue", "reclaim", id, err)
		}
		if moved == 2 {
			q.logger.Info("message moved to dead-letter queue",
				logging.String(logging.FieldMessageID, id),
				logging.String("dlq", q.deadLetter.name),
			)
		}
	}
	return nil
}

// Delete removes a delivery. A receipt from an earlier delivery of a message
// that was since redelivered is rejected, as SQS does.
func (q *Redis) Delete(ctx context.Context, msg Message) error {
	id, count, ok := parseReceipt(msg.ReceiptHandle)
	if !ok || id != msg.ID {
		return services.Wrap(services.ErrValidation, "queue", "delete", "invalid receipt handle", nil)
	}
	deleted, err := deleteScript.Run(ctx, q.rdb, []string{q.inflightKey(), q.msgKey(id)}, id, count).Int()
	if err != nil {
		return services.Wrap(services.ErrTransient, "queue", "delete", msg.ID, err)
	}
	if deleted == 0 {
		return services.Wrap(services.ErrValidation, "queue", "delete", "stale receipt handle", nil)
	}
	return nil
}

func parseReceipt(handle string) (id, count string, ok bool) {
	i := strings.LastIndex(handle, ":")
	if i <= 0 || i == len(handle)-1 {
		return "", "", false
	}
	return handle[:i], handle[i+1:], true
}

func (q *Redis) Stats(ctx context.Context) (Stats, error) {
	var (
		ready    *redis.IntCmd
		inflight *redis.IntCmd
	)
	_, err := q.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		ready = pipe.LLen(ctx, q.readyKey())
		inflight = pipe.ZCard(ctx, q.inflightKey())
		return nil
	})
	if err != nil {
		return Stats{}, services.Wrap(services.ErrTransient, "queue", "stats", q.name, err)
	}
	return Stats{Visible: ready.Val(), InFlight: inflight.Val()}, nil
}

func (q *Redis) Purge(ctx context.Context) error {
	iter := q.rdb.Scan(ctx, 0, q.key("msg", "*"), 100).Iterator()
	keys := []string{q.readyKey(), q.inflightKey()}
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return services.Wrap(services.ErrTransient, "queue", "purge", q.name, err)
	}
	if err := q.rdb.Del(ctx, keys...).Err(); err != nil {
		return services.Wrap(services.ErrTransient, "queue", "purge", q.name, err)
	}
	return nil
}
