package resultstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flexinfer/datapipe/pkg/types"
)

// RedisStore implements Store backed by Redis: hashes for run metadata,
// capped lists for event streams, and pub/sub for live subscriptions.
// Suitable when results must outlive the process or be shared across
// replicas of the report API.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	maxLen int64
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// URL is the Redis connection URL (redis://host:port/db).
	URL string

	// Password for Redis authentication.
	Password string

	// DB is the database number.
	DB int

	// Prefix for all keys (default: "datapipe").
	Prefix string

	// TTL for run data (default: 7 days).
	TTL time.Duration

	// EventMaxLen caps each run's event list.
	EventMaxLen int64

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultRedisConfig returns sensible defaults.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		URL:          "redis://localhost:6379/0",
		Prefix:       "datapipe",
		TTL:          7 * 24 * time.Hour,
		EventMaxLen:  5000,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// NewRedisStore creates a Redis-backed Store and verifies connectivity.
func NewRedisStore(cfg *RedisConfig) (*RedisStore, error) {
	if cfg == nil {
		cfg = DefaultRedisConfig()
	}

	opts := &redis.Options{
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	if cfg.URL != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		parsed.Password = firstNonEmpty(cfg.Password, parsed.Password)
		parsed.DialTimeout = opts.DialTimeout
		parsed.ReadTimeout = opts.ReadTimeout
		parsed.WriteTimeout = opts.WriteTimeout
		opts = parsed
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "datapipe"
	}
	maxLen := cfg.EventMaxLen
	if maxLen == 0 {
		maxLen = 5000
	}

	return &RedisStore{
		client: client,
		prefix: prefix,
		ttl:    cfg.TTL,
		maxLen: maxLen,
	}, nil
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func (s *RedisStore) runKey(runID string) string    { return s.prefix + ":run:" + runID }
func (s *RedisStore) eventsKey(runID string) string { return s.prefix + ":events:" + runID }
func (s *RedisStore) seqKey(runID string) string    { return s.prefix + ":seq:" + runID }
func (s *RedisStore) channel(runID string) string   { return s.prefix + ":pubsub:" + runID }
func (s *RedisStore) indexKey() string              { return s.prefix + ":runs" }

func (s *RedisStore) CreateRun(ctx context.Context, runID, pipeline string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.runKey(runID), map[string]interface{}{
		"id":         runID,
		"pipeline":   pipeline,
		"status":     string(types.RunStatusQueued),
		"created_at": now,
		"updated_at": now,
	})
	pipe.ZAdd(ctx, s.indexKey(), redis.Z{
		Score:  float64(time.Now().UnixNano()),
		Member: runID,
	})
	s.expire(ctx, pipe, runID)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) expire(ctx context.Context, pipe redis.Pipeliner, runID string) {
	if s.ttl > 0 {
		pipe.Expire(ctx, s.runKey(runID), s.ttl)
		pipe.Expire(ctx, s.eventsKey(runID), s.ttl)
		pipe.Expire(ctx, s.seqKey(runID), s.ttl)
	}
}

func (s *RedisStore) UpdateRunStatus(ctx context.Context, runID string, status types.RunStatus, errMsg string) error {
	exists, err := s.client.Exists(ctx, s.runKey(runID)).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return ErrRunNotFound
	}

	fields := map[string]interface{}{
		"status":     string(status),
		"updated_at": time.Now().UTC().Format(time.RFC3339Nano),
	}
	if errMsg != "" {
		fields["error"] = errMsg
	}
	if err := s.client.HSet(ctx, s.runKey(runID), fields).Err(); err != nil {
		return err
	}

	// A terminal status is published so subscribers can end their
	// streams; the payload is a synthetic stream_end event.
	if status == types.RunStatusSucceeded || status == types.RunStatusFailed {
		end := &types.Event{
			ID:        "final",
			RunID:     runID,
			Type:      types.EventTypeStreamEnd,
			Timestamp: time.Now().UTC(),
		}
		raw, _ := json.Marshal(end)
		s.client.Publish(ctx, s.channel(runID), raw)
	}
	return nil
}

func (s *RedisStore) SaveResults(ctx context.Context, runID string, results *types.PipelineResults) error {
	raw, err := json.Marshal(results)
	if err != nil {
		return err
	}
	return s.client.HSet(ctx, s.runKey(runID), "results", raw).Err()
}

func (s *RedisStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	fields, err := s.client.HGetAll(ctx, s.runKey(runID)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, ErrRunNotFound
	}

	run := &Run{RunMeta: metaFromFields(fields)}
	if raw, ok := fields["results"]; ok && raw != "" {
		var results types.PipelineResults
		if err := json.Unmarshal([]byte(raw), &results); err != nil {
			return nil, fmt.Errorf("decode results: %w", err)
		}
		run.Results = &results
	}
	return run, nil
}

func metaFromFields(fields map[string]string) RunMeta {
	meta := RunMeta{
		ID:       fields["id"],
		Pipeline: fields["pipeline"],
		Status:   types.RunStatus(fields["status"]),
		Error:    fields["error"],
	}
	if t, err := time.Parse(time.RFC3339Nano, fields["created_at"]); err == nil {
		meta.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, fields["updated_at"]); err == nil {
		meta.UpdatedAt = t
	}
	return meta
}

func (s *RedisStore) ListRuns(ctx context.Context) ([]*RunMeta, error) {
	ids, err := s.client.ZRevRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	out := make([]*RunMeta, 0, len(ids))
	for _, id := range ids {
		fields, err := s.client.HGetAll(ctx, s.runKey(id)).Result()
		if err != nil {
			return nil, err
		}
		if len(fields) == 0 {
			continue // expired
		}
		meta := metaFromFields(fields)
		out = append(out, &meta)
	}
	return out, nil
}

func (s *RedisStore) AppendEvent(ctx context.Context, runID string, input *types.EventInput) (*types.Event, error) {
	exists, err := s.client.Exists(ctx, s.runKey(runID)).Result()
	if err != nil {
		return nil, err
	}
	if exists == 0 {
		return nil, ErrRunNotFound
	}

	seq, err := s.client.Incr(ctx, s.seqKey(runID)).Result()
	if err != nil {
		return nil, err
	}

	var data json.RawMessage
	if input.Data != nil {
		raw, err := json.Marshal(input.Data)
		if err != nil {
			return nil, err
		}
		data = raw
	}

	evt := &types.Event{
		ID:        strconv.FormatInt(seq, 10),
		RunID:     runID,
		Type:      input.Type,
		NodeName:  input.NodeName,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
	raw, err := json.Marshal(evt)
	if err != nil {
		return nil, err
	}

	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, s.eventsKey(runID), raw)
	pipe.LTrim(ctx, s.eventsKey(runID), -s.maxLen, -1)
	pipe.Publish(ctx, s.channel(runID), raw)
	s.expire(ctx, pipe, runID)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	return evt, nil
}

func (s *RedisStore) GetEventsSince(ctx context.Context, runID, lastEventID string) ([]*types.Event, error) {
	raws, err := s.client.LRange(ctx, s.eventsKey(runID), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	var since int64
	if lastEventID != "" {
		since, _ = strconv.ParseInt(lastEventID, 10, 64)
	}

	var out []*types.Event
	for _, raw := range raws {
		var evt types.Event
		if err := json.Unmarshal([]byte(raw), &evt); err != nil {
			continue
		}
		if id, err := strconv.ParseInt(evt.ID, 10, 64); err == nil && id <= since {
			continue
		}
		out = append(out, &evt)
	}
	return out, nil
}

func (s *RedisStore) Subscribe(ctx context.Context, runID string) (<-chan *types.Event, func(), error) {
	exists, err := s.client.Exists(ctx, s.runKey(runID)).Result()
	if err != nil {
		return nil, nil, err
	}
	if exists == 0 {
		return nil, nil, ErrRunNotFound
	}

	pubsub := s.client.Subscribe(ctx, s.channel(runID))
	ch := make(chan *types.Event, 64)

	go func() {
		defer close(ch)
		for msg := range pubsub.Channel() {
			if deliverPayload(ctx, ch, []byte(msg.Payload)) {
				return
			}
		}
	}()

	cleanup := func() {
		pubsub.Close()
	}
	return ch, cleanup, nil
}

// deliverPayload decodes one pub/sub payload and forwards it to the
// subscriber. It reports whether the subscription is finished. stream_end
// is forwarded too, so subscribers see the same final event the memory
// store delivers before closing.
func deliverPayload(ctx context.Context, ch chan<- *types.Event, payload []byte) bool {
	var evt types.Event
	if err := json.Unmarshal(payload, &evt); err != nil {
		return false
	}
	select {
	case ch <- &evt:
	case <-ctx.Done():
		return true
	}
	return evt.Type == types.EventTypeStreamEnd
}

func (s *RedisStore) AdapterInfo(ctx context.Context) (map[string]interface{}, error) {
	count, err := s.client.ZCard(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"adapter": "redis",
		"prefix":  s.prefix,
		"runs":    count,
		"ttl":     s.ttl.String(),
	}, nil
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
