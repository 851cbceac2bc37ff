package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/local/docconvert/internal/pool"
)

// DefaultTTL bounds how long finished batch status is kept in Redis.
const DefaultTTL = 24 * time.Hour

// RedisStore keeps batch status in a hash per batch, with counters updated
// by HINCRBY and per-file results in a list of JSON records.
type RedisStore struct {
	client *redis.Client
	keyNS  string
	ttl    time.Duration
}

func NewRedisStore(redisURL string) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	c := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisStore{client: c, keyNS: "batch", ttl: DefaultTTL}, nil
}

func (s *RedisStore) key(id string) string        { return fmt.Sprintf("%s:%s", s.keyNS, id) }
func (s *RedisStore) resultsKey(id string) string { return fmt.Sprintf("%s:%s:results", s.keyNS, id) }
func (s *RedisStore) notesKey(id string) string   { return fmt.Sprintf("%s:%s:notes", s.keyNS, id) }

func (s *RedisStore) Create(ctx context.Context, id, folder string) error {
	ok, err := s.client.HSetNX(ctx, s.key(id), "folder", folder).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("batch %s already exists", id)
	}
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, s.key(id), map[string]interface{}{
			"state":   StateRunning,
			"started": time.Now().UTC().Format(time.RFC3339Nano),
		})
		p.Expire(ctx, s.key(id), s.ttl)
		return nil
	})
	return err
}

// note records warnings and errors in one list, prefixed by kind.
type note struct {
	Kind string `json:"kind"`
	Text string `json:"text"`
}

func (s *RedisStore) Apply(ctx context.Context, id string, ev pool.Event) error {
	if ev.Type == pool.EventLog {
		return nil
	}
	key := s.key(id)
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		switch ev.Type {
		case pool.EventInit:
			p.HSet(ctx, key, "total", ev.Total, "workers", ev.Workers)
		case pool.EventProgress:
			b, err := json.Marshal(ev)
			if err != nil {
				return err
			}
			p.HIncrBy(ctx, key, "processed", 1)
			switch ev.Status {
			case pool.StatusSuccess:
				p.HIncrBy(ctx, key, "success", 1)
			case pool.StatusFailed:
				p.HIncrBy(ctx, key, "failed", 1)
			case pool.StatusSkipped:
				p.HIncrBy(ctx, key, "skipped", 1)
			}
			p.RPush(ctx, s.resultsKey(id), b)
			p.Expire(ctx, s.resultsKey(id), s.ttl)
		case pool.EventWarning, pool.EventError:
			b, err := json.Marshal(note{Kind: string(ev.Type), Text: eventText(ev)})
			if err != nil {
				return err
			}
			p.RPush(ctx, s.notesKey(id), b)
			p.Expire(ctx, s.notesKey(id), s.ttl)
		case pool.EventComplete:
			m := map[string]interface{}{
				"state":    StateComplete,
				"finished": time.Now().UTC().Format(time.RFC3339Nano),
			}
			if ev.Summary != nil {
				m["total_time"] = ev.TotalTime
				m["output_folder"] = ev.OutputFolder
			}
			p.HSet(ctx, key, m)
		}
		p.Expire(ctx, key, s.ttl)
		return nil
	})
	return err
}

func (s *RedisStore) Get(ctx context.Context, id string) (Batch, bool, error) {
	res, err := s.client.HGetAll(ctx, s.key(id)).Result()
	if err != nil {
		return Batch{}, false, err
	}
	if len(res) == 0 {
		return Batch{}, false, nil
	}
	b := Batch{
		ID:           id,
		Folder:       res["folder"],
		State:        res["state"],
		Total:        atoi(res["total"]),
		Workers:      atoi(res["workers"]),
		Processed:    atoi(res["processed"]),
		Success:      atoi(res["success"]),
		Failed:       atoi(res["failed"]),
		Skipped:      atoi(res["skipped"]),
		OutputFolder: res["output_folder"],
	}
	if v := res["total_time"]; v != "" {
		b.TotalTime, _ = strconv.ParseFloat(v, 64)
	}
	if v := res["started"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			b.Started = t
		}
	}
	if v := res["finished"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			b.Finished = &t
		}
	}

	results, err := s.client.LRange(ctx, s.resultsKey(id), 0, -1).Result()
	if err != nil {
		return Batch{}, false, err
	}
	for _, r := range results {
		var ev pool.Event
		if err := json.Unmarshal([]byte(r), &ev); err == nil {
			b.Results = append(b.Results, ev)
		}
	}
	notes, err := s.client.LRange(ctx, s.notesKey(id), 0, -1).Result()
	if err != nil {
		return Batch{}, false, err
	}
	for _, r := range notes {
		var n note
		if err := json.Unmarshal([]byte(r), &n); err != nil {
			continue
		}
		if n.Kind == string(pool.EventError) {
			b.Errors = append(b.Errors, n.Text)
		} else {
			b.Warnings = append(b.Warnings, n.Text)
		}
	}
	return b, true, nil
}

// Ping reports whether Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error { return s.client.Ping(ctx).Err() }

func (s *RedisStore) Close() error { return s.client.Close() }

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
