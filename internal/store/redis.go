package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/smartshieldai-idps/ddosguard/internal/models"
)

const (
	// EventChannel carries every detection as JSON.
	EventChannel = "ddos-events"

	eventKeyPrefix = "ddos:event:"
	eventExpiry    = 24 * time.Hour // Keep events for 24 hours
)

// EventStore caches recent detections in Redis and publishes them to live
// subscribers.
type EventStore struct {
	client *redis.Client
	logger *zap.Logger
}

// NewEventStore creates a new Redis event store
func NewEventStore(redisURL string, logger *zap.Logger) (*EventStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("error parsing Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("error connecting to Redis: %w", err)
	}

	return &EventStore{client: client, logger: logger}, nil
}

// Name identifies the store in sink metrics.
func (s *EventStore) Name() string { return "redis" }

// Append caches the detection and publishes it on EventChannel
func (s *EventStore) Append(ctx context.Context, log *models.DetectionLog) error {
	payload, err := json.Marshal(log)
	if err != nil {
		return fmt.Errorf("error marshaling event: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, eventKey(log), payload, eventExpiry)
	pipe.Publish(ctx, EventChannel, payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("error storing event: %w", err)
	}
	return nil
}

// GetRecent returns cached detections newer than since, newest first
func (s *EventStore) GetRecent(ctx context.Context, since time.Duration) ([]*models.DetectionLog, error) {
	minTime := time.Now().Add(-since).UnixNano()

	var (
		cursor uint64
		keys   []string
	)
	for {
		batch, next, err := s.client.Scan(ctx, cursor, eventKeyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("error scanning keys: %w", err)
		}
		for _, key := range batch {
			if ts, ok := eventKeyTime(key); ok && ts >= minTime {
				keys = append(keys, key)
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	if len(keys) == 0 {
		return nil, nil
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("error fetching events: %w", err)
	}

	result := make([]*models.DetectionLog, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue // expired between SCAN and MGET
		}
		var log models.DetectionLog
		if err := json.Unmarshal([]byte(raw), &log); err != nil {
			s.logger.Debug("skipping malformed cached event", zap.Error(err))
			continue
		}
		result = append(result, &log)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Timestamp.After(result[j].Timestamp)
	})
	return result, nil
}

// Subscribe streams raw event payloads until ctx is done.
func (s *EventStore) Subscribe(ctx context.Context) (<-chan []byte, error) {
	pubsub := s.client.Subscribe(ctx, EventChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("error subscribing to %s: %w", EventChannel, err)
	}

	out := make(chan []byte, 16)
	go func() {
		defer close(out)
		defer pubsub.Close()

		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Ping checks the Redis connection
func (s *EventStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (s *EventStore) Close() error {
	return s.client.Close()
}

func eventKey(log *models.DetectionLog) string {
	return fmt.Sprintf("%s%d:%s", eventKeyPrefix, log.Timestamp.UnixNano(), log.ID)
}

func eventKeyTime(key string) (int64, bool) {
	rest := strings.TrimPrefix(key, eventKeyPrefix)
	if rest == key {
		return 0, false
	}
	tsPart, _, _ := strings.Cut(rest, ":")
	ts, err := strconv.ParseInt(tsPart, 10, 64)
	if err != nil {
		return 0, false
	}
	return ts, true
}
