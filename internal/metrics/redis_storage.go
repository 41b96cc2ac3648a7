package metrics

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DataPoint is one recorded score.
type DataPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// RedisStorage keeps the history of evaluation scores across runs, keyed by
// metric and platform version.
type RedisStorage struct {
	client *redis.Client
	prefix string
	ttl    time.Duration // Time to live for data points
}

// NewRedisStorage creates a new Redis storage backend.
// Returns error if connection fails.
func NewRedisStorage(url string) (*RedisStorage, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &RedisStorage{
		client: client,
		prefix: "rice:eval:scores:",
		ttl:    90 * 24 * time.Hour,
	}, nil
}

// SeriesName names the history of metric for version.
func SeriesName(metric, version string) string {
	return metric + ":" + version
}

// SaveDataPoint saves a single data point.
// Uses sorted set with timestamp as score for efficient range queries.
func (rs *RedisStorage) SaveDataPoint(ctx context.Context, series string, dp DataPoint) error {
	return rs.SaveBatch(ctx, series, []DataPoint{dp})
}

// SaveBatch saves multiple data points in a single pipeline.
func (rs *RedisStorage) SaveBatch(ctx context.Context, series string, dataPoints []DataPoint) error {
	if len(dataPoints) == 0 {
		return nil
	}

	key := rs.prefix + series
	pipe := rs.client.Pipeline()

	members := make([]redis.Z, len(dataPoints))
	for i, dp := range dataPoints {
		members[i] = redis.Z{
			Score:  float64(dp.Timestamp.UnixMilli()),
			Member: encodeMember(dp),
		}
	}
	pipe.ZAdd(ctx, key, members...)

	// Remove old data points
	minScore := time.Now().Add(-rs.ttl).UnixMilli()
	pipe.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(minScore, 10))

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("saving batch: %w", err)
	}
	return nil
}

// LoadHistory loads data points recorded at or after since, oldest first.
func (rs *RedisStorage) LoadHistory(ctx context.Context, series string, since time.Time) ([]DataPoint, error) {
	key := rs.prefix + series

	results, err := rs.client.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{
		Min: strconv.FormatInt(since.UnixMilli(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}

	dataPoints := make([]DataPoint, 0, len(results))
	for _, z := range results {
		member, ok := z.Member.(string)
		if !ok {
			continue
		}
		value, ok := decodeMember(member)
		if !ok {
			// Skip invalid entries
			continue
		}
		dataPoints = append(dataPoints, DataPoint{
			Timestamp: time.UnixMilli(int64(z.Score)),
			Value:     value,
		})
	}

	return dataPoints, nil
}

// DeleteMetric deletes all data for a series.
func (rs *RedisStorage) DeleteMetric(ctx context.Context, series string) error {
	if err := rs.client.Del(ctx, rs.prefix+series).Err(); err != nil {
		return fmt.Errorf("deleting metric: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (rs *RedisStorage) Close() error {
	return rs.client.Close()
}

// SetTTL sets the time-to-live for data points.
func (rs *RedisStorage) SetTTL(ttl time.Duration) {
	rs.ttl = ttl
}

// SaveScores appends the current score gauges to their histories, all
// stamped with at.
func (rs *RedisStorage) SaveScores(ctx context.Context, m *Metrics, at time.Time) error {
	for _, g := range m.Scores.GetAll() {
		labels := g.Labels()
		series := SeriesName(labels["metric"], labels["version"])
		if err := rs.SaveDataPoint(ctx, series, DataPoint{Timestamp: at, Value: g.Value()}); err != nil {
			return err
		}
	}
	return nil
}

// encodeMember prefixes the value with its timestamp so that equal scores
// from different runs stay distinct set members.
func encodeMember(dp DataPoint) string {
	return strconv.FormatInt(dp.Timestamp.UnixMilli(), 10) + ":" +
		strconv.FormatFloat(dp.Value, 'g', -1, 64)
}

func decodeMember(member string) (float64, bool) {
	_, raw, ok := strings.Cut(member, ":")
	if !ok {
		return 0, false
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return value, true
}
