package qdrant

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"
	"golang.org/x/sync/errgroup"
)

// UpsertPoints inserts or updates points in a collection.
func (c *Client) UpsertPoints(ctx context.Context, collection string, points []Point) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return ErrClosed
	}

	if len(points) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	qdrantPoints := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		point, err := pointToQdrant(p)
		if err != nil {
			return fmt.Errorf("failed to convert point %v: %w", p.ID, err)
		}
		qdrantPoints = append(qdrantPoints, point)
	}

	_, err := c.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collectionName(collection),
		Points:         qdrantPoints,
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("failed to upsert points: %w", err)
	}

	return nil
}

// UpsertPointsBatch upserts points in batches, at most parallelism at a time.
func (c *Client) UpsertPointsBatch(ctx context.Context, collection string, points []Point, batchSize, parallelism int) error {
	if batchSize <= 0 {
		batchSize = 100
	}
	if parallelism <= 0 {
		parallelism = 1
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)

	for i := 0; i < len(points); i += batchSize {
		start := i
		end := min(i+batchSize, len(points))
		g.Go(func() error {
			if err := c.UpsertPoints(ctx, collection, points[start:end]); err != nil {
				return fmt.Errorf("failed to upsert batch %d-%d: %w", start, end, err)
			}
			return nil
		})
	}

	return g.Wait()
}

// CountPoints returns the number of points matching the filter.
func (c *Client) CountPoints(ctx context.Context, collection string, filter *Filter) (uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return 0, ErrClosed
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	countReq := &qdrant.CountPoints{
		CollectionName: collectionName(collection),
		Exact:          qdrant.PtrOf(true),
	}

	if filter != nil {
		f, err := buildFilter(filter)
		if err != nil {
			return 0, err
		}
		countReq.Filter = f
	}

	count, err := c.client.Count(ctx, countReq)
	if err != nil {
		return 0, fmt.Errorf("failed to count points: %w", err)
	}

	return count, nil
}

// pointToQdrant converts a Point to a Qdrant PointStruct.
func pointToQdrant(p Point) (*qdrant.PointStruct, error) {
	var id *qdrant.PointId
	switch v := p.ID.(type) {
	case uint64:
		id = qdrant.NewIDNum(v)
	case string:
		id = qdrant.NewIDUUID(v)
	default:
		return nil, fmt.Errorf("unsupported point id type %T", p.ID)
	}

	payload, err := qdrant.TryValueMap(p.Payload)
	if err != nil {
		return nil, fmt.Errorf("invalid payload: %w", err)
	}

	return &qdrant.PointStruct{
		Id:      id,
		Vectors: qdrant.NewVectors(p.Vector...),
		Payload: payload,
	}, nil
}
