package ledger

import (
	"context"
	"fmt"
	"time"

	"basegraph.app/courier/common/arangodb"
)

const arangoCollection = "dedup_ledger"

// ArangoBackend stores one document per event id, keyed by a hash of the id
// since platform ids are not valid document keys.
type ArangoBackend struct {
	client arangodb.Client
}

func OpenArango(ctx context.Context, cfg arangodb.Config) (*ArangoBackend, error) {
	client, err := arangodb.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewArangoBackend(ctx, client)
}

func NewArangoBackend(ctx context.Context, client arangodb.Client) (*ArangoBackend, error) {
	if err := client.EnsureDatabase(ctx); err != nil {
		return nil, fmt.Errorf("ensuring ledger database: %w", err)
	}
	if err := client.EnsureCollection(ctx, arangoCollection); err != nil {
		return nil, fmt.Errorf("ensuring ledger collection: %w", err)
	}
	return &ArangoBackend{client: client}, nil
}

func (b *ArangoBackend) Has(ctx context.Context, eventID string) (bool, error) {
	found := false
	err := b.client.Query(ctx,
		`FOR d IN @@col FILTER d._key == @key LIMIT 1 RETURN d._key`,
		map[string]any{"@col": arangoCollection, "key": arangodb.MakeKey(eventID)},
		func(read func(doc any) error) error {
			var key string
			if err := read(&key); err != nil {
				return err
			}
			found = true
			return nil
		})
	if err != nil {
		return false, fmt.Errorf("querying ledger: %w", err)
	}
	return found, nil
}

func (b *ArangoBackend) Add(ctx context.Context, eventID string, at time.Time) error {
	err := b.client.Query(ctx,
		`UPSERT { _key: @key }
		 INSERT { _key: @key, event_id: @id, resolved_at: @at }
		 UPDATE {} IN @@col`,
		map[string]any{
			"@col": arangoCollection,
			"key":  arangodb.MakeKey(eventID),
			"id":   eventID,
			"at":   at.UnixNano(),
		}, nil)
	if err != nil {
		return fmt.Errorf("inserting ledger entry: %w", err)
	}
	return nil
}

func (b *ArangoBackend) PruneBefore(ctx context.Context, cutoff time.Time) (int, error) {
	removed := 0
	err := b.client.Query(ctx,
		`FOR d IN @@col FILTER d.resolved_at < @cutoff REMOVE d IN @@col RETURN 1`,
		map[string]any{"@col": arangoCollection, "cutoff": cutoff.UnixNano()},
		func(read func(doc any) error) error {
			var one int
			if err := read(&one); err != nil {
				return err
			}
			removed++
			return nil
		})
	if err != nil {
		return 0, fmt.Errorf("pruning ledger: %w", err)
	}
	return removed, nil
}

func (b *ArangoBackend) Count(ctx context.Context) (int64, error) {
	var n int64
	err := b.client.Query(ctx,
		`RETURN LENGTH(@@col)`,
		map[string]any{"@col": arangoCollection},
		func(read func(doc any) error) error {
			return read(&n)
		})
	if err != nil {
		return 0, fmt.Errorf("counting ledger: %w", err)
	}
	return n, nil
}

func (b *ArangoBackend) Close() error {
	return b.client.Close()
}
