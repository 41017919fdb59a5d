package arangodb

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/arangodb/go-driver/v2/arangodb"
	"github.com/arangodb/go-driver/v2/connection"
)

// Client is a thin document-store view over ArangoDB: database and
// collection bootstrap plus AQL execution.
type Client interface {
	EnsureDatabase(ctx context.Context) error
	EnsureCollection(ctx context.Context, name string) error

	// Query runs aql and calls each once per result document; read decodes
	// the current document into its argument and must be called exactly once.
	Query(ctx context.Context, aql string, bindVars map[string]any, each func(read func(doc any) error) error) error

	Close() error
}

type Config struct {
	URL      string
	Username string
	Password string
	Database string
}

func (c Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("arangodb URL is required")
	}
	if c.Username == "" {
		return fmt.Errorf("arangodb username is required")
	}
	if c.Database == "" {
		return fmt.Errorf("arangodb database name is required")
	}
	return nil
}

type client struct {
	conn         connection.Connection
	arangoClient arangodb.Client
	db           arangodb.Database
	cfg          Config
}

func New(ctx context.Context, cfg Config) (Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("arangodb config: %w", err)
	}

	endpoint := connection.NewRoundRobinEndpoints([]string{cfg.URL})
	conn := connection.NewHttp2Connection(connection.DefaultHTTP2ConfigurationWrapper(endpoint, true))

	auth := connection.NewBasicAuth(cfg.Username, cfg.Password)
	if err := conn.SetAuthentication(auth); err != nil {
		return nil, fmt.Errorf("arangodb auth: %w", err)
	}

	return &client{
		conn:         conn,
		arangoClient: arangodb.NewClient(conn),
		cfg:          cfg,
	}, nil
}

func (c *client) Close() error {
	return nil
}

func (c *client) EnsureDatabase(ctx context.Context) error {
	start := time.Now()

	exists, err := c.arangoClient.DatabaseExists(ctx, c.cfg.Database)
	if err != nil {
		return fmt.Errorf("check database exists: %w", err)
	}

	if !exists {
		if _, err := c.arangoClient.CreateDatabase(ctx, c.cfg.Database, nil); err != nil {
			return fmt.Errorf("create database: %w", err)
		}
		slog.InfoContext(ctx, "arangodb database created",
			"database", c.cfg.Database,
			"duration_ms", time.Since(start).Milliseconds())
	}

	db, err := c.arangoClient.GetDatabase(ctx, c.cfg.Database, nil)
	if err != nil {
		return fmt.Errorf("get database: %w", err)
	}
	c.db = db

	return nil
}

func (c *client) EnsureCollection(ctx context.Context, name string) error {
	if c.db == nil {
		return fmt.Errorf("database not initialized, call EnsureDatabase first")
	}

	exists, err := c.db.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("check collection %s exists: %w", name, err)
	}
	if exists {
		return nil
	}

	colType := arangodb.CollectionTypeDocument
	if _, err := c.db.CreateCollectionV2(ctx, name, &arangodb.CreateCollectionPropertiesV2{Type: &colType}); err != nil {
		return fmt.Errorf("create collection %s: %w", name, err)
	}
	slog.InfoContext(ctx, "arangodb collection created", "collection", name)

	return nil
}

func (c *client) Query(ctx context.Context, aql string, bindVars map[string]any, each func(read func(doc any) error) error) error {
	if c.db == nil {
		return fmt.Errorf("database not initialized")
	}

	cursor, err := c.db.Query(ctx, aql, &arangodb.QueryOptions{BindVars: bindVars})
	if err != nil {
		return fmt.Errorf("execute query: %w", err)
	}
	defer cursor.Close()

	for cursor.HasMore() {
		read := func(doc any) error {
			if _, err := cursor.ReadDocument(ctx, doc); err != nil {
				return fmt.Errorf("read document: %w", err)
			}
			return nil
		}
		if each == nil {
			var discard any
			if err := read(&discard); err != nil {
				return err
			}
			continue
		}
		if err := each(read); err != nil {
			return err
		}
	}
	return nil
}

// MakeKey maps an arbitrary string to a valid document _key.
func MakeKey(s string) string {
	hash := md5.Sum([]byte(s))
	return hex.EncodeToString(hash[:])
}
