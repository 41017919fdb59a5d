package platform

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"basegraph.app/courier/core/config"
)

// New selects the platform client named by cfg.Platform.Kind. redisClient is
// required for the stream platform.
func New(cfg config.Config, redisClient *redis.Client) (Client, error) {
	switch cfg.Platform.Kind {
	case "gitlab":
		return NewGitLab(GitLabConfig{
			BaseURL:  cfg.Platform.GitLab.BaseURL,
			Token:    cfg.Platform.GitLab.Token,
			Username: cfg.Platform.GitLab.Username,
		})
	case "stream":
		if redisClient == nil {
			return nil, fmt.Errorf("stream platform requires redis")
		}
		return NewStream(redisClient, StreamConfig{
			Name:          cfg.Platform.Stream.Name,
			InboxStream:   cfg.Platform.Stream.InboxStream,
			OutboxStream:  cfg.Platform.Stream.OutboxStream,
			BatchSize:     cfg.Platform.Stream.BatchSize,
			Block:         cfg.Platform.Stream.Block,
			MaxPostLength: cfg.Platform.Stream.MaxPostLength,
			SelfHandle:    cfg.Context.SelfHandle,
		}), nil
	case "memory":
		return NewMemory("memory", cfg.Platform.Stream.MaxPostLength), nil
	default:
		return nil, fmt.Errorf("unknown platform %q", cfg.Platform.Kind)
	}
}
