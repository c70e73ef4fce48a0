package core

import (
	"fmt"
	"strings"
	"time"
)

type RepositoryConfig struct {
	Repo              string   `koanf:"repo" mapstructure:"repo"`
	PRChannelID       string   `koanf:"pr_channel_id" mapstructure:"pr_channel_id"`
	ActivityChannelID string   `koanf:"activity_channel_id" mapstructure:"activity_channel_id"`
	WatchedBranches   []string `koanf:"watched_branches" mapstructure:"watched_branches"`
}

type DedupConfig struct {
	Retention  time.Duration `koanf:"retention" mapstructure:"retention"`
	ClaimLease time.Duration `koanf:"claim_lease" mapstructure:"claim_lease"`
}

type DispatchConfig struct {
	LaneDepth      int           `koanf:"lane_depth" mapstructure:"lane_depth"`
	MaxAttempts    int           `koanf:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoff time.Duration `koanf:"initial_backoff" mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `koanf:"max_backoff" mapstructure:"max_backoff"`
}

type RetentionConfig struct {
	ArchiveGrace time.Duration `koanf:"archive_grace" mapstructure:"archive_grace"`
}

type Config struct {
	ServiceName   string             `koanf:"service_name" mapstructure:"service_name"`
	WebhookSecret string             `koanf:"webhook_secret" mapstructure:"webhook_secret"`
	Repositories  []RepositoryConfig `koanf:"repositories" mapstructure:"repositories"`
	Dedup         DedupConfig        `koanf:"dedup" mapstructure:"dedup"`
	Dispatch      DispatchConfig     `koanf:"dispatch" mapstructure:"dispatch"`
	Retention     RetentionConfig    `koanf:"retention" mapstructure:"retention"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "prbridge",
		Dedup: DedupConfig{
			Retention:  24 * time.Hour,
			ClaimLease: 30 * time.Second,
		},
		Dispatch: DispatchConfig{
			LaneDepth:      64,
			MaxAttempts:    5,
			InitialBackoff: time.Second,
			MaxBackoff:     time.Minute,
		},
		Retention: RetentionConfig{
			ArchiveGrace: 7 * 24 * time.Hour,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	seen := map[string]struct{}{}
	for _, repo := range c.Repositories {
		if err := repo.Binding().Validate(); err != nil {
			return err
		}
		name := strings.ToLower(strings.TrimSpace(repo.Repo))
		if _, exists := seen[name]; exists {
			return fmt.Errorf("core: duplicate repository binding %q", repo.Repo)
		}
		seen[name] = struct{}{}
	}
	if c.Dedup.Retention < 0 {
		return fmt.Errorf("core: dedup retention cannot be negative")
	}
	if c.Dispatch.LaneDepth < 0 {
		return fmt.Errorf("core: dispatch lane depth cannot be negative")
	}
	return nil
}

func (r RepositoryConfig) Binding() RepositoryBinding {
	branches := r.WatchedBranches
	if len(branches) == 0 {
		branches = defaultWatchedBranches()
	}
	return RepositoryBinding{
		Repo:              strings.TrimSpace(r.Repo),
		PRChannelID:       strings.TrimSpace(r.PRChannelID),
		ActivityChannelID: strings.TrimSpace(r.ActivityChannelID),
		WatchedBranches:   branches,
	}
}

func defaultWatchedBranches() []string {
	return []string{"main", "test", "develop"}
}

// Bindings materializes the configured repositories into the runtime lookup
// map, keyed by lowercased repository full name.
func (c Config) Bindings() map[string]RepositoryBinding {
	bindings := make(map[string]RepositoryBinding, len(c.Repositories))
	for _, repo := range c.Repositories {
		binding := repo.Binding()
		if strings.TrimSpace(binding.Repo) == "" {
			continue
		}
		bindings[strings.ToLower(binding.Repo)] = binding
	}
	return bindings
}
