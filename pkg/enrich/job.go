// Copyright 2023 The Authors (see AUTHORS file)
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package enrich

import (
	"context"
	"fmt"
	"time"

	"github.com/abcxyz/pkg/cfgloader"
	"github.com/abcxyz/pkg/cli"
	"github.com/abcxyz/pkg/logging"
	"github.com/sethvargo/go-envconfig"

	"github.com/abcxyz/github-data-collector/pkg/cache"
	"github.com/abcxyz/github-data-collector/pkg/checkpoint"
	"github.com/abcxyz/github-data-collector/pkg/githubapi"
	"github.com/abcxyz/github-data-collector/pkg/metrics"
	"github.com/abcxyz/github-data-collector/pkg/store"
	"github.com/abcxyz/github-data-collector/pkg/tokenpool"
)

// checkpointFileName is the fixed name of the plain-integer Enrichment
// Checkpoint, resolved relative to the working directory (spec.md §4.6).
const checkpointFileName = "enrich_checkpoint.txt"

// CLIConfig defines the environment variables and flags required for
// running an enrichment pass, per spec.md §6.
type CLIConfig struct {
	GitHubAPIToken  string `env:"GITHUB_API_TOKEN"`
	GitHubAPITokens string `env:"GITHUB_API_TOKENS"`

	DBPath   string `env:"DATABASE_URL,default=data/github_data.db"`
	CacheDir string `env:"CACHE_DIR,default=.github_cache"`

	BatchSize   int    `env:"BATCH_SIZE,default=50"`
	DryRun      bool   `env:"DRY_RUN"`
	Force       bool   `env:"FORCE"`
	RetryFailed string `env:"RETRY_FAILED"`
}

// Tokens combines the single and comma-separated token env vars, per
// spec.md §6.
func (cfg *CLIConfig) Tokens() []string {
	return tokenpool.ParseTokens(cfg.GitHubAPIToken, cfg.GitHubAPITokens)
}

// Validate enforces the CLIConfig's constraints.
func (cfg *CLIConfig) Validate() error {
	if cfg.BatchSize < 1 {
		return fmt.Errorf("--batch-size must be >= 1")
	}
	return nil
}

// ToFlags binds the config to the given [cli.FlagSet] and returns it.
func (cfg *CLIConfig) ToFlags(set *cli.FlagSet) *cli.FlagSet {
	f := set.NewSection("ENRICHMENT OPTIONS")

	f.StringVar(&cli.StringVar{
		Name:    "db-path",
		Target:  &cfg.DBPath,
		EnvVar:  "DATABASE_URL",
		Default: "data/github_data.db",
		Usage:   `SQLite database path (or DATABASE_URL).`,
	})

	f.StringVar(&cli.StringVar{
		Name:    "cache-dir",
		Target:  &cfg.CacheDir,
		EnvVar:  "CACHE_DIR",
		Default: ".github_cache",
		Usage:   `Directory for cached REST contributor-count responses.`,
	})

	f.IntVar(&cli.IntVar{
		Name:    "batch-size",
		Target:  &cfg.BatchSize,
		EnvVar:  "BATCH_SIZE",
		Default: DefaultBatchSize,
		Usage:   `Number of repositories per GraphQL batch request.`,
	})

	f.BoolVar(&cli.BoolVar{
		Name:   "dry-run",
		Target: &cfg.DryRun,
		EnvVar: "DRY_RUN",
		Usage:  `Fetch and report enrichment data without writing it to the store.`,
	})

	f.BoolVar(&cli.BoolVar{
		Name:   "force",
		Target: &cfg.Force,
		EnvVar: "FORCE",
		Usage:  `Re-enrich repositories that already have enrichment data.`,
	})

	f.StringVar(&cli.StringVar{
		Name:   "retry-failed",
		Target: &cfg.RetryFailed,
		EnvVar: "RETRY_FAILED",
		Usage:  `Path to a prior failed-repo-ids file; re-run only those repositories.`,
	})

	return set
}

// NewCLIConfig creates a new CLIConfig from environment variables.
func NewCLIConfig(ctx context.Context) (*CLIConfig, error) {
	var cfg CLIConfig
	if err := cfgloader.Load(ctx, &cfg, cfgloader.WithLookuper(envconfig.OsLookuper())); err != nil {
		return nil, fmt.Errorf("enrich: failed to parse configuration: %w", err)
	}
	return &cfg, nil
}

// ExecuteJob runs one enrichment pass end to end: it wires the Token Pool,
// GraphQL transport, and store, then drives the Batcher to completion and
// writes any terminal failures to a dated failure file (spec.md §6).
func ExecuteJob(ctx context.Context, cfg *CLIConfig) error {
	logger := logging.FromContext(ctx)

	pool, err := tokenpool.New(cfg.Tokens())
	if err != nil {
		return fmt.Errorf("enrich: %w", err)
	}

	st, err := store.Open(ctx, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("enrich: failed to open store: %w", err)
	}
	defer st.Close()

	m := &metrics.Counters{}
	api := githubapi.New(pool, cache.New(cfg.CacheDir), githubapi.WithMetrics(m))
	ckpt := checkpoint.NewEnrichStore(checkpointFileName)
	batcher := New(pool, st, api, ckpt, m)

	failed, err := batcher.Run(ctx, Config{
		BatchSize:   cfg.BatchSize,
		DryRun:      cfg.DryRun,
		Force:       cfg.Force,
		RetryFailed: cfg.RetryFailed,
	})
	if err != nil {
		logger.ErrorContext(ctx, "enrich: run failed", "error", err)
	}

	if len(failed) > 0 {
		path := fmt.Sprintf("failed_repo_ids_%s.txt", time.Now().UTC().Format("20060102"))
		if werr := WriteFailureFile(path, failed); werr != nil {
			return fmt.Errorf("enrich: %w", werr)
		}
		logger.WarnContext(ctx, "enrich: some repositories failed enrichment",
			"count", len(failed), "failure_file", path)
	}

	snap := m.Snapshot()
	logger.InfoContext(ctx, "enrichment complete", "repositories_enriched", snap.RepositoriesEnriched)

	if err != nil {
		return fmt.Errorf("enrich: %w", err)
	}
	return nil
}
