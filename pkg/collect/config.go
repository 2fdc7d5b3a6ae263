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

// Package collect wires the Token Pool, HTTP Client, Search Driver, and
// Repository Pipeline into the `collect` subcommand described in spec.md
// §6, and resolves the CLI/env surface (--time-range, --min-stars,
// --star-range, --db-path, ...) into the concrete inputs those packages
// need.
package collect

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/abcxyz/pkg/cfgloader"
	"github.com/abcxyz/pkg/cli"
	"github.com/sethvargo/go-envconfig"

	"github.com/abcxyz/github-data-collector/pkg/model"
	"github.com/abcxyz/github-data-collector/pkg/tokenpool"
)

// Config defines the set of environment variables and flags required for
// running a collection pass, per spec.md §6.
type Config struct {
	GitHubAPIToken  string `env:"GITHUB_API_TOKEN"`
	GitHubAPITokens string `env:"GITHUB_API_TOKENS"`

	TimeRange string `env:"TIME_RANGE,default=month"`
	StartDate string `env:"START_DATE"`
	EndDate   string `env:"END_DATE"`

	MinStars     int `env:"MIN_STARS,default=100"`
	StarRangeMin int `env:"STAR_RANGE_MIN"`
	StarRangeMax int `env:"STAR_RANGE_MAX"`

	Limit int `env:"LIMIT"`

	DBPath   string `env:"DATABASE_URL,default=data/github_data.db"`
	CacheDir string `env:"CACHE_DIR,default=.github_cache"`

	NonInteractive bool `env:"NON_INTERACTIVE"`
	Resume         bool `env:"RESUME,default=true"`

	// Workers is the number of concurrent (window, page) fetchers, per the
	// dispatcher/worker/writer redesign in spec.md §9. 1 runs the
	// single-worker mode with exact per-page resume precision.
	Workers int `env:"WORKERS,default=1"`
}

// Validate enforces the mutual exclusivity and enum rules from spec.md §6.
func (cfg *Config) Validate() error {
	var merr error

	switch cfg.TimeRange {
	case "week", "month", "year":
	case "custom":
		if cfg.StartDate == "" || cfg.EndDate == "" {
			merr = errors.Join(merr, fmt.Errorf("--start-date and --end-date are required when --time-range=custom"))
		}
	default:
		merr = errors.Join(merr, fmt.Errorf("--time-range must be one of week, month, year, custom; got %q", cfg.TimeRange))
	}

	starRange := cfg.StarRangeMin != 0 || cfg.StarRangeMax != 0
	minStarsSet := cfg.MinStars != 0 && cfg.MinStars != 100
	if starRange && minStarsSet {
		merr = errors.Join(merr, fmt.Errorf("--min-stars and --star-range are mutually exclusive"))
	}
	if starRange && cfg.StarRangeMax > 0 && cfg.StarRangeMax < cfg.StarRangeMin {
		merr = errors.Join(merr, fmt.Errorf("--star-range max must be >= min"))
	}

	if cfg.Workers < 1 {
		merr = errors.Join(merr, fmt.Errorf("--workers must be >= 1"))
	}

	return merr
}

// Tokens returns the single-token GITHUB_API_TOKEN first, followed by the
// entries of the comma-separated GITHUB_API_TOKENS env var, matching spec.md §6's
// "GITHUB_API_TOKEN (single) or GITHUB_API_TOKENS (comma-separated)".
func (cfg *Config) Tokens() []string {
	return tokenpool.ParseTokens(cfg.GitHubAPIToken, cfg.GitHubAPITokens)
}

// StarFilter renders the configured star constraint as a model.StarFilter.
func (cfg *Config) StarFilter() model.StarFilter {
	if cfg.StarRangeMin != 0 || cfg.StarRangeMax != 0 {
		return model.StarFilter{Min: cfg.StarRangeMin, Max: cfg.StarRangeMax}
	}
	return model.StarFilter{Min: cfg.MinStars}
}

const dateLayout = "2006-01-02"

// DateRange resolves --time-range into a concrete [start, end) pair,
// relative to now for the built-in presets.
func (cfg *Config) DateRange(now time.Time) (time.Time, time.Time, error) {
	end := now.UTC()
	switch cfg.TimeRange {
	case "week":
		return end.AddDate(0, 0, -7), end, nil
	case "month":
		return end.AddDate(0, -1, 0), end, nil
	case "year":
		return end.AddDate(-1, 0, 0), end, nil
	case "custom":
		start, err := time.Parse(dateLayout, cfg.StartDate)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("collect: invalid --start-date %q: %w", cfg.StartDate, err)
		}
		finish, err := time.Parse(dateLayout, cfg.EndDate)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("collect: invalid --end-date %q: %w", cfg.EndDate, err)
		}
		return start, finish, nil
	default:
		return time.Time{}, time.Time{}, fmt.Errorf("collect: unknown --time-range %q", cfg.TimeRange)
	}
}

// ToFlags binds the config to the given [cli.FlagSet] and returns it.
func (cfg *Config) ToFlags(set *cli.FlagSet) *cli.FlagSet {
	f := set.NewSection("COLLECTION OPTIONS")

	f.StringVar(&cli.StringVar{
		Name:    "time-range",
		Target:  &cfg.TimeRange,
		EnvVar:  "TIME_RANGE",
		Default: "month",
		Usage:   `One of "week", "month", "year", or "custom".`,
	})

	f.StringVar(&cli.StringVar{
		Name:   "start-date",
		Target: &cfg.StartDate,
		EnvVar: "START_DATE",
		Usage:  `Collection window start (YYYY-MM-DD), required with --time-range=custom.`,
	})

	f.StringVar(&cli.StringVar{
		Name:   "end-date",
		Target: &cfg.EndDate,
		EnvVar: "END_DATE",
		Usage:  `Collection window end (YYYY-MM-DD), required with --time-range=custom.`,
	})

	f.IntVar(&cli.IntVar{
		Name:    "min-stars",
		Target:  &cfg.MinStars,
		EnvVar:  "MIN_STARS",
		Default: 100,
		Usage:   `Minimum stargazer count. Mutually exclusive with --star-range.`,
	})

	f.IntVar(&cli.IntVar{
		Name:   "star-range-min",
		Target: &cfg.StarRangeMin,
		EnvVar: "STAR_RANGE_MIN",
		Usage:  `Lower bound of a star-count range. Mutually exclusive with --min-stars.`,
	})

	f.IntVar(&cli.IntVar{
		Name:   "star-range-max",
		Target: &cfg.StarRangeMax,
		EnvVar: "STAR_RANGE_MAX",
		Usage:  `Upper bound of a star-count range.`,
	})

	f.IntVar(&cli.IntVar{
		Name:   "limit",
		Target: &cfg.Limit,
		EnvVar: "LIMIT",
		Usage:  `Cap on the number of repositories collected in this run.`,
	})

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
		Usage:   `Directory for the HTTP response cache.`,
	})

	f.BoolVar(&cli.BoolVar{
		Name:   "non-interactive",
		Target: &cfg.NonInteractive,
		EnvVar: "NON_INTERACTIVE",
		Usage:  `Disable interactive prompts.`,
	})

	f.BoolVar(&cli.BoolVar{
		Name:    "resume",
		Target:  &cfg.Resume,
		EnvVar:  "RESUME",
		Default: true,
		Usage:   `Resume from the collection_state.json checkpoint when present.`,
	})

	f.IntVar(&cli.IntVar{
		Name:    "workers",
		Target:  &cfg.Workers,
		EnvVar:  "WORKERS",
		Default: 1,
		Usage:   `Number of concurrent (window, page) fetchers.`,
	})

	return set
}

// NewConfig creates a new Config from environment variables.
func NewConfig(ctx context.Context) (*Config, error) {
	var cfg Config
	if err := cfgloader.Load(ctx, &cfg, cfgloader.WithLookuper(envconfig.OsLookuper())); err != nil {
		return nil, fmt.Errorf("collect: failed to parse configuration: %w", err)
	}
	return &cfg, nil
}
