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

package cli

import (
	"context"
	"fmt"

	"github.com/abcxyz/pkg/cli"
	"github.com/abcxyz/pkg/logging"

	"github.com/abcxyz/github-data-collector/pkg/collect"
	"github.com/abcxyz/github-data-collector/pkg/version"
)

var _ cli.Command = (*CollectCommand)(nil)

// CollectCommand runs a crawl of the GitHub Search API into the local
// repository store, per spec.md §1-5.
type CollectCommand struct {
	cli.BaseCommand

	cfg *collect.Config

	// testFlagSetOpts is only used for testing.
	testFlagSetOpts []cli.Option
}

func (c *CollectCommand) Desc() string {
	return `Crawl GitHub repositories into the local store`
}

func (c *CollectCommand) Help() string {
	return `
Usage: {{ COMMAND }} [options]

	Crawl GitHub repositories matching the configured time range and star
	filter into the local SQLite store, resuming from any existing
	collection checkpoint.
`
}

func (c *CollectCommand) Flags() *cli.FlagSet {
	c.cfg = &collect.Config{}
	set := cli.NewFlagSet(c.testFlagSetOpts...)
	return c.cfg.ToFlags(set)
}

func (c *CollectCommand) Run(ctx context.Context, args []string) error {
	f := c.Flags()
	if err := f.Parse(args); err != nil {
		return fmt.Errorf("failed to parse flags: %w", err)
	}
	args = f.Args()
	if len(args) > 0 {
		return fmt.Errorf("unexpected arguments: %q", args)
	}

	logger := logging.FromContext(ctx)
	logger.DebugContext(ctx, "running job",
		"name", version.Name,
		"commit", version.Commit,
		"version", version.Version)

	if err := c.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	logger.DebugContext(ctx, "loaded configuration", "config", c.cfg)

	if err := collect.ExecuteJob(ctx, c.cfg); err != nil {
		logger.ErrorContext(ctx, "error executing collect job", "error", err)
		return fmt.Errorf("job execution failed: %w", err)
	}

	return nil
}
