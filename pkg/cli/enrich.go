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

	"github.com/abcxyz/github-data-collector/pkg/enrich"
	"github.com/abcxyz/github-data-collector/pkg/version"
)

var _ cli.Command = (*EnrichCommand)(nil)

// EnrichCommand runs the GraphQL batch enrichment pass described in
// spec.md §4.5 over the repository backlog already collected by
// CollectCommand.
type EnrichCommand struct {
	cli.BaseCommand

	cfg *enrich.CLIConfig

	// testFlagSetOpts is only used for testing.
	testFlagSetOpts []cli.Option
}

func (c *EnrichCommand) Desc() string {
	return `Enrich collected repositories with pull request, commit, and contributor counts`
}

func (c *EnrichCommand) Help() string {
	return `
Usage: {{ COMMAND }} [options]

	Fetch pull request and commit counts (via batched GraphQL requests) and
	contributor counts (via the REST API) for repositories in the local
	store that are missing enrichment data, resuming from any existing
	enrichment checkpoint.
`
}

func (c *EnrichCommand) Flags() *cli.FlagSet {
	c.cfg = &enrich.CLIConfig{}
	set := cli.NewFlagSet(c.testFlagSetOpts...)
	return c.cfg.ToFlags(set)
}

func (c *EnrichCommand) Run(ctx context.Context, args []string) error {
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

	if err := enrich.ExecuteJob(ctx, c.cfg); err != nil {
		logger.ErrorContext(ctx, "error executing enrich job", "error", err)
		return fmt.Errorf("job execution failed: %w", err)
	}

	return nil
}
