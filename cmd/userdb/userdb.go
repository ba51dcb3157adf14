//  Copyright 2024 Google LLC
//
//  Licensed under the Apache License, Version 2.0 (the "License");
//  you may not use this file except in compliance with the License.
//  You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
//  Unless required by applicable law or agreed to in writing, software
//  distributed under the License is distributed on an "AS IS" BASIS,
//  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//  See the License for the specific language governing permissions and
//  limitations under the License.

// Package main is the implementation of the CLI querying the account
// database.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/GoogleCloudPlatform/galog"
	"github.com/GoogleCloudPlatform/guest-userdb/cmd/userdb/commands"
	"github.com/GoogleCloudPlatform/guest-userdb/cmd/userdb/commands/config"
	"github.com/GoogleCloudPlatform/guest-userdb/cmd/userdb/commands/list"
	"github.com/GoogleCloudPlatform/guest-userdb/cmd/userdb/commands/lookup"
	"github.com/GoogleCloudPlatform/guest-userdb/cmd/userdb/commands/owner"
	"github.com/GoogleCloudPlatform/guest-userdb/internal/accounts"
	"github.com/GoogleCloudPlatform/guest-userdb/internal/cfg"
	"github.com/GoogleCloudPlatform/guest-userdb/internal/logger"
	"github.com/GoogleCloudPlatform/guest-userdb/internal/userdb"
	"github.com/spf13/cobra"
)

const (
	// galogShutdownTimeout is the period of time we should wait for galog to
	// shutdown.
	galogShutdownTimeout = time.Second

	// exitNotFound is the exit status when the requested account doesn't
	// exist, the same getent uses.
	exitNotFound = 2
)

var (
	// version is the version of the binary, set at build time.
	version = "dev"
)

// session holds the account database opened for a command execution.
type session struct {
	db *userdb.DB
}

// close releases the database opened by the root command, if any. It must be
// called once the command returned, whatever its outcome: cobra skips the
// post run hooks of failed commands.
func (s *session) close() error {
	if s.db == nil {
		return nil
	}
	if c := s.db.Cache(); c != nil {
		st := c.Stats()
		galog.V(1).Debugf("Account cache: %d hits, %d misses, %d users and %d groups cached", st.Hits, st.Misses, st.Users, st.Groups)
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// newRootCommand generates the root command with all the subcommands, the
// database it opens is recorded in s.
func newRootCommand(s *session) *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:           "userdb",
		Short:         "Query the user and group database.",
		Long:          "Query the user and group database through the system name service, with caching.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if _, ok := commands.DBFromContext(ctx); ok {
				return nil
			}

			var extra []string
			if configFile != "" {
				extra = append(extra, configFile)
			}
			if err := cfg.Load(nil, extra...); err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			cfg.Retrieve().Core.Version = version

			if err := logger.Init(ctx, logger.OptionsFromConfig(cfg.Retrieve().Core)); err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}

			db, err := userdb.Open(ctx, cfg.Retrieve())
			if err != nil {
				return fmt.Errorf("failed to open account database: %w", err)
			}
			s.db = db
			cmd.SetContext(commands.WithDB(ctx, db))
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Extra configuration file, overrides the default ones.")
	commands.AddOutputFlag(root)

	root.AddCommand(lookup.New()...)
	root.AddCommand(list.New()...)
	root.AddCommand(owner.New())
	root.AddCommand(config.New())

	return root
}

// exitCode maps a command error to the process exit status.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case accounts.IsNotFound(err):
		return exitNotFound
	default:
		return 1
	}
}

func main() {
	ctx := context.Background()

	var s session
	rootCmd := newRootCommand(&s)
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	if cerr := s.close(); cerr != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to close account database: %v\n", cerr)
	}
	galog.Shutdown(galogShutdownTimeout)
	os.Exit(exitCode(err))
}
