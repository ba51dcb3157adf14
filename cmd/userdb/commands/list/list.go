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

// Package list implements the CLI commands enumerating the account database.
package list

import (
	"iter"

	"github.com/GoogleCloudPlatform/guest-userdb/cmd/userdb/commands"
	"github.com/GoogleCloudPlatform/guest-userdb/internal/accounts"
	"github.com/GoogleCloudPlatform/guest-userdb/internal/cache"
	"github.com/GoogleCloudPlatform/guest-userdb/internal/userdb"
	"github.com/spf13/cobra"
)

// New returns the enumeration commands.
func New() []*cobra.Command {
	users := &cobra.Command{
		Use:   "users",
		Short: "List every user",
		Long:  "Lists every user of the account database, each login name once.",
		Args:  cobra.NoArgs,
		RunE:  listUsers,
	}
	users.Flags().Bool("keep-going", false, "Skip malformed entries instead of failing.")
	users.Flags().Bool("sorted", false, "Load the whole database first and list the users by uid.")
	users.MarkFlagsMutuallyExclusive("keep-going", "sorted")

	groups := &cobra.Command{
		Use:   "groups",
		Short: "List every group",
		Long:  "Lists every group of the account database, each group name once.",
		Args:  cobra.NoArgs,
		RunE:  listGroups,
	}
	groups.Flags().Bool("keep-going", false, "Skip malformed entries instead of failing.")
	groups.Flags().Bool("sorted", false, "Load the whole database first and list the groups by gid.")
	groups.Flags().Bool("primary", false, "Only list the primary groups of users, implies --sorted.")
	groups.MarkFlagsMutuallyExclusive("keep-going", "sorted")
	groups.MarkFlagsMutuallyExclusive("keep-going", "primary")

	return []*cobra.Command{users, groups}
}

// source returns the enumerator serving cmd: the database itself, or a
// snapshot of it when the listing must be sorted.
func source(cmd *cobra.Command, db *userdb.DB) (accounts.Enumerator, error) {
	sorted, _ := cmd.Flags().GetBool("sorted")
	primary, _ := cmd.Flags().GetBool("primary")
	if !sorted && !primary {
		return db, nil
	}
	return cache.NewSnapshot(cmd.Context(), db, cache.SnapshotOptions{OnlyPrimaryGroups: primary, IDs: db.IDs()})
}

// collect gathers the records of seq, skipping malformed entries if
// keep-going is set.
func collect[T any](cmd *cobra.Command, seq iter.Seq2[T, error]) ([]T, error) {
	keepGoing, _ := cmd.Flags().GetBool("keep-going")

	var res []T
	for rec, err := range seq {
		if err != nil {
			if keepGoing && !isFatal(err) {
				cmd.PrintErrf("Skipping entry: %v\n", err)
				continue
			}
			return nil, err
		}
		res = append(res, rec)
	}
	return res, nil
}

func listUsers(cmd *cobra.Command, _ []string) error {
	db, err := commands.DB(cmd)
	if err != nil {
		return err
	}
	src, err := source(cmd, db)
	if err != nil {
		return err
	}
	users, err := collect(cmd, src.AllUsers(cmd.Context()))
	if err != nil {
		return err
	}
	return commands.WriteUsers(cmd, users)
}

func listGroups(cmd *cobra.Command, _ []string) error {
	db, err := commands.DB(cmd)
	if err != nil {
		return err
	}
	src, err := source(cmd, db)
	if err != nil {
		return err
	}
	groups, err := collect(cmd, src.AllGroups(cmd.Context()))
	if err != nil {
		return err
	}
	return commands.WriteGroups(cmd, groups)
}

// isFatal returns true for errors that end the enumeration, as opposed to a
// single malformed entry: failures carrying an OS error code.
func isFatal(err error) bool {
	se, ok := accounts.AsSystemError(err)
	return !ok || se.Code != 0
}
