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

// Package lookup implements the CLI commands looking up single accounts.
package lookup

import (
	"fmt"
	"io"

	"github.com/GoogleCloudPlatform/galog"
	"github.com/GoogleCloudPlatform/guest-userdb/cmd/userdb/commands"
	"github.com/GoogleCloudPlatform/guest-userdb/internal/accounts"
	"github.com/spf13/cobra"
)

// New returns the single account lookup commands.
func New() []*cobra.Command {
	return []*cobra.Command{newUserCmd(), newGroupCmd(), newGroupsOfCmd(), newWhoamiCmd()}
}

func newUserCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "user <name|uid>",
		Short: "Look up a user",
		Long:  "Looks up a user by login name, or by uid if the argument is numeric.",
		Args:  cobra.ExactArgs(1),
		RunE:  lookupUser,
	}
}

func lookupUser(cmd *cobra.Command, args []string) error {
	db, err := commands.DB(cmd)
	if err != nil {
		return err
	}
	u, err := commands.FindUser(cmd.Context(), db, args[0])
	if err != nil {
		return fmt.Errorf("failed to look up user: %w", err)
	}
	galog.V(2).Debugf("Found user %q (uid %d)", u.Name, u.UID)
	return commands.Write(cmd, func(w io.Writer) error {
		_, err := fmt.Fprintln(w, accounts.FormatPasswdLine(u))
		return err
	}, commands.UserView(u))
}

func newGroupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "group <name|gid>",
		Short: "Look up a group",
		Long:  "Looks up a group by name, or by gid if the argument is numeric.",
		Args:  cobra.ExactArgs(1),
		RunE:  lookupGroup,
	}
}

func lookupGroup(cmd *cobra.Command, args []string) error {
	db, err := commands.DB(cmd)
	if err != nil {
		return err
	}
	g, err := commands.FindGroup(cmd.Context(), db, args[0])
	if err != nil {
		return fmt.Errorf("failed to look up group: %w", err)
	}
	return commands.Write(cmd, func(w io.Writer) error {
		_, err := fmt.Fprintln(w, accounts.FormatGroupLine(g))
		return err
	}, commands.GroupView(g))
}

func newGroupsOfCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "groups-of <name|uid>",
		Short: "List the groups of a user",
		Long:  "Lists the primary group of a user followed by every group listing it as a member.",
		Args:  cobra.ExactArgs(1),
		RunE:  groupsOf,
	}
}

func groupsOf(cmd *cobra.Command, args []string) error {
	db, err := commands.DB(cmd)
	if err != nil {
		return err
	}
	u, err := commands.FindUser(cmd.Context(), db, args[0])
	if err != nil {
		return fmt.Errorf("failed to look up user: %w", err)
	}
	groups, err := db.UserGroups(cmd.Context(), u)
	if err != nil {
		return err
	}
	return commands.WriteGroups(cmd, groups)
}

// identity is the yaml view of the whoami command.
type identity struct {
	UID  commands.User  `yaml:"user"`
	EUID commands.User  `yaml:"effective_user"`
	GID  commands.Group `yaml:"group"`
	EGID commands.Group `yaml:"effective_group"`
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Print the current user and group",
		Long:  "Prints the real and effective user and group of the process, like id(1).",
		Args:  cobra.NoArgs,
		RunE:  whoami,
	}
}

func whoami(cmd *cobra.Command, _ []string) error {
	db, err := commands.DB(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	ids := db.IDs()

	user := func(uid uint32) (commands.User, error) {
		u, err := db.LookupUserByID(ctx, uid)
		if accounts.IsNotFound(err) {
			return commands.User{UID: uid}, nil
		}
		if err != nil {
			return commands.User{}, err
		}
		return commands.UserView(u), nil
	}
	group := func(gid uint32) (commands.Group, error) {
		g, err := db.LookupGroupByID(ctx, gid)
		if accounts.IsNotFound(err) {
			return commands.Group{GID: gid}, nil
		}
		if err != nil {
			return commands.Group{}, err
		}
		return commands.GroupView(g), nil
	}

	var res identity
	if res.UID, err = user(ids.UID()); err != nil {
		return err
	}
	if res.EUID, err = user(ids.EUID()); err != nil {
		return err
	}
	if res.GID, err = group(ids.GID()); err != nil {
		return err
	}
	if res.EGID, err = group(ids.EGID()); err != nil {
		return err
	}

	return commands.Write(cmd, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "uid=%s gid=%s euid=%s egid=%s\n",
			commands.IDString(res.UID.UID, res.UID.Name), commands.IDString(res.GID.GID, res.GID.Name),
			commands.IDString(res.EUID.UID, res.EUID.Name), commands.IDString(res.EGID.GID, res.EGID.Name))
		return err
	}, res)
}
