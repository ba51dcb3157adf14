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

// Package commands provides common helper methods for all commands implemented
// by the CLI.
package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/GoogleCloudPlatform/guest-userdb/internal/accounts"
	"github.com/GoogleCloudPlatform/guest-userdb/internal/userdb"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const (
	// OutputFlag is the name of the persistent flag selecting the output
	// format.
	OutputFlag = "output"
	// OutputText prints records in the passwd/group file format.
	OutputText = "text"
	// OutputYAML prints records as yaml documents.
	OutputYAML = "yaml"
)

// dbKey is the context key of the account database used by the commands.
type dbKey struct{}

// WithDB returns a context carrying db, commands executed with it use db
// instead of opening one from the configuration.
func WithDB(ctx context.Context, db *userdb.DB) context.Context {
	return context.WithValue(ctx, dbKey{}, db)
}

// DBFromContext returns the account database stored in ctx, if any.
func DBFromContext(ctx context.Context) (*userdb.DB, bool) {
	if ctx == nil {
		return nil, false
	}
	db, ok := ctx.Value(dbKey{}).(*userdb.DB)
	return db, ok && db != nil
}

// DB returns the account database of the command.
func DB(cmd *cobra.Command) (*userdb.DB, error) {
	db, ok := DBFromContext(cmd.Context())
	if !ok {
		return nil, errors.New("account database is not initialized")
	}
	return db, nil
}

// AddOutputFlag registers the output format flag on cmd and its children.
func AddOutputFlag(cmd *cobra.Command) {
	cmd.PersistentFlags().StringP(OutputFlag, "o", OutputText, "Output format, one of text or yaml.")
}

// outputFormat returns the requested output format, text if the command has
// no output flag.
func outputFormat(cmd *cobra.Command) (string, error) {
	flag := cmd.Flag(OutputFlag)
	if flag == nil {
		return OutputText, nil
	}
	switch flag.Value.String() {
	case OutputText, OutputYAML:
		return flag.Value.String(), nil
	default:
		return "", fmt.Errorf("unknown output format %q, want %q or %q", flag.Value.String(), OutputText, OutputYAML)
	}
}

// Write prints data in the requested format: text is called for the text
// format, data is encoded as yaml otherwise.
func Write(cmd *cobra.Command, text func(io.Writer) error, data any) error {
	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if format == OutputText {
		return text(out)
	}

	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(data); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return enc.Close()
}

// User is the yaml view of a user.
type User struct {
	Name  string `yaml:"name"`
	UID   uint32 `yaml:"uid"`
	GID   uint32 `yaml:"gid"`
	Gecos string `yaml:"gecos,omitempty"`
	Home  string `yaml:"home,omitempty"`
	Shell string `yaml:"shell,omitempty"`
}

// Group is the yaml view of a group.
type Group struct {
	Name    string   `yaml:"name"`
	GID     uint32   `yaml:"gid"`
	Members []string `yaml:"members,omitempty"`
}

// UserView converts u to its yaml view.
func UserView(u *accounts.User) User {
	return User{Name: u.Name, UID: u.UID, GID: u.GID, Gecos: u.Gecos, Home: u.HomeDir, Shell: u.Shell}
}

// GroupView converts g to its yaml view.
func GroupView(g *accounts.Group) Group {
	return Group{Name: g.Name, GID: g.GID, Members: g.Members}
}

// WriteUsers prints users, one passwd line each in text format.
func WriteUsers(cmd *cobra.Command, users []*accounts.User) error {
	views := make([]User, 0, len(users))
	for _, u := range users {
		views = append(views, UserView(u))
	}
	return Write(cmd, func(w io.Writer) error {
		for _, u := range users {
			if _, err := fmt.Fprintln(w, accounts.FormatPasswdLine(u)); err != nil {
				return err
			}
		}
		return nil
	}, views)
}

// WriteGroups prints groups, one group line each in text format.
func WriteGroups(cmd *cobra.Command, groups []*accounts.Group) error {
	views := make([]Group, 0, len(groups))
	for _, g := range groups {
		views = append(views, GroupView(g))
	}
	return Write(cmd, func(w io.Writer) error {
		for _, g := range groups {
			if _, err := fmt.Fprintln(w, accounts.FormatGroupLine(g)); err != nil {
				return err
			}
		}
		return nil
	}, views)
}

// FindUser looks up a user by uid if key is numeric, by name otherwise.
func FindUser(ctx context.Context, db *userdb.DB, key string) (*accounts.User, error) {
	if id, err := strconv.ParseUint(key, 10, 32); err == nil {
		return db.LookupUserByID(ctx, uint32(id))
	}
	return db.LookupUserByName(ctx, key)
}

// FindGroup looks up a group by gid if key is numeric, by name otherwise.
func FindGroup(ctx context.Context, db *userdb.DB, key string) (*accounts.Group, error) {
	if id, err := strconv.ParseUint(key, 10, 32); err == nil {
		return db.LookupGroupByID(ctx, uint32(id))
	}
	return db.LookupGroupByName(ctx, key)
}

// IDString formats an id with the matching account name, like id(1) does:
// "1000(alice)". The bare id is returned if there is no such account.
func IDString(id uint32, name string) string {
	if name == "" {
		return strconv.FormatUint(uint64(id), 10)
	}
	return fmt.Sprintf("%d(%s)", id, name)
}
