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

// Package owner implements the CLI command reporting the account a process
// runs as.
package owner

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/GoogleCloudPlatform/guest-userdb/cmd/userdb/commands"
	"github.com/GoogleCloudPlatform/guest-userdb/internal/accounts"
	"github.com/shirou/gopsutil/v3/process"
	"github.com/spf13/cobra"
)

// processIDs returns the real and effective uid of a process, overridden in
// tests.
var processIDs = func(ctx context.Context, pid int32) (string, []uint32, error) {
	proc, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return "", nil, fmt.Errorf("no such process %d: %w", pid, err)
	}
	name, err := proc.NameWithContext(ctx)
	if err != nil {
		return "", nil, fmt.Errorf("failed to read name of process %d: %w", pid, err)
	}
	uids, err := proc.UidsWithContext(ctx)
	if err != nil {
		return "", nil, fmt.Errorf("failed to read uids of process %d: %w", pid, err)
	}
	var res []uint32
	for _, uid := range uids {
		res = append(res, uint32(uid))
	}
	return name, res, nil
}

// processOwner is the yaml view of the owner command.
type processOwner struct {
	PID           int32         `yaml:"pid"`
	Name          string        `yaml:"name"`
	User          commands.User `yaml:"user"`
	EffectiveUser commands.User `yaml:"effective_user"`
}

// New returns the owner command.
func New() *cobra.Command {
	return &cobra.Command{
		Use:   "owner <pid>",
		Short: "Print the user a process runs as",
		Long:  "Prints the real and effective user of a running process.",
		Args:  cobra.ExactArgs(1),
		RunE:  owner,
	}
}

func owner(cmd *cobra.Command, args []string) error {
	pid, err := strconv.ParseInt(args[0], 10, 32)
	if err != nil || pid <= 0 {
		return fmt.Errorf("invalid pid %q", args[0])
	}

	db, err := commands.DB(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	name, uids, err := processIDs(ctx, int32(pid))
	if err != nil {
		return err
	}
	if len(uids) == 0 {
		return fmt.Errorf("no uid reported for process %d", pid)
	}
	// The effective uid is the second one reported, some platforms only
	// report the real one.
	euid := uids[0]
	if len(uids) > 1 {
		euid = uids[1]
	}

	res := processOwner{PID: int32(pid), Name: name}
	for _, it := range []struct {
		uid uint32
		dst *commands.User
	}{{uids[0], &res.User}, {euid, &res.EffectiveUser}} {
		u, err := db.LookupUserByID(ctx, it.uid)
		switch {
		case accounts.IsNotFound(err):
			*it.dst = commands.User{UID: it.uid}
		case err != nil:
			return err
		default:
			*it.dst = commands.UserView(u)
		}
	}

	return commands.Write(cmd, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "%d %s uid=%s euid=%s\n", res.PID, res.Name,
			commands.IDString(res.User.UID, res.User.Name), commands.IDString(res.EffectiveUser.UID, res.EffectiveUser.Name))
		return err
	}, res)
}
