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

package list

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/GoogleCloudPlatform/guest-userdb/cmd/userdb/commands"
	"github.com/GoogleCloudPlatform/guest-userdb/cmd/userdb/commands/testhelper"
	"github.com/GoogleCloudPlatform/guest-userdb/internal/passwdfile"
	"github.com/GoogleCloudPlatform/guest-userdb/internal/userdb"
	"github.com/google/go-cmp/cmp"
	"github.com/spf13/cobra"
)

func command(name string) *cobra.Command {
	for _, cmd := range New() {
		if cmd.Name() == name {
			return cmd
		}
	}
	return nil
}

func TestListGroups(t *testing.T) {
	got, err := testhelper.ExecuteCommand(testhelper.Context(t), command("groups"), nil)
	if err != nil {
		t.Fatalf("ExecuteCommand(groups) failed unexpectedly: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(got), "\n")
	var staff int
	for _, l := range lines {
		if strings.HasPrefix(l, "staff:") {
			staff++
		}
	}
	if len(lines) != 5 || staff != 1 {
		t.Errorf("ExecuteCommand(groups) = %q, want 5 groups with staff once", got)
	}
}

func TestListMalformed(t *testing.T) {
	dir := t.TempDir()
	passwd := filepath.Join(dir, "passwd")
	data := "root:x:0:0:root:/root:/bin/bash\nbroken\n"
	if err := os.WriteFile(passwd, []byte(data), 0644); err != nil {
		t.Fatalf("os.WriteFile(%q) failed: %v", passwd, err)
	}
	db := userdb.New(passwdfile.New(passwd, filepath.Join(dir, "group")), userdb.Options{})
	ctx := commands.WithDB(context.Background(), db)

	if _, err := testhelper.ExecuteCommand(ctx, command("users"), nil); err == nil {
		t.Errorf("ExecuteCommand(users) succeeded with a malformed entry, want error")
	}

	got, err := testhelper.ExecuteCommand(ctx, command("users"), []string{"--keep-going"})
	if err != nil {
		t.Fatalf("ExecuteCommand(users --keep-going) failed unexpectedly: %v", err)
	}
	if !strings.Contains(got, "root:x:0:0:root:/root:/bin/bash") || !strings.Contains(got, "Skipping entry") {
		t.Errorf("ExecuteCommand(users --keep-going) = %q, want root and a skipped entry", got)
	}

	// A missing group file is not a malformed entry.
	if _, err := testhelper.ExecuteCommand(ctx, command("groups"), []string{"--keep-going"}); err == nil {
		t.Errorf("ExecuteCommand(groups --keep-going) succeeded with a missing file, want error")
	}
}

func TestListSnapshot(t *testing.T) {
	tests := []struct {
		name string
		cmd  string
		args []string
		want []string
	}{
		{
			name: "sorted_users",
			cmd:  "users",
			args: []string{"--sorted"},
			want: []string{"root", "alice", "bob"},
		},
		{
			name: "sorted_groups",
			cmd:  "groups",
			args: []string{"--sorted"},
			want: []string{"root", "wheel", "staff", "alice", "bob"},
		},
		{
			name: "primary_groups",
			cmd:  "groups",
			args: []string{"--primary"},
			want: []string{"root", "alice", "bob"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := testhelper.ExecuteCommand(testhelper.Context(t), command(tc.cmd), tc.args)
			if err != nil {
				t.Fatalf("ExecuteCommand(%s %v) failed unexpectedly: %v", tc.cmd, tc.args, err)
			}

			var names []string
			for _, l := range strings.Split(strings.TrimSpace(got), "\n") {
				names = append(names, strings.Split(l, ":")[0])
			}
			if diff := cmp.Diff(tc.want, names); diff != "" {
				t.Errorf("ExecuteCommand(%s %v) returned an unexpected diff (-want +got):\n%v", tc.cmd, tc.args, diff)
			}
		})
	}
}

func TestListSnapshotKeepGoingExclusive(t *testing.T) {
	args := []string{"--primary", "--keep-going"}
	if _, err := testhelper.ExecuteCommand(testhelper.Context(t), command("groups"), args); err == nil {
		t.Errorf("ExecuteCommand(groups %v) succeeded, want error", args)
	}
}
