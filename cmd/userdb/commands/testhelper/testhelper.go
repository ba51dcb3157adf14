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

// Package testhelper provides helpers to execute the CLI commands within
// tests.
package testhelper

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/GoogleCloudPlatform/guest-userdb/cmd/userdb/commands"
	"github.com/GoogleCloudPlatform/guest-userdb/internal/mock"
	"github.com/GoogleCloudPlatform/guest-userdb/internal/userdb"
	"github.com/spf13/cobra"
)

// Fixture is the account database served to commands under test.
const Fixture = `
current_uid: 1000
current_gid: 1000
effective_uid: 0
effective_gid: 0
users:
  - {name: root, uid: 0, gid: 0, password: x, gecos: root, home: /root, shell: /bin/bash}
  - {name: alice, uid: 1000, gid: 1000, password: x, gecos: Alice, home: /home/alice, shell: /bin/sh}
  - {name: bob, uid: 1001, gid: 1001, password: x, home: /home/bob, shell: /bin/sh}
groups:
  - {name: root, gid: 0, password: x}
  - {name: wheel, gid: 10, password: x, members: [root, alice, root]}
  - {name: staff, gid: 50, password: x, members: [alice, bob]}
  - {name: alice, gid: 1000, password: x}
  - {name: bob, gid: 1001, password: x}
`

// Context returns a context carrying a cached account database serving
// Fixture.
func Context(t *testing.T) context.Context {
	t.Helper()
	p, err := mock.Parse([]byte(Fixture))
	if err != nil {
		t.Fatalf("mock.Parse() failed: %v", err)
	}
	db := userdb.New(p, userdb.Options{CacheEnabled: true, IDs: p})
	t.Cleanup(func() { db.Close() })
	return commands.WithDB(context.Background(), db)
}

func captureOutput(ctx context.Context, cmd *cobra.Command, out io.Writer) {
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetContext(ctx)

	for _, subCmd := range cmd.Commands() {
		captureOutput(ctx, subCmd, out)
	}
}

// ExecuteCommand executes the given command and returns its output.
func ExecuteCommand(ctx context.Context, cmd *cobra.Command, args []string) (string, error) {
	out := new(bytes.Buffer)
	captureOutput(ctx, cmd, out)
	cmd.SetArgs(args)

	err := cmd.Execute()
	return out.String(), err
}
