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

package owner

import (
	"context"
	"errors"
	"os"
	"strconv"
	"strings"
	"testing"

	"github.com/GoogleCloudPlatform/guest-userdb/cmd/userdb/commands/testhelper"
)

func TestOwner(t *testing.T) {
	orig := processIDs
	t.Cleanup(func() { processIDs = orig })

	tests := []struct {
		name    string
		ids     []uint32
		err     error
		args    []string
		want    string
		wantErr bool
	}{
		{
			name: "setuid_process",
			ids:  []uint32{1000, 0, 0, 0},
			args: []string{"42"},
			want: "42 sleep uid=1000(alice) euid=0(root)",
		},
		{
			name: "unknown_uid",
			ids:  []uint32{4242},
			args: []string{"42"},
			want: "42 sleep uid=4242 euid=4242",
		},
		{
			name:    "invalid_pid",
			args:    []string{"abc"},
			wantErr: true,
		},
		{
			name:    "no_such_process",
			err:     errors.New("process not found"),
			args:    []string{"42"},
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			processIDs = func(_ context.Context, pid int32) (string, []uint32, error) {
				return "sleep", tc.ids, tc.err
			}
			got, err := testhelper.ExecuteCommand(testhelper.Context(t), New(), tc.args)
			if (err != nil) != tc.wantErr {
				t.Fatalf("ExecuteCommand(%v) = %v, want error: %t", tc.args, err, tc.wantErr)
			}
			if got = strings.TrimSpace(got); !tc.wantErr && got != tc.want {
				t.Errorf("ExecuteCommand(%v) = %q, want %q", tc.args, got, tc.want)
			}
		})
	}
}

func TestProcessIDsSelf(t *testing.T) {
	pid := os.Getpid()
	_, uids, err := processIDs(context.Background(), int32(pid))
	if err != nil {
		t.Skipf("process information not available: %v", err)
	}
	if len(uids) == 0 || uids[0] != uint32(os.Getuid()) {
		t.Errorf("processIDs(%s) = %v, want real uid %d first", strconv.Itoa(pid), uids, os.Getuid())
	}
}
