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

package accounts

import (
	"errors"
	"fmt"
	"os/user"
	"syscall"
	"testing"
)

func TestNotFoundError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantMsg string
		wantStd error
	}{
		{
			name:    "uid",
			err:     NewUserIDNotFound(1000),
			wantMsg: `uid "1000" not found`,
			wantStd: user.UnknownUserIdError(1000),
		},
		{
			name:    "user",
			err:     NewUserNameNotFound("alice"),
			wantMsg: `user "alice" not found`,
			wantStd: user.UnknownUserError("alice"),
		},
		{
			name:    "gid",
			err:     NewGroupIDNotFound(50),
			wantMsg: `gid "50" not found`,
			wantStd: user.UnknownGroupIdError("50"),
		},
		{
			name:    "group",
			err:     NewGroupNameNotFound("staff"),
			wantMsg: `group "staff" not found`,
			wantStd: user.UnknownGroupError("staff"),
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.err.Error() != tc.wantMsg {
				t.Errorf("Error() = %q, want %q", tc.err.Error(), tc.wantMsg)
			}

			wrapped := fmt.Errorf("lookup failed: %w", tc.err)
			if !IsNotFound(wrapped) {
				t.Errorf("IsNotFound(%v) = false, want true", wrapped)
			}
			if !errors.Is(wrapped, tc.wantStd) {
				t.Errorf("errors.Is(%v, %v) = false, want true", wrapped, tc.wantStd)
			}
			if _, ok := AsSystemError(wrapped); ok {
				t.Errorf("AsSystemError(%v) = true, want false", wrapped)
			}
		})
	}
}

func TestSystemError(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &SystemError{Op: "getent passwd alice", Code: int(syscall.ENOENT), Err: syscall.ENOENT})

	if IsNotFound(err) {
		t.Errorf("IsNotFound(%v) = true, want false", err)
	}

	se, ok := AsSystemError(err)
	if !ok {
		t.Fatalf("AsSystemError(%v) = false, want true", err)
	}
	if se.Code != int(syscall.ENOENT) {
		t.Errorf("SystemError.Code = %d, want %d", se.Code, syscall.ENOENT)
	}
	if !errors.Is(err, syscall.ENOENT) {
		t.Errorf("errors.Is(%v, ENOENT) = false, want true", err)
	}

	if _, ok := AsSystemError(nil); ok {
		t.Errorf("AsSystemError(nil) = true, want false")
	}
}

func TestKindString(t *testing.T) {
	if got := Kind(42).String(); got != "Kind(42)" {
		t.Errorf("Kind(42).String() = %q, want %q", got, "Kind(42)")
	}
}
