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
	"strconv"
)

// ErrNotFound is matched (with errors.Is) by every *NotFoundError.
var ErrNotFound = errors.New("account not found")

// Kind identifies the kind of key a lookup was performed with.
type Kind int

const (
	// KindUserID is a lookup of a user by uid.
	KindUserID Kind = iota
	// KindUserName is a lookup of a user by login name.
	KindUserName
	// KindGroupID is a lookup of a group by gid.
	KindGroupID
	// KindGroupName is a lookup of a group by name.
	KindGroupName
)

// String returns the human readable name of the lookup kind.
func (k Kind) String() string {
	switch k {
	case KindUserID:
		return "uid"
	case KindUserName:
		return "user"
	case KindGroupID:
		return "gid"
	case KindGroupName:
		return "group"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// NotFoundError is returned when the name service has no entry for the
// requested key. It is an expected outcome, not a failure.
type NotFoundError struct {
	// Kind is the kind of lookup performed.
	Kind Kind
	// Key is the name or the decimal id that was looked up.
	Key string
}

// Error returns the error message.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Key)
}

// Is makes errors.Is(err, ErrNotFound) hold.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// Unwrap returns the equivalent os/user error so callers written against the
// standard library keep working.
func (e *NotFoundError) Unwrap() error {
	switch e.Kind {
	case KindUserID:
		id, err := strconv.Atoi(e.Key)
		if err != nil {
			return nil
		}
		return user.UnknownUserIdError(id)
	case KindUserName:
		return user.UnknownUserError(e.Key)
	case KindGroupID:
		return user.UnknownGroupIdError(e.Key)
	case KindGroupName:
		return user.UnknownGroupError(e.Key)
	}
	return nil
}

// NewUserIDNotFound returns a *NotFoundError for the given uid.
func NewUserIDNotFound(uid uint32) error {
	return &NotFoundError{Kind: KindUserID, Key: strconv.FormatUint(uint64(uid), 10)}
}

// NewUserNameNotFound returns a *NotFoundError for the given user name.
func NewUserNameNotFound(name string) error {
	return &NotFoundError{Kind: KindUserName, Key: name}
}

// NewGroupIDNotFound returns a *NotFoundError for the given gid.
func NewGroupIDNotFound(gid uint32) error {
	return &NotFoundError{Kind: KindGroupID, Key: strconv.FormatUint(uint64(gid), 10)}
}

// NewGroupNameNotFound returns a *NotFoundError for the given group name.
func NewGroupNameNotFound(name string) error {
	return &NotFoundError{Kind: KindGroupName, Key: name}
}

// IsNotFound returns true if err reports a missing account.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// SystemError is returned when the name service could not be queried or
// returned data that could not be understood.
type SystemError struct {
	// Op describes the operation that failed, i.e. "getent passwd alice".
	Op string
	// Code is the originating OS error code: the exit status of the lookup
	// tool, the signal number if it was killed by one, or the errno if it
	// could not be started. Zero if unknown.
	Code int
	// Err is the underlying error.
	Err error
}

// Error returns the error message.
func (e *SystemError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s failed (code %d): %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *SystemError) Unwrap() error {
	return e.Err
}

// AsSystemError returns the *SystemError in err's chain, if any.
func AsSystemError(err error) (*SystemError, bool) {
	var se *SystemError
	if err == nil {
		return nil, false
	}
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
