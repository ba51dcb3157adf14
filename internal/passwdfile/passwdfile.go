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

// Package passwdfile reads users and groups straight from passwd(5) and
// group(5) formatted files, bypassing the name service switch. It's meant for
// inspecting fixture or chroot databases, the system's own database should be
// queried through the nss package.
package passwdfile

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"iter"
	"os"
	"strings"

	"github.com/GoogleCloudPlatform/galog"
	"github.com/GoogleCloudPlatform/guest-userdb/internal/accounts"
)

const (
	// DefaultPasswdFile is the system's users database file.
	DefaultPasswdFile = "/etc/passwd"
	// DefaultGroupFile is the system's groups database file.
	DefaultGroupFile = "/etc/group"
)

// Provider implements accounts.Provider on top of a passwd and a group file.
// The files are read on every call, no state is kept.
type Provider struct {
	passwdPath string
	groupPath  string
}

// New returns a Provider reading the given files.
func New(passwdPath, groupPath string) *Provider {
	return &Provider{passwdPath: passwdPath, groupPath: groupPath}
}

// LookupUserByID returns the first user with the given uid.
func (p *Provider) LookupUserByID(ctx context.Context, uid uint32) (*accounts.User, error) {
	return find(p.AllUsers(ctx), accounts.NewUserIDNotFound(uid), func(u *accounts.User) bool { return u.UID == uid })
}

// LookupUserByName returns the user with the given name.
func (p *Provider) LookupUserByName(ctx context.Context, name string) (*accounts.User, error) {
	return find(p.AllUsers(ctx), accounts.NewUserNameNotFound(name), func(u *accounts.User) bool { return u.Name == name })
}

// LookupGroupByID returns the first group with the given gid.
func (p *Provider) LookupGroupByID(ctx context.Context, gid uint32) (*accounts.Group, error) {
	return find(p.AllGroups(ctx), accounts.NewGroupIDNotFound(gid), func(g *accounts.Group) bool { return g.GID == gid })
}

// LookupGroupByName returns the group with the given name.
func (p *Provider) LookupGroupByName(ctx context.Context, name string) (*accounts.Group, error) {
	return find(p.AllGroups(ctx), accounts.NewGroupNameNotFound(name), func(g *accounts.Group) bool { return g.Name == name })
}

// AllUsers streams the users of the passwd file.
func (p *Provider) AllUsers(ctx context.Context) iter.Seq2[*accounts.User, error] {
	return scan(ctx, p.passwdPath, accounts.ParsePasswdLine, func(u *accounts.User) string { return u.Name })
}

// AllGroups streams the groups of the group file.
func (p *Provider) AllGroups(ctx context.Context) iter.Seq2[*accounts.Group, error] {
	return scan(ctx, p.groupPath, accounts.ParseGroupLine, func(g *accounts.Group) string { return g.Name })
}

// find returns the first record of seq accepted by match. Malformed lines are
// not fatal for keyed lookups, like the files name service module they are
// skipped.
func find[T any](seq iter.Seq2[T, error], notFound error, match func(T) bool) (T, error) {
	var zero T
	for rec, err := range seq {
		var le *lineError
		if errors.As(err, &le) {
			galog.V(1).Debugf("Skipping malformed entry: %v", err)
			continue
		}
		if err != nil {
			return zero, err
		}
		if match(rec) {
			return rec, nil
		}
	}
	return zero, notFound
}

// lineError reports a malformed database line.
type lineError struct {
	lineno int
	err    error
}

func (e *lineError) Error() string { return fmt.Sprintf("line %d: %v", e.lineno, e.err) }
func (e *lineError) Unwrap() error { return e.err }

// skipLine returns true for lines carrying no entry: blank lines, comments and
// NIS compat entries (+/-).
func skipLine(line string) bool {
	trim := strings.TrimSpace(line)
	return trim == "" || strings.HasPrefix(trim, "#") || strings.HasPrefix(trim, "+") || strings.HasPrefix(trim, "-")
}

// scan streams the entries of a colon separated database file. Entries whose
// key was already seen are skipped.
func scan[T any](ctx context.Context, path string, parse func(string) (T, error), key func(T) string) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		op := fmt.Sprintf("read %s", path)

		f, err := os.Open(path)
		if err != nil {
			yield(zero, &accounts.SystemError{Op: op, Code: errnoOf(err), Err: err})
			return
		}
		defer f.Close()

		seen := make(map[string]bool)
		s := bufio.NewScanner(f)
		s.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for lineno := 1; s.Scan(); lineno++ {
			if err := ctx.Err(); err != nil {
				yield(zero, err)
				return
			}

			line := s.Text()
			if skipLine(line) {
				continue
			}

			rec, err := parse(line)
			if err != nil {
				if !yield(zero, &accounts.SystemError{Op: op, Err: &lineError{lineno: lineno, err: err}}) {
					return
				}
				continue
			}
			if seen[key(rec)] {
				continue
			}
			seen[key(rec)] = true
			if !yield(rec, nil) {
				return
			}
		}

		if err := s.Err(); err != nil {
			yield(zero, &accounts.SystemError{Op: op, Code: errnoOf(err), Err: err})
		}
	}
}
