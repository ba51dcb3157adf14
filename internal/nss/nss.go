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

// Package nss implements the native lookup adapter: it queries the system's
// name service switch through the platform's standard lookup tool (getent or
// dscacheutil) and normalizes the returned entries into accounts records.
//
// Going through the standard lookup tool, rather than reading the databases
// directly, keeps every configured name service source (files, LDAP, NIS, sss)
// and any LD_PRELOAD based redirection (i.e. nss_wrapper) in effect.
package nss

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/GoogleCloudPlatform/galog"
	"github.com/GoogleCloudPlatform/guest-userdb/internal/accounts"
	"github.com/GoogleCloudPlatform/guest-userdb/internal/run"
)

// database is a name service database.
type database int

const (
	// passwdDB is the users database.
	passwdDB database = iota
	// groupDB is the groups database.
	groupDB
)

// String returns the name service name of the database.
func (db database) String() string {
	if db == groupDB {
		return "group"
	}
	return "passwd"
}

// decoder turns the lookup tool's output, fed line by line, into records.
type decoder[T any] interface {
	// feed consumes a line and returns a record when one is complete.
	feed(line string) (T, bool, error)
	// flush returns the pending record, if any, at the end of the output.
	flush() (T, bool, error)
}

// dialect abstracts the platform's lookup tool.
type dialect interface {
	// lookupCommand returns the command querying db for a single key, byID
	// reports whether the key is a numeric id.
	lookupCommand(db database, key string, byID bool) (string, []string, error)
	// listCommand returns the command enumerating db.
	listCommand(db database) (string, []string, error)
	// isNotFound reports whether the failure of a keyed query means the key
	// doesn't exist.
	isNotFound(err error) bool
	// userDecoder returns a new decoder for passwd entries.
	userDecoder() decoder[*accounts.User]
	// groupDecoder returns a new decoder for group entries.
	groupDecoder() decoder[*accounts.Group]
}

// Options contains the adapter's options.
type Options struct {
	// Timeout bounds every lookup, zero means no timeout other than the one
	// carried by the context.
	Timeout time.Duration
}

// Provider is the native name service adapter, it implements
// accounts.Provider.
type Provider struct {
	opts    Options
	dialect dialect
}

// New returns a Provider using the platform's lookup tool.
func New(opts Options) *Provider {
	return &Provider{opts: opts, dialect: defaultDialect}
}

// LookupUserByID returns the user with the given uid.
func (p *Provider) LookupUserByID(ctx context.Context, uid uint32) (*accounts.User, error) {
	key := strconv.FormatUint(uint64(uid), 10)
	return lookup(ctx, p, passwdDB, key, true, p.dialect.userDecoder(), accounts.NewUserIDNotFound(uid),
		func(u *accounts.User) bool { return u.UID == uid })
}

// LookupUserByName returns the user with the given login name.
func (p *Provider) LookupUserByName(ctx context.Context, name string) (*accounts.User, error) {
	notFound := accounts.NewUserNameNotFound(name)
	if !accounts.ValidName(name) {
		return nil, notFound
	}
	// getent interprets numeric keys as ids, the match on the name discards
	// the user whose uid happens to equal a numeric name.
	return lookup(ctx, p, passwdDB, name, false, p.dialect.userDecoder(), notFound,
		func(u *accounts.User) bool { return u.Name == name })
}

// LookupGroupByID returns the group with the given gid.
func (p *Provider) LookupGroupByID(ctx context.Context, gid uint32) (*accounts.Group, error) {
	key := strconv.FormatUint(uint64(gid), 10)
	return lookup(ctx, p, groupDB, key, true, p.dialect.groupDecoder(), accounts.NewGroupIDNotFound(gid),
		func(g *accounts.Group) bool { return g.GID == gid })
}

// LookupGroupByName returns the group with the given name.
func (p *Provider) LookupGroupByName(ctx context.Context, name string) (*accounts.Group, error) {
	notFound := accounts.NewGroupNameNotFound(name)
	if !accounts.ValidName(name) {
		return nil, notFound
	}
	return lookup(ctx, p, groupDB, name, false, p.dialect.groupDecoder(), notFound,
		func(g *accounts.Group) bool { return g.Name == name })
}

// AllUsers returns every user known to the name service. Users reported by
// more than one source are returned once, the first occurrence wins.
func (p *Provider) AllUsers(ctx context.Context) iter.Seq2[*accounts.User, error] {
	return enumerate(ctx, p, passwdDB, p.dialect.userDecoder, func(u *accounts.User) string { return u.Name })
}

// AllGroups returns every group known to the name service. Groups reported by
// more than one source are returned once, the first occurrence wins.
func (p *Provider) AllGroups(ctx context.Context) iter.Seq2[*accounts.Group, error] {
	return enumerate(ctx, p, groupDB, p.dialect.groupDecoder, func(g *accounts.Group) string { return g.Name })
}

// lookup runs a keyed query and returns the first decoded record accepted by
// match.
func lookup[T any](ctx context.Context, p *Provider, db database, key string, byID bool, dec decoder[T], notFound error, match func(T) bool) (T, error) {
	var zero T

	name, args, err := p.dialect.lookupCommand(db, key, byID)
	if err != nil {
		return zero, &accounts.SystemError{Op: fmt.Sprintf("lookup %s %s", db, key), Err: err}
	}
	op := commandString(name, args)

	res, err := run.WithContext(ctx, run.Options{
		OutputType: run.OutputStdout,
		Name:       name,
		Args:       args,
		Timeout:    p.opts.Timeout,
	})
	if err != nil {
		if ctx.Err() != nil {
			return zero, fmt.Errorf("%s: %w", op, ctx.Err())
		}
		if p.dialect.isNotFound(err) {
			galog.V(2).Debugf("%s: no such entry", op)
			return zero, notFound
		}
		return zero, systemError(op, err)
	}

	for line := range strings.Lines(res.Output) {
		rec, ok, err := dec.feed(strings.TrimRight(line, "\n"))
		if err != nil {
			return zero, &accounts.SystemError{Op: op, Err: err}
		}
		if ok && match(rec) {
			return rec, nil
		}
	}

	rec, ok, err := dec.flush()
	if err != nil {
		return zero, &accounts.SystemError{Op: op, Err: err}
	}
	if ok && match(rec) {
		return rec, nil
	}

	galog.V(2).Debugf("%s: no matching entry", op)
	return zero, notFound
}

// enumerate streams the whole database, decoding records as the lookup tool
// produces them. Records whose key was already seen are skipped.
func enumerate[T any](ctx context.Context, p *Provider, db database, newDecoder func() decoder[T], key func(T) string) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T

		name, args, err := p.dialect.listCommand(db)
		if err != nil {
			yield(zero, &accounts.SystemError{Op: fmt.Sprintf("list %s", db), Err: err})
			return
		}
		op := commandString(name, args)

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		res, err := run.WithContext(ctx, run.Options{
			OutputType: run.OutputStream,
			Name:       name,
			Args:       args,
			Timeout:    p.opts.Timeout,
		})
		if err != nil {
			yield(zero, queryError(ctx, op, err))
			return
		}
		stream := res.OutputScanners

		dec := newDecoder()
		seen := make(map[string]bool)

		// emit reports a decoded record or error, it returns false if the
		// consumer stopped the iteration.
		emit := func(rec T, ok bool, err error) bool {
			if err != nil {
				return yield(zero, &accounts.SystemError{Op: op, Err: err})
			}
			if !ok || seen[key(rec)] {
				return true
			}
			seen[key(rec)] = true
			return yield(rec, nil)
		}

		for line := range stream.StdOut {
			if !emit(dec.feed(line)) {
				cancel()
				if err := stream.Drain(); err != nil {
					galog.V(3).Debugf("%s: stopped early: %v", op, err)
				}
				return
			}
		}

		if !emit(dec.flush()) {
			cancel()
			stream.Drain()
			return
		}

		if err := <-stream.Result; err != nil {
			yield(zero, queryError(ctx, op, err))
		}
	}
}

// queryError returns the context's error if the query was canceled, the
// lookup tool failure otherwise.
func queryError(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%s: %w", op, ctx.Err())
	}
	return systemError(op, err)
}

// systemError wraps a lookup tool failure, carrying its exit status (the
// signal number if it was killed by one) or the errno reported when it could
// not be started.
func systemError(op string, err error) error {
	res := &accounts.SystemError{Op: op, Err: err}

	var errno syscall.Errno
	if xerr, ok := run.AsExitError(err); ok {
		res.Code = xerr.ExitCode()
		if ws, ok := xerr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			res.Code = int(ws.Signal())
		}
	} else if errors.As(err, &errno) {
		res.Code = int(errno)
	} else if errors.Is(err, exec.ErrNotFound) {
		res.Code = int(syscall.ENOENT)
	}

	return res
}

// commandString returns a printable representation of a command.
func commandString(name string, args []string) string {
	return strings.Join(append([]string{name}, args...), " ")
}
