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

//go:build unix

package nss

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"

	"github.com/GoogleCloudPlatform/guest-userdb/internal/accounts"
	"github.com/GoogleCloudPlatform/guest-userdb/internal/run"
	"github.com/google/go-cmp/cmp"
)

// exitError returns a real *exec.ExitError with the given exit code.
func exitError(t *testing.T, code int) error {
	t.Helper()
	err := exec.Command("sh", "-c", fmt.Sprintf("exit %d", code)).Run()
	if _, ok := run.AsExitError(err); !ok {
		t.Fatalf("failed to produce exit error %d, got: %v", code, err)
	}
	return err
}

// signalError returns a real *exec.ExitError of a process killed by SIGKILL.
func signalError(t *testing.T) error {
	t.Helper()
	err := exec.Command("sh", "-c", "kill -KILL $$").Run()
	if _, ok := run.AsExitError(err); !ok {
		t.Fatalf("failed to produce signal exit error, got: %v", err)
	}
	return err
}

// fakeRunner implements run.RunnerInterface, the handler produces the output
// of the command.
type fakeRunner struct {
	mu      sync.Mutex
	calls   []string
	handler func(opts run.Options) (string, error)
}

func (f *fakeRunner) WithContext(ctx context.Context, opts run.Options) (*run.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, commandString(opts.Name, opts.Args))
	f.mu.Unlock()

	out, err := f.handler(opts)
	if opts.OutputType != run.OutputStream {
		if err != nil {
			return nil, err
		}
		return &run.Result{OutputType: opts.OutputType, Output: out}, nil
	}

	outChan := make(chan string)
	doneChan := make(chan error, 1)
	go func() {
		defer close(doneChan)
		for line := range strings.Lines(out) {
			select {
			case outChan <- strings.TrimRight(line, "\n"):
			case <-ctx.Done():
				close(outChan)
				doneChan <- ctx.Err()
				return
			}
		}
		close(outChan)
		doneChan <- err
	}()

	return &run.Result{OutputType: run.OutputStream, OutputScanners: &run.StreamOutput{StdOut: outChan, Result: doneChan}}, nil
}

func (f *fakeRunner) numCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func setupRunner(t *testing.T, handler func(opts run.Options) (string, error)) *fakeRunner {
	t.Helper()
	fake := &fakeRunner{handler: handler}
	oldClient := run.Client
	run.Client = fake
	t.Cleanup(func() { run.Client = oldClient })
	return fake
}

// fakeGetent emulates getent(1) over the fixture files in testdata.
func fakeGetent(t *testing.T) func(opts run.Options) (string, error) {
	t.Helper()
	notFound := exitError(t, getentNoSuchKey)

	return func(opts run.Options) (string, error) {
		if opts.Name != "getent" || len(opts.Args) < 1 {
			return "", fmt.Errorf("unexpected command %s %v", opts.Name, opts.Args)
		}

		data, err := os.ReadFile(filepath.Join("testdata", opts.Args[0]))
		if err != nil {
			return "", err
		}
		if len(opts.Args) == 1 {
			return string(data), nil
		}

		key := opts.Args[1]
		field := 0
		if _, err := accounts.ParseID(key); err == nil {
			field = 2
		}
		for line := range strings.Lines(string(data)) {
			if strings.Split(line, ":")[field] == key {
				return line, nil
			}
		}
		return "", notFound
	}
}

func newTestProvider(d dialect) *Provider {
	p := New(Options{})
	p.dialect = d
	return p
}

func TestLookupUser(t *testing.T) {
	setupRunner(t, fakeGetent(t))
	p := newTestProvider(getentDialect{command: "getent"})
	ctx := context.Background()

	want := &accounts.User{UID: 1000, Name: "alice", Password: "x", GID: 1000, Gecos: "Alice", HomeDir: "/home/alice", Shell: "/bin/sh"}

	byName, err := p.LookupUserByName(ctx, "alice")
	if err != nil {
		t.Fatalf("LookupUserByName(alice) failed: %v", err)
	}
	if diff := cmp.Diff(want, byName); diff != "" {
		t.Errorf("LookupUserByName(alice) returned an unexpected diff (-want +got):\n%v", diff)
	}

	byID, err := p.LookupUserByID(ctx, 1000)
	if err != nil {
		t.Fatalf("LookupUserByID(1000) failed: %v", err)
	}
	if diff := cmp.Diff(want, byID); diff != "" {
		t.Errorf("LookupUserByID(1000) returned an unexpected diff (-want +got):\n%v", diff)
	}
}

func TestLookupUserRoundTrip(t *testing.T) {
	setupRunner(t, fakeGetent(t))
	p := newTestProvider(getentDialect{command: "getent"})
	ctx := context.Background()

	for u, err := range p.AllUsers(ctx) {
		if err != nil {
			t.Fatalf("AllUsers() failed: %v", err)
		}
		byID, err := p.LookupUserByID(ctx, u.UID)
		if err != nil {
			t.Fatalf("LookupUserByID(%d) failed: %v", u.UID, err)
		}
		byName, err := p.LookupUserByName(ctx, byID.Name)
		if err != nil {
			t.Fatalf("LookupUserByName(%q) failed: %v", byID.Name, err)
		}
		if byName.UID != u.UID {
			t.Errorf("LookupUserByName(%q).UID = %d, want %d", byID.Name, byName.UID, u.UID)
		}
	}
}

func TestLookupGroup(t *testing.T) {
	setupRunner(t, fakeGetent(t))
	p := newTestProvider(getentDialect{command: "getent"})
	ctx := context.Background()

	want := &accounts.Group{GID: 50, Name: "staff", Password: "x", Members: []string{"alice", "bob"}}

	byName, err := p.LookupGroupByName(ctx, "staff")
	if err != nil {
		t.Fatalf("LookupGroupByName(staff) failed: %v", err)
	}
	if diff := cmp.Diff(want, byName); diff != "" {
		t.Errorf("LookupGroupByName(staff) returned an unexpected diff (-want +got):\n%v", diff)
	}

	byID, err := p.LookupGroupByID(ctx, 50)
	if err != nil {
		t.Fatalf("LookupGroupByID(50) failed: %v", err)
	}
	if diff := cmp.Diff(want, byID); diff != "" {
		t.Errorf("LookupGroupByID(50) returned an unexpected diff (-want +got):\n%v", diff)
	}
}

func TestLookupNotFound(t *testing.T) {
	fake := setupRunner(t, fakeGetent(t))
	p := newTestProvider(getentDialect{command: "getent"})
	ctx := context.Background()

	tests := []struct {
		name      string
		lookup    func() error
		wantStd   error
		wantCalls int
	}{
		{
			name:      "uid",
			lookup:    func() error { _, err := p.LookupUserByID(ctx, 4242); return err },
			wantStd:   accounts.NewUserIDNotFound(4242),
			wantCalls: 1,
		},
		{
			name:      "user",
			lookup:    func() error { _, err := p.LookupUserByName(ctx, "mallory"); return err },
			wantStd:   accounts.NewUserNameNotFound("mallory"),
			wantCalls: 1,
		},
		{
			name:      "gid",
			lookup:    func() error { _, err := p.LookupGroupByID(ctx, 4242); return err },
			wantStd:   accounts.NewGroupIDNotFound(4242),
			wantCalls: 1,
		},
		{
			name:      "group",
			lookup:    func() error { _, err := p.LookupGroupByName(ctx, "nogroup"); return err },
			wantStd:   accounts.NewGroupNameNotFound("nogroup"),
			wantCalls: 1,
		},
		{
			// getent resolves the numeric key as uid 1000 (alice), which doesn't
			// match the requested name.
			name:      "numeric_user_name",
			lookup:    func() error { _, err := p.LookupUserByName(ctx, "1000"); return err },
			wantStd:   accounts.NewUserNameNotFound("1000"),
			wantCalls: 1,
		},
		{
			name:      "option_like_name",
			lookup:    func() error { _, err := p.LookupUserByName(ctx, "--help"); return err },
			wantStd:   accounts.NewUserNameNotFound("--help"),
			wantCalls: 0,
		},
		{
			name:      "invalid_group_name",
			lookup:    func() error { _, err := p.LookupGroupByName(ctx, "a:b"); return err },
			wantStd:   accounts.NewGroupNameNotFound("a:b"),
			wantCalls: 0,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			before := fake.numCalls()
			err := tc.lookup()
			if !accounts.IsNotFound(err) {
				t.Fatalf("lookup returned %v, want not found", err)
			}
			if err.Error() != tc.wantStd.Error() {
				t.Errorf("lookup returned %q, want %q", err, tc.wantStd)
			}
			if got := fake.numCalls() - before; got != tc.wantCalls {
				t.Errorf("lookup ran %d commands, want %d", got, tc.wantCalls)
			}
		})
	}
}

func TestLookupSystemError(t *testing.T) {
	ctx := context.Background()
	p := newTestProvider(getentDialect{command: "getent"})

	tests := []struct {
		name     string
		output   string
		err      error
		wantCode int
	}{
		{
			name:     "unsupported_database",
			err:      exitError(t, 1),
			wantCode: 1,
		},
		{
			name:     "killed",
			err:      signalError(t),
			wantCode: int(syscall.SIGKILL),
		},
		{
			name:     "missing_tool",
			err:      &exec.Error{Name: "getent", Err: exec.ErrNotFound},
			wantCode: int(syscall.ENOENT),
		},
		{
			name:     "errno",
			err:      fmt.Errorf("fork/exec: %w", syscall.EACCES),
			wantCode: int(syscall.EACCES),
		},
		{
			name:     "malformed_output",
			output:   "alice:x:notanumber:1000::/:/bin/sh\n",
			wantCode: 0,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			setupRunner(t, func(run.Options) (string, error) { return tc.output, tc.err })

			_, err := p.LookupUserByName(ctx, "alice")
			if accounts.IsNotFound(err) {
				t.Fatalf("LookupUserByName(alice) = %v, want system error", err)
			}
			se, ok := accounts.AsSystemError(err)
			if !ok {
				t.Fatalf("LookupUserByName(alice) = %v, want *accounts.SystemError", err)
			}
			if se.Code != tc.wantCode {
				t.Errorf("SystemError.Code = %d, want %d", se.Code, tc.wantCode)
			}
		})
	}
}

func TestAllGroups(t *testing.T) {
	setupRunner(t, fakeGetent(t))
	p := newTestProvider(getentDialect{command: "getent"})

	var staff []*accounts.Group
	var names []string
	for g, err := range p.AllGroups(context.Background()) {
		if err != nil {
			t.Fatalf("AllGroups() failed: %v", err)
		}
		names = append(names, g.Name)
		if g.Name == "staff" {
			staff = append(staff, g)
		}

		roots := 0
		for _, m := range g.Members {
			if m == "root" {
				roots++
			}
		}
		if roots > 1 {
			t.Errorf("group %q reports root %d times, want at most once", g.Name, roots)
		}
	}

	wantNames := []string{"root", "wheel", "bosses", "contributors", "staff", "alice", "bob"}
	if diff := cmp.Diff(wantNames, names); diff != "" {
		t.Errorf("AllGroups() returned an unexpected diff (-want +got):\n%v", diff)
	}

	wantStaff := []*accounts.Group{{GID: 50, Name: "staff", Password: "x", Members: []string{"alice", "bob"}}}
	if diff := cmp.Diff(wantStaff, staff); diff != "" {
		t.Errorf("AllGroups() staff entries returned an unexpected diff (-want +got):\n%v", diff)
	}
}

func TestAllUsersDeduplicatesSources(t *testing.T) {
	// Two name service sources reporting root, i.e. files and ldap.
	output := "root:x:0:0:root:/root:/bin/bash\nalice:x:1000:1000::/home/alice:/bin/sh\nroot:x:0:0:ldap root:/root:/bin/sh\n"
	setupRunner(t, func(run.Options) (string, error) { return output, nil })
	p := newTestProvider(getentDialect{command: "getent"})

	var got []string
	for u, err := range p.AllUsers(context.Background()) {
		if err != nil {
			t.Fatalf("AllUsers() failed: %v", err)
		}
		got = append(got, u.Name+":"+u.Gecos)
	}

	if diff := cmp.Diff([]string{"root:root", "alice:"}, got); diff != "" {
		t.Errorf("AllUsers() returned an unexpected diff (-want +got):\n%v", diff)
	}
}

func TestQueryCanceled(t *testing.T) {
	killed := signalError(t)
	setupRunner(t, func(run.Options) (string, error) { return "", killed })
	p := newTestProvider(getentDialect{command: "getent"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.LookupUserByID(ctx, 1000)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("LookupUserByID(1000) = %v, want context.Canceled", err)
	}
	if _, ok := accounts.AsSystemError(err); ok {
		t.Errorf("LookupUserByID(1000) = %v, want no *accounts.SystemError", err)
	}

	for _, err := range p.AllGroups(ctx) {
		if !errors.Is(err, context.Canceled) {
			t.Errorf("AllGroups() = %v, want context.Canceled", err)
		}
		if _, ok := accounts.AsSystemError(err); ok {
			t.Errorf("AllGroups() = %v, want no *accounts.SystemError", err)
		}
	}
}

func TestAllUsersEarlyStop(t *testing.T) {
	setupRunner(t, fakeGetent(t))
	p := newTestProvider(getentDialect{command: "getent"})

	var got []string
	for u, err := range p.AllUsers(context.Background()) {
		if err != nil {
			t.Fatalf("AllUsers() failed: %v", err)
		}
		got = append(got, u.Name)
		if len(got) == 2 {
			break
		}
	}

	if diff := cmp.Diff([]string{"root", "daemon"}, got); diff != "" {
		t.Errorf("AllUsers() returned an unexpected diff (-want +got):\n%v", diff)
	}
}

func TestAllUsersErrors(t *testing.T) {
	output := "root:x:0:0:root:/root:/bin/bash\nbroken\nalice:x:1000:1000::/home/alice:/bin/sh\n"
	setupRunner(t, func(run.Options) (string, error) { return output, exitError(t, 3) })
	p := newTestProvider(getentDialect{command: "getent"})

	var names []string
	var errs []error
	for u, err := range p.AllUsers(context.Background()) {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		names = append(names, u.Name)
	}

	if diff := cmp.Diff([]string{"root", "alice"}, names); diff != "" {
		t.Errorf("AllUsers() returned an unexpected diff (-want +got):\n%v", diff)
	}
	if len(errs) != 2 {
		t.Fatalf("AllUsers() reported %d errors, want 2: %v", len(errs), errs)
	}
	for _, err := range errs {
		if _, ok := accounts.AsSystemError(err); !ok {
			t.Errorf("AllUsers() error %v is not a *accounts.SystemError", err)
		}
	}
	if se, _ := accounts.AsSystemError(errs[1]); se.Code != 3 {
		t.Errorf("AllUsers() final error code = %d, want 3", se.Code)
	}
}

func TestDSCacheDialect(t *testing.T) {
	ctx := context.Background()
	p := newTestProvider(dscacheDialect{command: "dscacheutil"})

	fake := setupRunner(t, func(opts run.Options) (string, error) {
		if opts.Name != "dscacheutil" {
			return "", fmt.Errorf("unexpected command %s", opts.Name)
		}
		file := "dscache_users"
		if opts.Args[1] == "group" {
			file = "dscache_groups"
		}
		data, err := os.ReadFile(filepath.Join("testdata", file))
		if err != nil {
			return "", err
		}
		if len(opts.Args) == 2 {
			return string(data), nil
		}
		// Keyed queries: only return the block holding "attr: key".
		want := opts.Args[3] + ": " + opts.Args[4]
		for _, block := range strings.Split(string(data), "\n\n") {
			for _, line := range strings.Split(block, "\n") {
				if line == want {
					return block + "\n\n", nil
				}
			}
		}
		return "", nil
	})

	u, err := p.LookupUserByName(ctx, "alice")
	if err != nil {
		t.Fatalf("LookupUserByName(alice) failed: %v", err)
	}
	wantUser := &accounts.User{UID: 501, Name: "alice", Password: "********", GID: 20, Gecos: "Alice", HomeDir: "/Users/alice", Shell: "/bin/zsh"}
	if diff := cmp.Diff(wantUser, u); diff != "" {
		t.Errorf("LookupUserByName(alice) returned an unexpected diff (-want +got):\n%v", diff)
	}
	if got := fake.calls[len(fake.calls)-1]; got != "dscacheutil -q user -a name alice" {
		t.Errorf("LookupUserByName(alice) ran %q, want %q", got, "dscacheutil -q user -a name alice")
	}

	if _, err := p.LookupUserByID(ctx, 4242); !accounts.IsNotFound(err) {
		t.Errorf("LookupUserByID(4242) = %v, want not found", err)
	}

	g, err := p.LookupGroupByID(ctx, 20)
	if err != nil {
		t.Fatalf("LookupGroupByID(20) failed: %v", err)
	}
	wantGroup := &accounts.Group{GID: 20, Name: "staff", Password: "*", Members: []string{"root", "alice"}}
	if diff := cmp.Diff(wantGroup, g); diff != "" {
		t.Errorf("LookupGroupByID(20) returned an unexpected diff (-want +got):\n%v", diff)
	}

	var groups []string
	for g, err := range p.AllGroups(ctx) {
		if err != nil {
			t.Fatalf("AllGroups() failed: %v", err)
		}
		groups = append(groups, g.Name)
	}
	if diff := cmp.Diff([]string{"staff", "wheel", "nobody", "nogroup"}, groups); diff != "" {
		t.Errorf("AllGroups() returned an unexpected diff (-want +got):\n%v", diff)
	}

	var users []string
	for u, err := range p.AllUsers(ctx) {
		if err != nil {
			t.Fatalf("AllUsers() failed: %v", err)
		}
		users = append(users, u.Name)
	}
	if diff := cmp.Diff([]string{"root", "alice", "nobody"}, users); diff != "" {
		t.Errorf("AllUsers() returned an unexpected diff (-want +got):\n%v", diff)
	}
}

func TestDSCacheNegativeIDs(t *testing.T) {
	ctx := context.Background()
	p := newTestProvider(dscacheDialect{command: "dscacheutil"})

	fake := setupRunner(t, func(opts run.Options) (string, error) {
		switch strings.Join(opts.Args, " ") {
		case "-q user -a uid -2":
			return "name: nobody\npassword: *\nuid: -2\ngid: -2\ndir: /var/empty\nshell: /usr/bin/false\n\n", nil
		case "-q group -a gid -1":
			return "name: nogroup\npassword: *\ngid: -1\n\n", nil
		}
		return "", nil
	})

	u, err := p.LookupUserByID(ctx, 4294967294)
	if err != nil {
		t.Fatalf("LookupUserByID(4294967294) failed: %v", err)
	}
	wantUser := &accounts.User{UID: 4294967294, Name: "nobody", Password: "*", GID: 4294967294, HomeDir: "/var/empty", Shell: "/usr/bin/false"}
	if diff := cmp.Diff(wantUser, u); diff != "" {
		t.Errorf("LookupUserByID(4294967294) returned an unexpected diff (-want +got):\n%v", diff)
	}
	if got := fake.calls[0]; got != "dscacheutil -q user -a uid -2" {
		t.Errorf("LookupUserByID(4294967294) ran %q, want %q", got, "dscacheutil -q user -a uid -2")
	}

	g, err := p.LookupGroupByID(ctx, 4294967295)
	if err != nil {
		t.Fatalf("LookupGroupByID(4294967295) failed: %v", err)
	}
	if g.Name != "nogroup" {
		t.Errorf("LookupGroupByID(4294967295) = %q, want nogroup", g.Name)
	}
}

func TestBlockDecoderErrors(t *testing.T) {
	tests := []struct {
		name  string
		lines []string
	}{
		{name: "no_separator", lines: []string{"garbage"}},
		{name: "missing_uid", lines: []string{"name: alice", "gid: 20", ""}},
		{name: "invalid_uid", lines: []string{"name: alice", "uid: x", "gid: 20", ""}},
		{name: "uid_out_of_range", lines: []string{"name: alice", "uid: -2147483649", "gid: 20", ""}},
		{name: "missing_name", lines: []string{"uid: 1", "gid: 20", ""}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dec := dscacheDialect{}.userDecoder()
			var err error
			for _, line := range tc.lines {
				if _, _, err = dec.feed(line); err != nil {
					break
				}
			}
			if err == nil {
				t.Errorf("decoding %q succeeded, want error", tc.lines)
			}
		})
	}
}

// TestHostGetent queries the host's name service for the superuser. It's
// skipped where getent is not installed.
func TestHostGetent(t *testing.T) {
	if _, err := exec.LookPath("getent"); err != nil {
		t.Skipf("getent not available: %v", err)
	}

	p := newTestProvider(getentDialect{command: "getent"})
	ctx := context.Background()

	root, err := p.LookupUserByID(ctx, 0)
	if err != nil {
		t.Fatalf("LookupUserByID(0) failed: %v", err)
	}
	byName, err := p.LookupUserByName(ctx, root.Name)
	if err != nil {
		t.Fatalf("LookupUserByName(%q) failed: %v", root.Name, err)
	}
	if byName.UID != 0 {
		t.Errorf("LookupUserByName(%q).UID = %d, want 0", root.Name, byName.UID)
	}

	if _, err := p.LookupUserByName(ctx, "fake_user_for_userdb_test"); !errors.Is(err, accounts.ErrNotFound) {
		t.Errorf("LookupUserByName(fake_user_for_userdb_test) = %v, want not found", err)
	}
}

// TestNSSWrapperFixtures runs against the fixture files served by nss_wrapper,
// i.e.:
//
//	LD_PRELOAD=libnss_wrapper.so NSS_WRAPPER_PASSWD=$PWD/testdata/passwd \
//	  NSS_WRAPPER_GROUP=$PWD/testdata/group go test ./internal/nss/
func TestNSSWrapperFixtures(t *testing.T) {
	if os.Getenv("NSS_WRAPPER_PASSWD") == "" || os.Getenv("NSS_WRAPPER_GROUP") == "" {
		t.Skip("NSS_WRAPPER_PASSWD and NSS_WRAPPER_GROUP are not set")
	}

	p := New(Options{})
	ctx := context.Background()

	alice, err := p.LookupUserByName(ctx, "alice")
	if err != nil {
		t.Fatalf("LookupUserByName(alice) failed: %v", err)
	}
	if alice.UID != 1000 || alice.HomeDir != "/home/alice" || alice.Shell != "/bin/sh" {
		t.Errorf("LookupUserByName(alice) = %+v, want uid 1000, home /home/alice, shell /bin/sh", alice)
	}

	byID, err := p.LookupUserByID(ctx, 1000)
	if err != nil {
		t.Fatalf("LookupUserByID(1000) failed: %v", err)
	}
	if diff := cmp.Diff(alice, byID); diff != "" {
		t.Errorf("LookupUserByID(1000) returned an unexpected diff (-want +got):\n%v", diff)
	}

	count := 0
	for g, err := range p.AllGroups(ctx) {
		if err != nil {
			t.Fatalf("AllGroups() failed: %v", err)
		}
		if g.Name == "staff" {
			count++
			if diff := cmp.Diff([]string{"alice", "bob"}, g.Members); diff != "" {
				t.Errorf("staff members returned an unexpected diff (-want +got):\n%v", diff)
			}
		}
	}
	if count != 1 {
		t.Errorf("AllGroups() reported staff %d times, want 1", count)
	}
}
