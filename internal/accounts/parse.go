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
	"fmt"
	"strconv"
	"strings"
)

const (
	// passwdFields is the number of fields of a complete passwd entry.
	passwdFields = 7
	// passwdMinFields is the number of leading passwd fields that must be
	// present, the remaining ones (gecos, home and shell) are optional.
	passwdMinFields = 4
	// groupFields is the number of fields of a complete group entry.
	groupFields = 4
	// groupMinFields is the number of leading group fields that must be
	// present, the member list is optional.
	groupMinFields = 3
)

// ParsePasswdLine parses a single /etc/passwd style entry, i.e.:
//
//	alice:x:1000:1000:Alice:/home/alice:/bin/sh
//
// Missing trailing fields (gecos, home directory and shell) are left empty.
func ParsePasswdLine(line string) (*User, error) {
	line = strings.TrimSpace(strings.TrimSuffix(line, "\n"))
	if line == "" {
		return nil, fmt.Errorf("empty passwd entry")
	}

	// The shell is the last field and may not contain colons, but be lenient
	// with anything after the 7th separator.
	parts := strings.SplitN(line, ":", passwdFields)
	if len(parts) < passwdMinFields {
		return nil, fmt.Errorf("invalid passwd entry %q, want at least %d fields got %d", line, passwdMinFields, len(parts))
	}
	if parts[0] == "" {
		return nil, fmt.Errorf("invalid passwd entry %q, empty user name", line)
	}

	uid, err := parseID(parts[2])
	if err != nil {
		return nil, fmt.Errorf("invalid uid in passwd entry %q: %w", line, err)
	}

	gid, err := parseID(parts[3])
	if err != nil {
		return nil, fmt.Errorf("invalid gid in passwd entry %q: %w", line, err)
	}

	for len(parts) < passwdFields {
		parts = append(parts, "")
	}

	return &User{
		Name:     parts[0],
		Password: parts[1],
		UID:      uid,
		GID:      gid,
		Gecos:    parts[4],
		HomeDir:  parts[5],
		Shell:    parts[6],
	}, nil
}

// ParseGroupLine parses a single /etc/group style entry, i.e.:
//
//	staff:x:50:alice,bob
//
// A missing member list is treated as an empty one, repeated members are
// reported once.
func ParseGroupLine(line string) (*Group, error) {
	line = strings.TrimSpace(strings.TrimSuffix(line, "\n"))
	if line == "" {
		return nil, fmt.Errorf("empty group entry")
	}

	parts := strings.SplitN(line, ":", groupFields)
	if len(parts) < groupMinFields {
		return nil, fmt.Errorf("invalid group entry %q, want at least %d fields got %d", line, groupMinFields, len(parts))
	}
	if parts[0] == "" {
		return nil, fmt.Errorf("invalid group entry %q, empty group name", line)
	}

	gid, err := parseID(parts[2])
	if err != nil {
		return nil, fmt.Errorf("invalid gid in group entry %q: %w", line, err)
	}

	var members []string
	if len(parts) == groupFields {
		for _, m := range strings.Split(parts[3], ",") {
			members = append(members, strings.TrimSpace(m))
		}
	}

	return &Group{
		Name:     parts[0],
		Password: parts[1],
		GID:      gid,
		Members:  dedupeMembers(members),
	}, nil
}

// FormatPasswdLine formats the user as an /etc/passwd style entry.
func FormatPasswdLine(u *User) string {
	return fmt.Sprintf("%s:%s:%d:%d:%s:%s:%s", u.Name, u.Password, u.UID, u.GID, u.Gecos, u.HomeDir, u.Shell)
}

// FormatGroupLine formats the group as an /etc/group style entry.
func FormatGroupLine(g *Group) string {
	return fmt.Sprintf("%s:%s:%d:%s", g.Name, g.Password, g.GID, strings.Join(g.Members, ","))
}

// ParseID parses a decimal user or group id.
func ParseID(s string) (uint32, error) {
	return parseID(s)
}

func parseID(s string) (uint32, error) {
	id, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(id), nil
}

// ValidName returns true if name could name a user or a group: it's not empty,
// doesn't start with a dash and doesn't contain the database separators or
// white spaces.
func ValidName(name string) bool {
	if name == "" || strings.HasPrefix(name, "-") {
		return false
	}
	return !strings.ContainsAny(name, ":, \t\r\n")
}
