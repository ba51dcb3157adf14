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

package nss

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/GoogleCloudPlatform/guest-userdb/internal/accounts"
)

// dscacheDialect queries Open Directory with dscacheutil(1), the macOS
// equivalent of getent. Its output is made of blank line separated blocks of
// "key: value" lines:
//
//	name: alice
//	password: ********
//	uid: 501
//	gid: 20
//	dir: /Users/alice
//	shell: /bin/zsh
//	gecos: Alice
//
// A query without a match succeeds with an empty output. Ids are reported as
// signed numbers, i.e. nobody is uid -2.
type dscacheDialect struct {
	// command is the dscacheutil binary.
	command string
}

func (d dscacheDialect) lookupCommand(db database, key string, byID bool) (string, []string, error) {
	category, attr := "user", "name"
	if db == groupDB {
		category = "group"
	}
	if byID {
		attr = "uid"
		if db == groupDB {
			attr = "gid"
		}
		id, err := accounts.ParseID(key)
		if err != nil {
			return "", nil, err
		}
		key = strconv.Itoa(int(int32(id)))
	}
	return d.command, []string{"-q", category, "-a", attr, key}, nil
}

func (d dscacheDialect) listCommand(db database) (string, []string, error) {
	category := "user"
	if db == groupDB {
		category = "group"
	}
	return d.command, []string{"-q", category}, nil
}

func (d dscacheDialect) isNotFound(err error) bool {
	return false
}

func (d dscacheDialect) userDecoder() decoder[*accounts.User] {
	return &blockDecoder[*accounts.User]{build: buildDSUser}
}

func (d dscacheDialect) groupDecoder() decoder[*accounts.Group] {
	return &blockDecoder[*accounts.Group]{build: buildDSGroup}
}

// blockDecoder collects "key: value" lines until a blank line completes the
// record.
type blockDecoder[T any] struct {
	fields map[string]string
	build  func(map[string]string) (T, error)
}

func (d *blockDecoder[T]) feed(line string) (T, bool, error) {
	if strings.TrimSpace(line) == "" {
		return d.flush()
	}

	var zero T
	key, value, found := strings.Cut(line, ":")
	if !found {
		return zero, false, fmt.Errorf("invalid dscacheutil line %q", line)
	}
	if d.fields == nil {
		d.fields = make(map[string]string)
	}
	d.fields[strings.TrimSpace(key)] = strings.TrimSpace(value)
	return zero, false, nil
}

func (d *blockDecoder[T]) flush() (T, bool, error) {
	var zero T
	if len(d.fields) == 0 {
		return zero, false, nil
	}
	fields := d.fields
	d.fields = nil

	rec, err := d.build(fields)
	if err != nil {
		return zero, false, err
	}
	return rec, true, nil
}

// requiredFields reads the name and the id fields of a block.
func requiredFields(fields map[string]string, idField string) (string, uint32, error) {
	name := fields["name"]
	if name == "" {
		return "", 0, fmt.Errorf("dscacheutil entry %v without name", fields)
	}
	raw, ok := fields[idField]
	if !ok {
		return "", 0, fmt.Errorf("dscacheutil entry %q without %s", name, idField)
	}
	id, err := parseDSID(raw)
	if err != nil {
		return "", 0, fmt.Errorf("invalid %s in dscacheutil entry %q: %w", idField, name, err)
	}
	return name, id, nil
}

// parseDSID parses an Open Directory id. Negative ids map to the uid_t value
// the system reports for them, -2 is 4294967294.
func parseDSID(raw string) (uint32, error) {
	raw = strings.TrimSpace(raw)
	if v, err := strconv.ParseInt(raw, 10, 32); err == nil {
		return uint32(int32(v)), nil
	}
	return accounts.ParseID(raw)
}

func buildDSUser(fields map[string]string) (*accounts.User, error) {
	name, uid, err := requiredFields(fields, "uid")
	if err != nil {
		return nil, err
	}
	gid, err := parseDSID(fields["gid"])
	if err != nil {
		return nil, fmt.Errorf("invalid gid in dscacheutil entry %q: %w", name, err)
	}
	return &accounts.User{
		UID:      uid,
		Name:     name,
		Password: fields["password"],
		GID:      gid,
		Gecos:    fields["gecos"],
		HomeDir:  fields["dir"],
		Shell:    fields["shell"],
	}, nil
}

func buildDSGroup(fields map[string]string) (*accounts.Group, error) {
	name, gid, err := requiredFields(fields, "gid")
	if err != nil {
		return nil, err
	}

	var members []string
	seen := make(map[string]bool)
	for _, m := range strings.Fields(fields["users"]) {
		if seen[m] {
			continue
		}
		seen[m] = true
		members = append(members, m)
	}

	return &accounts.Group{
		GID:      gid,
		Name:     name,
		Password: fields["password"],
		Members:  members,
	}, nil
}
