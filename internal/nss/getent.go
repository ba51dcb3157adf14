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
	"strings"

	"github.com/GoogleCloudPlatform/guest-userdb/internal/accounts"
	"github.com/GoogleCloudPlatform/guest-userdb/internal/run"
)

const (
	// getentNoSuchKey is the exit code returned by getent when a key is not
	// found in the database.
	//
	// Per documentation, exit code 2: "One or more supplied key could not be
	// found in the database", see the man page:
	//
	// https://man7.org/linux/man-pages/man1/getent.1.html.
	getentNoSuchKey = 2
)

// getentDialect queries the name service with getent(1), available on Linux,
// the BSDs, Illumos and Hurd. Its output is in the passwd(5) and group(5)
// formats, one entry per line.
type getentDialect struct {
	// command is the getent binary.
	command string
}

func (d getentDialect) lookupCommand(db database, key string, byID bool) (string, []string, error) {
	return d.command, []string{db.String(), key}, nil
}

func (d getentDialect) listCommand(db database) (string, []string, error) {
	return d.command, []string{db.String()}, nil
}

func (d getentDialect) isNotFound(err error) bool {
	xerr, ok := run.AsExitError(err)
	return ok && xerr.ExitCode() == getentNoSuchKey
}

func (d getentDialect) userDecoder() decoder[*accounts.User] {
	return lineDecoder[*accounts.User]{parse: accounts.ParsePasswdLine}
}

func (d getentDialect) groupDecoder() decoder[*accounts.Group] {
	return lineDecoder[*accounts.Group]{parse: accounts.ParseGroupLine}
}

// lineDecoder decodes one record per non-empty line.
type lineDecoder[T any] struct {
	parse func(string) (T, error)
}

func (d lineDecoder[T]) feed(line string) (T, bool, error) {
	var zero T
	if strings.TrimSpace(line) == "" {
		return zero, false, nil
	}
	rec, err := d.parse(line)
	if err != nil {
		return zero, false, err
	}
	return rec, true, nil
}

func (d lineDecoder[T]) flush() (T, bool, error) {
	var zero T
	return zero, false, nil
}
