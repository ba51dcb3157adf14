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

//go:build !(linux || freebsd || netbsd || openbsd || dragonfly || illumos || solaris || aix || darwin)

package nss

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/GoogleCloudPlatform/guest-userdb/internal/accounts"
)

var defaultDialect dialect = unsupportedDialect{}

// unsupportedDialect is used on platforms without a known name service lookup
// tool, every query fails.
type unsupportedDialect struct{}

func (unsupportedDialect) err() error {
	return fmt.Errorf("name service lookups on %s: %w", runtime.GOOS, errors.ErrUnsupported)
}

func (d unsupportedDialect) lookupCommand(database, string, bool) (string, []string, error) {
	return "", nil, d.err()
}

func (d unsupportedDialect) listCommand(database) (string, []string, error) {
	return "", nil, d.err()
}

func (unsupportedDialect) isNotFound(error) bool { return false }

func (unsupportedDialect) userDecoder() decoder[*accounts.User] {
	return lineDecoder[*accounts.User]{parse: accounts.ParsePasswdLine}
}

func (unsupportedDialect) groupDecoder() decoder[*accounts.Group] {
	return lineDecoder[*accounts.Group]{parse: accounts.ParseGroupLine}
}
