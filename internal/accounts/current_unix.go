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

package accounts

import "golang.org/x/sys/unix"

// osIDs reads the process ids with the unix syscalls.
type osIDs struct{}

func (osIDs) UID() uint32  { return uint32(unix.Getuid()) }
func (osIDs) EUID() uint32 { return uint32(unix.Geteuid()) }
func (osIDs) GID() uint32  { return uint32(unix.Getgid()) }
func (osIDs) EGID() uint32 { return uint32(unix.Getegid()) }
