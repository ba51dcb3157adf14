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

//go:build !unix

package accounts

import "os"

// osIDs reads the process ids with the os package, on platforms without unix
// credentials they are reported as the maximum id.
type osIDs struct{}

func (osIDs) UID() uint32  { return uint32(os.Getuid()) }
func (osIDs) EUID() uint32 { return uint32(os.Geteuid()) }
func (osIDs) GID() uint32  { return uint32(os.Getgid()) }
func (osIDs) EGID() uint32 { return uint32(os.Getegid()) }
