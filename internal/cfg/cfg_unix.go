//  Copyright 2023 Google Inc. All Rights Reserved.
//
//  Licensed under the Apache License, Version 2.0 (the "License");
//  you may not use this file except in compliance with the License.
//  You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
//  Unless required by applicable law or agreed to in writing, software
//  distributed under the License is distributed on an "AS IS" BASIS,
//  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//  See the License for the specific language governing permissions and
//  limitations under the License.

//go:build unix

package cfg

const (
	// defaultConfigFile is the path to the config file on unix based systems.
	defaultConfigFile = `/etc/default/userdb.cfg`
	// defaultBackend is the name service backend used on unix based systems.
	defaultBackend = BackendNSS
	// defaultPasswdFile is the local user database.
	defaultPasswdFile = "/etc/passwd"
	// defaultGroupFile is the local group database.
	defaultGroupFile = "/etc/group"
	// defaultLogToPlatform disables the platform logger, unix logs go to
	// stderr or the log file.
	defaultLogToPlatform = "false"
)
