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

//go:build windows

package cfg

const (
	// defaultConfigFile is the path to the config file on windows.
	defaultConfigFile = `C:\ProgramData\userdb\userdb.cfg`
	// defaultBackend is the name service backend used on windows, there is no
	// name service switch so the files backend is the only usable one.
	defaultBackend = BackendFiles
	// defaultPasswdFile is the passwd style user database on windows.
	defaultPasswdFile = `C:\ProgramData\userdb\passwd`
	// defaultGroupFile is the group style database on windows.
	defaultGroupFile = `C:\ProgramData\userdb\group`
	// defaultLogToPlatform enables the windows event log.
	defaultLogToPlatform = "true"
)
