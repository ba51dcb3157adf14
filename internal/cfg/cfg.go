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

// Package cfg is package responsible to loading and accessing the userdb
// configuration.
package cfg

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/GoogleCloudPlatform/galog"
	"gopkg.in/ini.v1"
)

var (
	// instance is the single instance of configuration sections, once loaded this
	// package should always return it.
	instance *Sections

	// dataSource is a pointer to a data source loading/defining function, unit
	// tests will want to change this pointer to whatever makes sense to its
	// implementation.
	dataSources = defaultDataSources
	// configValues holds the defaults values for template.
	defaultConfigValues = map[string]string{
		"backend":       defaultBackend,
		"passwdFile":    defaultPasswdFile,
		"groupFile":     defaultGroupFile,
		"logToPlatform": defaultLogToPlatform,
	}

	// panicFc is a reference to panic(), it's overridden in unit tests.
	panicFc = panicWrapper

	// cfgMu protects the initialization and retrieval of config instance.
	cfgMu sync.RWMutex
)

const (
	// BackendNSS resolves accounts through the system name service switch.
	BackendNSS = "nss"
	// BackendFiles reads the passwd and group files directly.
	BackendFiles = "files"
	// BackendMock serves accounts from a yaml fixture.
	BackendMock = "mock"

	// defaultConfigTemplate is the default configuration template for the
	// configuration sections.
	defaultConfigTemplate = `
[Core]
log_level = 3
log_verbosity = 0
log_file =
log_to_stderr = true
log_to_platform = {{.logToPlatform}}

[NameService]
backend = {{.backend}}
query_timeout = 10s
passwd_file = {{.passwdFile}}
group_file = {{.groupFile}}
mock_file =

[Cache]
enabled = true
max_entries = 0
watch_files = true
`
)

// Sections encapsulates all the configuration sections.
type Sections struct {
	// Core defines the core configuration, logging for instance.
	Core *Core `ini:"Core,omitempty"`

	// NameService defines the account database backend.
	NameService *NameService `ini:"NameService,omitempty"`

	// Cache defines the lookup cache configuration.
	Cache *Cache `ini:"Cache,omitempty"`
}

// Core contains the core configuration entries.
type Core struct {
	// LogLevel defines the log level, it maps to galog levels (0 fatal through
	// 4 debug).
	LogLevel int `ini:"log_level,omitempty"`
	// LogVerbosity defines the log verbosity, used by galog.V().
	LogVerbosity int `ini:"log_verbosity,omitempty"`
	// LogFile defines the path to a log file, empty disables file logging.
	LogFile string `ini:"log_file,omitempty"`
	// LogToStderr enables logging to stderr.
	LogToStderr bool `ini:"log_to_stderr,omitempty"`
	// LogToPlatform enables the platform's native logger, the event log on
	// windows. It has no effect elsewhere.
	LogToPlatform bool `ini:"log_to_platform,omitempty"`
	// Version is the version of the running binary, not read from the file.
	Version string `ini:"-"`
}

// NameService contains the backend configuration.
type NameService struct {
	// Backend is one of "nss", "files" or "mock".
	Backend string `ini:"backend,omitempty"`
	// QueryTimeout bounds every query of the nss backend, zero disables it.
	QueryTimeout time.Duration `ini:"query_timeout,omitempty"`
	// PasswdFile is the passwd file read by the files backend and watched for
	// changes.
	PasswdFile string `ini:"passwd_file,omitempty"`
	// GroupFile is the group file read by the files backend and watched for
	// changes.
	GroupFile string `ini:"group_file,omitempty"`
	// MockFile is the yaml fixture served by the mock backend.
	MockFile string `ini:"mock_file,omitempty"`
}

// Cache contains the lookup cache configuration.
type Cache struct {
	// Enabled enables caching of successful lookups.
	Enabled bool `ini:"enabled,omitempty"`
	// MaxEntries bounds the number of cached users and groups, 0 is unbounded.
	MaxEntries int `ini:"max_entries,omitempty"`
	// WatchFiles invalidates the cache when the passwd or group file changes.
	WatchFiles bool `ini:"watch_files,omitempty"`
}

func panicWrapper(args ...any) {
	panic(args)
}

func applyTemplate(templateStr string, data map[string]string, buffer io.Writer) error {
	t, err := template.New("").Option("missingkey=error").Parse(templateStr)
	if err != nil {
		return fmt.Errorf("failed to parse template: %w", err)
	}
	err = t.Execute(buffer, data)
	if err != nil {
		return fmt.Errorf("failed to execute template: %w", err)
	}

	return nil
}

func defaultDataSources(extraDefaults []byte) []any {
	var res []any

	if len(extraDefaults) > 0 {
		res = append(res, extraDefaults)
	}

	return append(res, []any{
		defaultConfigFile,
		defaultConfigFile + ".distro",
	}...)
}

// Load loads default configuration and the configuration from default config
// files. extraFiles, if any, are loaded last and override the other sources,
// unlike the default files they must exist.
func Load(extraDefaults []byte, extraFiles ...string) error {
	cfgMu.Lock()
	defer cfgMu.Unlock()
	opts := ini.LoadOptions{
		Loose:       true,
		Insensitive: true,
	}

	var buffer bytes.Buffer
	err := applyTemplate(defaultConfigTemplate, defaultConfigValues, &buffer)
	if err != nil {
		return fmt.Errorf("unable to apply %v to config template: %w", defaultConfigValues, err)
	}

	sources := dataSources(extraDefaults)
	galog.V(3).Debugf("Loading configuration from sources: %v", sources)
	cfg, err := ini.LoadSources(opts, buffer.Bytes(), sources...)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %+w", err)
	}

	for _, f := range extraFiles {
		galog.V(3).Debugf("Loading configuration file: %s", f)
		// Missing files are silently skipped by loose loading.
		if _, err := os.Stat(f); err != nil {
			return fmt.Errorf("failed to load configuration file: %w", err)
		}
		if err := cfg.Append(f); err != nil {
			return fmt.Errorf("failed to load configuration file %q: %w", f, err)
		}
	}

	sections := new(Sections)
	if err := cfg.MapTo(sections); err != nil {
		return fmt.Errorf("failed to map configuration to object: %w", err)
	}

	if err := sections.validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	instance = sections
	return nil
}

// validate checks the values that can't be checked by the ini mapping.
func (s *Sections) validate() error {
	backends := []string{BackendNSS, BackendFiles, BackendMock}
	s.NameService.Backend = strings.ToLower(strings.TrimSpace(s.NameService.Backend))
	if !slices.Contains(backends, s.NameService.Backend) {
		return fmt.Errorf("unknown name service backend %q, want one of %v", s.NameService.Backend, backends)
	}
	if s.NameService.Backend == BackendMock && s.NameService.MockFile == "" {
		return fmt.Errorf("backend %q requires mock_file", BackendMock)
	}
	if s.NameService.QueryTimeout < 0 {
		return fmt.Errorf("negative query_timeout %v", s.NameService.QueryTimeout)
	}
	if s.Cache.MaxEntries < 0 {
		return fmt.Errorf("negative max_entries %d", s.Cache.MaxEntries)
	}
	return nil
}

// Retrieve returns the configuration's instance previously loaded with Load().
func Retrieve() *Sections {
	cfgMu.RLock()
	defer cfgMu.RUnlock()
	if instance == nil {
		panicFc("cfg package was not initialized, Load() should be called in the early initialization code path")
	}
	return instance
}

// ToString returns the configuration's instance previously loaded with Load()
// as a string. This splits it up as a slice of strings separated by sections.
func ToString() (string, error) {
	buffer := new(bytes.Buffer)

	// Marshal the configuration to ini.
	cfg := ini.Empty()
	if err := ini.ReflectFrom(cfg, instance); err != nil {
		return "", fmt.Errorf("failed to reflect configuration to object: %w", err)
	}

	// Write the configuration to a buffer.
	if _, err := cfg.WriteTo(buffer); err != nil {
		return "", fmt.Errorf("failed to write configuration to buffer: %w", err)
	}
	configString := strings.TrimSpace(buffer.String())

	// The ini string splits sections by two new lines.
	return configString, nil
}
