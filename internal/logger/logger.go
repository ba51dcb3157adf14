//  Copyright 2024 Google LLC
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

// Package logger wraps the galog configuration/initialization.
package logger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/GoogleCloudPlatform/galog"
	"github.com/GoogleCloudPlatform/guest-userdb/internal/cfg"
)

// Options contains the loggers configuration/options.
type Options struct {
	// Ident is the application ident used across loggers.
	Ident string
	// LogFile is the path of the log file.
	LogFile string
	// LogToStderr flags if stderr loggers must be enabled.
	LogToStderr bool
	// PlatformLogger flags if the platform's native logger (i.e. the windows
	// event log) must be enabled.
	PlatformLogger bool
	// Level is the log level.
	Level int
	// Verbosity is the log verbosity level.
	Verbosity int
}

const (
	// LocalLoggerIdent is the ident used for local loggers.
	LocalLoggerIdent = "userdb"
)

// OptionsFromConfig builds the logger options from the [Core] section.
func OptionsFromConfig(core *cfg.Core) Options {
	return Options{
		Ident:          LocalLoggerIdent,
		LogFile:        core.LogFile,
		LogToStderr:    core.LogToStderr,
		PlatformLogger: core.LogToPlatform,
		Level:          core.LogLevel,
		Verbosity:      core.LogVerbosity,
	}
}

// Init initializes the logger.
func Init(ctx context.Context, opts Options) error {
	var enabledLoggers []galog.Backend

	if opts.PlatformLogger {
		platformLoggers, err := initPlatformLogger(ctx, opts.Ident)
		if err != nil {
			return fmt.Errorf("failed to initialize platform logger: %w", err)
		}
		enabledLoggers = append(enabledLoggers, platformLoggers...)
	}

	galog.SetMinVerbosity(opts.Verbosity)

	if opts.LogFile != "" {
		if info, err := os.Stat(filepath.Dir(opts.LogFile)); err == nil && info.IsDir() {
			enabledLoggers = append(enabledLoggers, galog.NewFileBackend(opts.LogFile))
		}
	}

	if opts.LogToStderr {
		enabledLoggers = append(enabledLoggers, galog.NewStderrBackend(os.Stderr))
	}

	for _, logger := range enabledLoggers {
		galog.RegisterBackend(ctx, logger)
	}

	level, err := galog.ParseLevel(opts.Level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	galog.SetLevel(level)
	return nil
}
