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

// Package config implements the CLI command printing the effective
// configuration.
package config

import (
	"fmt"

	"github.com/GoogleCloudPlatform/guest-userdb/internal/cfg"
	"github.com/spf13/cobra"
)

// New returns the config command.
func New() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the configuration",
		Long:  "Prints the effective configuration, defaults merged with the configuration files.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := cfg.ToString()
			if err != nil {
				return fmt.Errorf("failed to format configuration: %w", err)
			}
			cmd.Println(s)
			return nil
		},
	}
}
