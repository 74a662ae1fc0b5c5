// Copyright 2018 Bull S.A.S. Atos Technologies - Bull, Rue Jean Jaures, B.P.68, 78340, Les Clayes-sous-Bois, France.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config defines configuration structures
package config

import (
	"strings"
	"time"

	"github.com/spf13/cast"
)

// DefaultHeadPort is the default port the cluster head listens on
const DefaultHeadPort int = 6379

// DefaultSettleDelay is the default wait after the head start when the
// readiness probe is disabled
const DefaultSettleDelay = 30 * time.Second

// DefaultWorkerStagger is the default delay between two worker joins
const DefaultWorkerStagger = 5 * time.Second

// DefaultReadinessTimeout is the default time budget for the head readiness
// probe. A zero value disables probing and falls back to the settle delay.
const DefaultReadinessTimeout = 2 * time.Minute

// DefaultLauncherBin is the default cluster-manager command line launcher
const DefaultLauncherBin = "ray"

// DefaultMinLauncherVersion is the minimum launcher version accepted by the
// pre-bootstrap version gate
const DefaultMinLauncherVersion = "1.0.0"

// DefaultMaxPendingTrials is the default resource ceiling passed to the
// search program
const DefaultMaxPendingTrials int = 8

// DefaultSearchProgram is the default interpreter running the search script
const DefaultSearchProgram = "python3"

// DefaultSearchScript is the default search script invoked once the cluster
// is up
const DefaultSearchScript = "search_params.py"

// DefaultSSHPort is the default port used to reach the SLURM frontend in
// remote mode
const DefaultSSHPort int = 22

// Configuration holds config information filled by Cobra and Viper (see
// commands package for more information)
type Configuration struct {
	Nodes              []string
	HeadPort           int
	SharedSecret       string
	CPUsPerNode        int
	GPUsPerNode        int
	SettleDelay        time.Duration
	WorkerStagger      time.Duration
	ReadinessTimeout   time.Duration
	Strict             bool
	NoTeardown         bool
	LauncherBin        string
	MinLauncherVersion string
	SkipVersionCheck   bool
	WorkingDirectory   string
	RedirectOutput     bool

	MaxPendingTrials int
	SearchProgram    string
	SearchScript     string
	SearchConfig     string
	NoRetrain        bool
	NoCheckpoint     bool
	Seed             int

	SSHHost string
	SSHPort int
	SSHUser string
	SSHKey  string

	Launcher LauncherConfig
}

// IsRemote reports whether SLURM commands are driven through an SSH frontend
// rather than executed locally inside the allocation
func (c Configuration) IsRemote() bool {
	return c.SSHHost != ""
}

// LauncherConfig holds free-form parameters for the cluster-manager launcher.
//
// It has methods to automatically cast data to the desired type.
type LauncherConfig map[string]interface{}

// Get returns the raw value of a given configuration key
func (lc LauncherConfig) Get(name string) interface{} {
	return lc[name]
}

// GetString returns the value of the given key casted into a string.
// An empty string is returned if not found.
func (lc LauncherConfig) GetString(name string) string {
	return cast.ToString(lc[name])
}

// GetStringOrDefault returns the value of the given key casted into a string.
// The given default value is returned if not found.
func (lc LauncherConfig) GetStringOrDefault(name, defaultValue string) string {
	if res := lc.GetString(name); res != "" {
		return res
	}
	return defaultValue
}

// GetBool returns the value of the given key casted into a boolean.
// False is returned if not found.
func (lc LauncherConfig) GetBool(name string) bool {
	return cast.ToBool(lc[name])
}

// GetStringSlice returns the value of the given key casted into a slice of
// string. If the corresponding raw value is a string, it is split on comas.
// A nil or empty slice is returned if not found.
func (lc LauncherConfig) GetStringSlice(name string) []string {
	val := lc[name]
	switch v := val.(type) {
	case string:
		return strings.Split(v, ",")
	default:
		return cast.ToStringSlice(lc[name])
	}
}
