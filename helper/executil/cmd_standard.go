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

//go:build windows
// +build windows

package executil

import (
	"context"
	"os/exec"
)

// Cmd represents an external command being prepared or run.
//
// It's an extension of exec.Cmd that kills the whole process tree instead of
// just the parent process.
type Cmd struct {
	*exec.Cmd
}

// Command returns the Cmd struct to execute the named program with
// the given arguments.
//
// The provided context is used to kill the process if the context becomes
// done before the command completes on its own.
func Command(ctx context.Context, name string, arg ...string) *Cmd {
	innerCmd := exec.CommandContext(ctx, name, arg...)
	return &Cmd{Cmd: innerCmd}
}
