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

package slurm

import (
	"bytes"
	"context"

	"github.com/pkg/errors"

	"github.com/hpcforge/raysub/helper/executil"
	"github.com/hpcforge/raysub/log"
)

// Client is the interface allowing to run SLURM commands either locally
// inside the allocation or remotely through an SSH frontend.
//
// sshutil.SSHClient implements it for the remote case.
type Client interface {
	RunCommand(string) (string, error)
}

type localClient struct {
	ctx context.Context
}

// NewLocalClient returns a Client running commands on the local node through
// a shell. Commands ending with '&' keep running after RunCommand returns.
func NewLocalClient(ctx context.Context) Client {
	return &localClient{ctx: ctx}
}

func (c *localClient) RunCommand(cmd string) (string, error) {
	log.Debugf("[LocalSession] %q", cmd)
	execCmd := executil.Command(c.ctx, "/bin/sh", "-c", cmd)
	var b bytes.Buffer
	execCmd.Stdout = &b
	execCmd.Stderr = &b
	err := execCmd.Run()
	if err != nil {
		return b.String(), errors.Wrapf(err, "command %q failed", cmd)
	}
	return b.String(), nil
}
