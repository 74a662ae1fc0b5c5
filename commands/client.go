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

package commands

import (
	"context"
	"os/user"
	"strconv"

	"github.com/goware/urlx"
	"github.com/pkg/errors"
	"golang.org/x/crypto/ssh"

	"github.com/hpcforge/raysub/config"
	"github.com/hpcforge/raysub/helper/sshutil"
	"github.com/hpcforge/raysub/slurm"
)

// getClient returns the client used to run SLURM commands: an SSH client
// targeting the frontend in remote mode, a local shell otherwise
func getClient(ctx context.Context, cfg config.Configuration) (slurm.Client, error) {
	if !cfg.IsRemote() {
		return slurm.NewLocalClient(ctx), nil
	}
	return getSSHClient(cfg)
}

// frontendClient narrows the SLURM command client back to the SSH client
// built for remote mode, avoiding a second connection setup
func frontendClient(client slurm.Client) (*sshutil.SSHClient, error) {
	sshClient, ok := client.(*sshutil.SSHClient)
	if !ok {
		return nil, errors.New("not connected to a SLURM frontend")
	}
	return sshClient, nil
}

func getSSHClient(cfg config.Configuration) (*sshutil.SSHClient, error) {
	host, port, err := splitFrontendHost(cfg.SSHHost, cfg.SSHPort)
	if err != nil {
		return nil, err
	}

	username := cfg.SSHUser
	if username == "" {
		current, err := user.Current()
		if err != nil {
			return nil, errors.Wrap(err, "no SSH user provided and the current user is unknown")
		}
		username = current.Username
	}

	auth, err := sshutil.ReadPrivateKey(cfg.SSHKey)
	if err != nil {
		return nil, err
	}

	return &sshutil.SSHClient{
		Config: &ssh.ClientConfig{
			User:            username,
			Auth:            []ssh.AuthMethod{auth},
			HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		},
		Host: host,
		Port: port,
	}, nil
}

// splitFrontendHost accepts a bare hostname or a host:port form, the
// explicit port flag applying only to the former
func splitFrontendHost(frontend string, defaultPort int) (string, int, error) {
	u, err := urlx.Parse(frontend)
	if err != nil {
		return "", 0, errors.Wrapf(err, "invalid SSH frontend %q", frontend)
	}
	host, portStr, err := urlx.SplitHostPort(u)
	if err != nil {
		return "", 0, errors.Wrapf(err, "invalid SSH frontend %q", frontend)
	}
	if portStr == "" {
		return host, defaultPort, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, errors.Wrapf(err, "invalid SSH port in %q", frontend)
	}
	return host, port, nil
}
