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

// Package sshutil provides the SSH client used to drive SLURM commands
// through a login node when raysub does not run inside the allocation
// itself.
package sshutil

import (
	"bytes"
	"encoding/pem"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path"

	scp "github.com/bramvdbogaerde/go-scp"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"golang.org/x/crypto/ssh"

	"github.com/hpcforge/raysub/log"
)

// Client is the interface allowing to run a command on a SLURM frontend
type Client interface {
	RunCommand(string) (string, error)
}

// SSHClient is a client SSH
type SSHClient struct {
	Config *ssh.ClientConfig
	Host   string
	Port   int
}

// RunCommand allows to run a specified command
func (client *SSHClient) RunCommand(cmd string) (string, error) {
	session, err := client.newSession()
	if err != nil {
		return "", err
	}
	defer session.Close()
	var b bytes.Buffer
	session.Stderr = &b
	session.Stdout = &b

	log.Debugf("[SSHSession] %q", cmd)
	err = session.Run(cmd)
	return b.String(), err
}

func (client *SSHClient) newSession() (*ssh.Session, error) {
	connection, err := ssh.Dial("tcp", fmt.Sprintf("%s:%d", client.Host, client.Port), client.Config)
	if err != nil {
		return nil, errors.Wrapf(err, "Failed to open SSH connection")
	}

	session, err := connection.NewSession()
	if err != nil {
		return nil, errors.Wrapf(err, "Failed to create session")
	}

	return session, nil
}

// CopyFile allows to copy a reader over SSH with defined remote path and
// specific permissions
func (client *SSHClient) CopyFile(source io.Reader, remotePath, permissions string) error {
	scpHostPort := fmt.Sprintf("%s:%d", client.Host, client.Port)
	scpClient := scp.NewClient(scpHostPort, client.Config)

	err := scpClient.Connect()
	if err != nil {
		return errors.Wrapf(err, "Couldn't establish a connection to the remote host:%q", scpHostPort)
	}
	defer scpClient.Session.Close()

	// The remote directory has to exist before the transfer
	remoteDir := path.Dir(remotePath)
	mkdirCmd := fmt.Sprintf("mkdir -p %s", remoteDir)
	_, err = client.RunCommand(mkdirCmd)
	if err != nil {
		return errors.Wrapf(err, "Couldn't create the remote directory:%q", remoteDir)
	}

	log.Debugf("Copy source over SSH to remote path:%s", remotePath)
	return scpClient.CopyFile(source, remotePath, permissions)
}

// ReadPrivateKey returns an authentication method relying on private/public
// key pairs
//
// The argument is :
// - either a path to the private key file,
// - or the content of this private key file
func ReadPrivateKey(pk string) (ssh.AuthMethod, error) {
	var p []byte
	// check if pk is a path
	keyPath, err := homedir.Expand(pk)
	if err != nil {
		return nil, errors.Wrap(err, "failed to expand key path")
	}
	if _, err := os.Stat(keyPath); err == nil {
		p, err = ioutil.ReadFile(keyPath)
		if err != nil {
			p = []byte(pk)
		}
	} else {
		p = []byte(pk)
	}

	// We parse the private key on our own first so that we can
	// show a nicer error if the private key has a password.
	block, _ := pem.Decode(p)
	if block == nil {
		return nil, errors.Errorf("Failed to read key %q: no key found", pk)
	}
	if block.Headers["Proc-Type"] == "4,ENCRYPTED" {
		return nil, errors.Errorf(
			"Failed to read key %q: password protected keys are\n"+
				"not supported. Please decrypt the key prior to use.", pk)
	}

	signer, err := ssh.ParsePrivateKey(p)
	if err != nil {
		return nil, errors.Wrapf(err, "Failed to parse key file %q", pk)
	}

	return ssh.PublicKeys(signer), nil
}
