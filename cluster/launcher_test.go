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

package cluster

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hpcforge/raysub/config"
)

func TestStartHeadCommand(t *testing.T) {
	t.Parallel()
	var ranCmd string
	s := &MockSSHClient{
		MockRunCommand: func(cmd string) (string, error) {
			ranCmd = cmd
			return "", nil
		},
	}
	l := NewLauncher(s, config.Configuration{})
	err := l.StartHead(HeadSpec{Node: "cn001", IP: "10.0.0.5", Port: 6379, Secret: "s3cr3t", CPUs: 4, GPUs: 2})
	require.Nil(t, err)
	require.Contains(t, ranCmd, "srun --nodes=1 --ntasks=1 -w cn001 ray start --head --node-ip-address=10.0.0.5 --port=6379")
	require.Contains(t, ranCmd, "--redis-password=s3cr3t")
	require.Contains(t, ranCmd, "--num-cpus=4")
	require.Contains(t, ranCmd, "--num-gpus=2")
	require.Contains(t, ranCmd, "--block")
	require.Regexp(t, `&$`, ranCmd, "head start must be asynchronous")
}

func TestJoinWorkerCommand(t *testing.T) {
	t.Parallel()
	var ranCmd string
	s := &MockSSHClient{
		MockRunCommand: func(cmd string) (string, error) {
			ranCmd = cmd
			return "", nil
		},
	}
	l := NewLauncher(s, config.Configuration{
		Launcher: config.LauncherConfig{"extra_options": "object-store-memory=1000000000"},
	})
	err := l.JoinWorker(WorkerSpec{Node: "cn002", HeadAddress: "10.0.0.5:6379", Secret: "s3cr3t", CPUs: 4, GPUs: 2})
	require.Nil(t, err)
	require.Contains(t, ranCmd, "srun --nodes=1 --ntasks=1 -w cn002 ray start --address=10.0.0.5:6379")
	require.Contains(t, ranCmd, "--redis-password=s3cr3t")
	require.Contains(t, ranCmd, "--object-store-memory=1000000000")
	require.Regexp(t, `&$`, ranCmd, "worker join must be asynchronous")
}

func TestStopCommand(t *testing.T) {
	t.Parallel()
	var ranCmd string
	s := &MockSSHClient{
		MockRunCommand: func(cmd string) (string, error) {
			ranCmd = cmd
			return "", nil
		},
	}
	l := NewLauncher(s, config.Configuration{LauncherBin: "ray"})
	require.Nil(t, l.Stop("cn002"))
	require.Equal(t, "srun --nodes=1 --ntasks=1 -w cn002 ray stop", ranCmd)
}

func TestParseLauncherVersion(t *testing.T) {
	t.Parallel()
	v, err := parseLauncherVersion("ray, version 2.9.3\n")
	require.Nil(t, err)
	require.Equal(t, "2.9.3", v.String())

	v, err = parseLauncherVersion("1.13.0")
	require.Nil(t, err)
	require.Equal(t, "1.13.0", v.String())

	_, err = parseLauncherVersion("")
	require.NotNil(t, err)
}

func TestNewSharedSecretIsUniquePerInvocation(t *testing.T) {
	t.Parallel()
	first := NewSharedSecret()
	second := NewSharedSecret()
	require.NotEmpty(t, first)
	require.NotEqual(t, first, second)
}
