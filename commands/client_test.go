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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hpcforge/raysub/helper/sshutil"
	"github.com/hpcforge/raysub/slurm"
)

func TestSplitFrontendHost(t *testing.T) {
	t.Parallel()
	host, port, err := splitFrontendHost("login.cluster.example", 22)
	require.Nil(t, err)
	require.Equal(t, "login.cluster.example", host)
	require.Equal(t, 22, port)

	host, port, err = splitFrontendHost("login.cluster.example:2222", 22)
	require.Nil(t, err)
	require.Equal(t, "login.cluster.example", host)
	require.Equal(t, 2222, port)
}

func TestFrontendClientReusesRemoteClient(t *testing.T) {
	t.Parallel()
	remote := &sshutil.SSHClient{Host: "login.cluster.example", Port: 22}
	client, err := frontendClient(remote)
	require.Nil(t, err)
	require.Same(t, remote, client, "the SSH client built for SLURM commands must be reused as-is")

	_, err = frontendClient(slurm.NewLocalClient(context.Background()))
	require.NotNil(t, err)
}
