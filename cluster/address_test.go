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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockSSHClient allows to mock the SLURM command client
type MockSSHClient struct {
	MockRunCommand func(string) (string, error)
}

// RunCommand to mock a command ran via SSH
func (s *MockSSHClient) RunCommand(cmd string) (string, error) {
	if s.MockRunCommand != nil {
		return s.MockRunCommand(cmd)
	}
	return "", nil
}

func TestPickUsableAddress(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"NoSpaceReturnedUnchanged", "10.0.0.5", "10.0.0.5"},
		{"LongFirstCandidateIsIPv6", "2001:0db8:0000:0000:0000:0000:0000:0001 10.0.0.5", "10.0.0.5"},
		{"ShortFirstCandidateWins", "10.0.0.5 fallback", "10.0.0.5"},
		{"TrailingNewlineTrimmed", "10.0.0.5\n", "10.0.0.5"},
		{"MoreThanTwoCandidatesOnlyFirstTwoInspected", "2001:0db8:0000:0000:0000:0000:0000:0001 10.0.0.5 192.168.0.1", "10.0.0.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PickUsableAddress(tt.raw))
		})
	}
}

func TestResolveHeadIPOnNode(t *testing.T) {
	t.Parallel()
	var ranCmd string
	s := &MockSSHClient{
		MockRunCommand: func(cmd string) (string, error) {
			ranCmd = cmd
			return "2001:0db8:0000:0000:0000:0000:0000:0001 10.0.0.5\n", nil
		},
	}
	addr, err := resolveHeadIPOnNode(s, "cn001")
	require.Nil(t, err)
	require.Equal(t, "10.0.0.5", addr)
	require.Contains(t, ranCmd, "srun --nodes=1 --ntasks=1 -w cn001")
}

func TestResolveHeadIPOnNodeWithEmptyAnswer(t *testing.T) {
	t.Parallel()
	s := &MockSSHClient{
		MockRunCommand: func(cmd string) (string, error) {
			return "\n", nil
		},
	}
	_, err := resolveHeadIPOnNode(s, "cn001")
	require.NotNil(t, err)
}

func TestJoinHostPort(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "10.0.0.5:6379", JoinHostPort("10.0.0.5", 6379))
	assert.Equal(t, "[2001:db8::1]:6379", JoinHostPort("2001:db8::1", 6379))
}
