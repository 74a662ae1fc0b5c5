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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCPUUsageLine(t *testing.T) {
	t.Parallel()
	usage, err := parseCPUUsageLine("24/40/0/64 debug*")
	require.Nil(t, err)
	assert.Equal(t, PartitionUsage{Name: "debug", Allocated: "24", Idle: "40", Other: "0", Total: "64"}, usage)

	_, err = parseCPUUsageLine("garbage")
	require.NotNil(t, err)

	_, err = parseCPUUsageLine("24/40 debug")
	require.NotNil(t, err)
}

func TestCollectUsageInfo(t *testing.T) {
	t.Parallel()
	s := &MockSSHClient{
		MockRunCommand: func(cmd string) (string, error) {
			if strings.HasPrefix(cmd, "sinfo") {
				return "24/40/0/64 debug*\n0/128/0/128 gpu\n", nil
			}
			return "RUNNING\nRUNNING\nPENDING\n", nil
		},
	}
	info, err := CollectUsageInfo(s)
	require.Nil(t, err)
	require.Len(t, info.Partitions, 2)
	assert.Equal(t, "gpu", info.Partitions[1].Name)
	assert.Equal(t, map[string]int{"RUNNING": 2, "PENDING": 1}, info.JobStates)
}
