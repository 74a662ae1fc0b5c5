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

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/hpcforge/raysub/helper/stringutil"
)

// PartitionUsage holds the CPU allocation state of one partition as reported
// by sinfo (%C format: allocated/idle/other/total)
type PartitionUsage struct {
	Name      string
	Allocated string
	Idle      string
	Other     string
	Total     string
}

// UsageInfo is a point-in-time snapshot of the cluster occupation
type UsageInfo struct {
	Partitions []PartitionUsage
	JobStates  map[string]int
}

// CollectUsageInfo gathers partition CPU usage and job state counts. Both
// collections are independent and run in parallel.
func CollectUsageInfo(client Client) (*UsageInfo, error) {
	info := &UsageInfo{}
	var g errgroup.Group
	g.Go(func() error {
		var err error
		info.Partitions, err = getCPUInfo(client)
		return err
	})
	g.Go(func() error {
		var err error
		info.JobStates, err = getJobStatesInfo(client)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return info, nil
}

func getCPUInfo(client Client) ([]PartitionUsage, error) {
	output, err := client.RunCommand(`sinfo --noheader -o "%C %P"`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to collect partition CPU usage")
	}
	var partitions []PartitionUsage
	for _, line := range stringutil.SplitNonEmptyLines(output) {
		usage, err := parseCPUUsageLine(line)
		if err != nil {
			return nil, err
		}
		partitions = append(partitions, usage)
	}
	return partitions, nil
}

// parseCPUUsageLine parses one sinfo line of the form
// "alloc/idle/other/total partition"
func parseCPUUsageLine(line string) (PartitionUsage, error) {
	fields := strings.Fields(line)
	if len(fields) != 2 {
		return PartitionUsage{}, errors.Errorf("unexpected sinfo output line: %q", line)
	}
	counts := strings.Split(fields[0], "/")
	if len(counts) != 4 {
		return PartitionUsage{}, errors.Errorf("unexpected sinfo CPU state %q in line %q", fields[0], line)
	}
	return PartitionUsage{
		Name:      strings.TrimSuffix(fields[1], "*"),
		Allocated: counts[0],
		Idle:      counts[1],
		Other:     counts[2],
		Total:     counts[3],
	}, nil
}

func getJobStatesInfo(client Client) (map[string]int, error) {
	output, err := client.RunCommand(`squeue --noheader -o "%T"`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to collect job states")
	}
	states := make(map[string]int)
	for _, line := range stringutil.SplitNonEmptyLines(output) {
		states[strings.ToUpper(line)]++
	}
	return states, nil
}
