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

// Package slurm provides access to the SLURM allocation raysub runs in:
// node enumeration, per-node resource counts and cluster usage collection.
package slurm

import (
	"fmt"
	"os"
	"strconv"

	"github.com/pkg/errors"

	"github.com/hpcforge/raysub/helper/stringutil"
	"github.com/hpcforge/raysub/log"
)

// Allocation describes the set of nodes granted by the scheduler for the
// current job. The node order is the scheduler's one and determines head
// election (first node is the head).
type Allocation struct {
	JobID       string
	Nodes       []string
	CPUsPerNode int
	GPUsPerNode int
}

// Head returns the node elected as cluster head, the first of the list.
// It returns an empty string for an empty allocation.
func (a *Allocation) Head() string {
	if len(a.Nodes) == 0 {
		return ""
	}
	return a.Nodes[0]
}

// Workers returns the nodes joining the head as workers, in allocation
// order.
func (a *Allocation) Workers() []string {
	if len(a.Nodes) < 2 {
		return nil
	}
	return a.Nodes[1:]
}

// LookupAllocation resolves the current allocation from the scheduler
// environment. The compact node list (SLURM_JOB_NODELIST) is expanded into
// hostnames with scontrol run through the given client.
func LookupAllocation(client Client) (*Allocation, error) {
	nodeList := os.Getenv("SLURM_JOB_NODELIST")
	if nodeList == "" {
		nodeList = os.Getenv("SLURM_NODELIST")
	}
	if nodeList == "" {
		return nil, errors.New("no SLURM allocation found: SLURM_JOB_NODELIST is not set")
	}

	cmd := fmt.Sprintf("scontrol show hostnames %s", nodeList)
	output, err := client.RunCommand(cmd)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to expand node list %q", nodeList)
	}
	nodes := stringutil.SplitNonEmptyLines(output)
	if len(nodes) == 0 {
		return nil, errors.Errorf("node list %q expanded to no hostname", nodeList)
	}

	alloc := &Allocation{
		JobID:       os.Getenv("SLURM_JOB_ID"),
		Nodes:       nodes,
		CPUsPerNode: LookupCPUsPerNode(),
		GPUsPerNode: LookupGPUsPerNode(),
	}
	log.Debugf("Resolved allocation: %+v", alloc)
	return alloc, nil
}

// LookupCPUsPerNode reads the per-node CPU count from the scheduler
// environment, defaulting to 1
func LookupCPUsPerNode() int {
	return lookupResourceCount("SLURM_CPUS_PER_TASK", "SLURM_CPUS_ON_NODE", 1)
}

// LookupGPUsPerNode reads the per-node GPU count from the scheduler
// environment, defaulting to 0
func LookupGPUsPerNode() int {
	return lookupResourceCount("SLURM_GPUS_PER_TASK", "SLURM_GPUS_ON_NODE", 0)
}

// lookupResourceCount reads a per-node resource count from the scheduler
// environment, trying keys in order
func lookupResourceCount(key, fallbackKey string, defaultValue int) int {
	for _, k := range []string{key, fallbackKey} {
		v := os.Getenv(k)
		if v == "" {
			continue
		}
		count, err := strconv.Atoi(v)
		if err != nil || count < 0 {
			log.Printf("Ignoring invalid value %q for %s", v, k)
			continue
		}
		return count
	}
	return defaultValue
}
