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
	"fmt"
	"sort"
	"strconv"

	humanize "github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/hpcforge/raysub/helper/tabutil"
	"github.com/hpcforge/raysub/slurm"
)

func init() {
	RootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the SLURM cluster occupation",
	Long: `Show a point-in-time snapshot of the SLURM cluster occupation: CPU usage
per partition and job counts per state.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configuration := getConfig()
		client, err := getClient(context.Background(), configuration)
		if err != nil {
			return err
		}

		info, err := slurm.CollectUsageInfo(client)
		if err != nil {
			return err
		}

		colorize := color.New(color.FgHiCyan, color.Bold).SprintFunc()

		fmt.Println(colorize("CPUs per partition:"))
		cpuTable := tabutil.NewTable()
		cpuTable.AddHeaders("Partition", "Allocated", "Idle", "Other", "Total")
		for _, p := range info.Partitions {
			cpuTable.AddRow(p.Name, humanizeCount(p.Allocated), humanizeCount(p.Idle), humanizeCount(p.Other), humanizeCount(p.Total))
		}
		fmt.Println(cpuTable.Render())

		fmt.Println(colorize("Jobs per state:"))
		jobTable := tabutil.NewTable()
		jobTable.AddHeaders("State", "Count")
		states := make([]string, 0, len(info.JobStates))
		for state := range info.JobStates {
			states = append(states, state)
		}
		sort.Strings(states)
		for _, state := range states {
			jobTable.AddRow(state, humanize.Comma(int64(info.JobStates[state])))
		}
		fmt.Println(jobTable.Render())
		return nil
	},
}

// humanizeCount renders a sinfo count with thousand separators, leaving
// non-numeric values (such as "N/A") untouched
func humanizeCount(count string) string {
	n, err := strconv.ParseInt(count, 10, 64)
	if err != nil {
		return count
	}
	return humanize.Comma(n)
}
