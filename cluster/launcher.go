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
	"fmt"
	"strings"

	"github.com/blang/semver"
	"github.com/pkg/errors"

	"github.com/hpcforge/raysub/config"
	"github.com/hpcforge/raysub/helper/stringutil"
	"github.com/hpcforge/raysub/log"
	"github.com/hpcforge/raysub/slurm"
)

// HeadSpec carries everything needed to start the cluster head on a node.
// It is built once per invocation and passed by value.
type HeadSpec struct {
	Node   string
	IP     string
	Port   int
	Secret string
	CPUs   int
	GPUs   int
}

// WorkerSpec carries everything needed to join a node as worker. All workers
// of one invocation share the same HeadAddress and Secret.
type WorkerSpec struct {
	Node        string
	HeadAddress string
	Secret      string
	CPUs        int
	GPUs        int
}

// Launcher starts and stops cluster-manager processes on allocated nodes
type Launcher interface {
	// Version returns the launcher command line tool version
	Version() (semver.Version, error)
	// StartHead starts the head process asynchronously on its node
	StartHead(spec HeadSpec) error
	// JoinWorker starts a worker process asynchronously, pointed at the head
	JoinWorker(spec WorkerSpec) error
	// Stop stops any cluster process running on the given node
	Stop(node string) error
}

type rayLauncher struct {
	client    slurm.Client
	bin       string
	extraOpts []string
}

// NewLauncher returns a Launcher driving the configured cluster-manager
// command (ray by default) through srun steps
func NewLauncher(client slurm.Client, cfg config.Configuration) Launcher {
	bin := cfg.LauncherBin
	if bin == "" {
		bin = config.DefaultLauncherBin
	}
	return &rayLauncher{
		client:    client,
		bin:       bin,
		extraOpts: cfg.Launcher.GetStringSlice("extra_options"),
	}
}

// srunStep wraps a command into a single-task job step pinned on a node
func srunStep(node, cmd string) string {
	return fmt.Sprintf("srun --nodes=1 --ntasks=1 -w %s %s", node, cmd)
}

func (l *rayLauncher) fillStartOpts(secret string, cpus, gpus int) string {
	var opts string
	opts += fmt.Sprintf(" --redis-password=%s", secret)
	opts += fmt.Sprintf(" --num-cpus=%d", cpus)
	opts += fmt.Sprintf(" --num-gpus=%d", gpus)
	for _, opt := range l.extraOpts {
		opts += fmt.Sprintf(" --%s", opt)
	}
	opts += " --block"
	return opts
}

func (l *rayLauncher) StartHead(spec HeadSpec) error {
	startCmd := fmt.Sprintf("%s start --head --node-ip-address=%s --port=%d%s",
		l.bin, spec.IP, spec.Port, l.fillStartOpts(spec.Secret, spec.CPUs, spec.GPUs))
	// The step stdout is redirected so that the trailing '&' detaches it
	// from the launching shell
	redirectFile := stringutil.UniqueTimestampedName("raysub_head_", ".out")
	cmd := fmt.Sprintf("%s > %s 2>&1 &", srunStep(spec.Node, startCmd), redirectFile)
	log.Printf("Starting head on node %q: %q", spec.Node, cmd)
	output, err := l.client.RunCommand(cmd)
	if err != nil {
		log.Debugf("stderr:%q", output)
		return errors.Wrapf(err, "failed to start the head on node %q", spec.Node)
	}
	return nil
}

func (l *rayLauncher) JoinWorker(spec WorkerSpec) error {
	startCmd := fmt.Sprintf("%s start --address=%s%s",
		l.bin, spec.HeadAddress, l.fillStartOpts(spec.Secret, spec.CPUs, spec.GPUs))
	redirectFile := stringutil.UniqueTimestampedName("raysub_worker_", ".out")
	cmd := fmt.Sprintf("%s > %s 2>&1 &", srunStep(spec.Node, startCmd), redirectFile)
	log.Printf("Joining worker on node %q: %q", spec.Node, cmd)
	output, err := l.client.RunCommand(cmd)
	if err != nil {
		log.Debugf("stderr:%q", output)
		return errors.Wrapf(err, "failed to join the worker on node %q", spec.Node)
	}
	return nil
}

func (l *rayLauncher) Stop(node string) error {
	cmd := srunStep(node, fmt.Sprintf("%s stop", l.bin))
	log.Debugf("Stopping cluster process on node %q", node)
	output, err := l.client.RunCommand(cmd)
	if err != nil {
		return errors.Wrapf(err, "failed to stop the cluster process on node %q: %s", node, output)
	}
	return nil
}

func (l *rayLauncher) Version() (semver.Version, error) {
	output, err := l.client.RunCommand(fmt.Sprintf("%s --version", l.bin))
	if err != nil {
		return semver.Version{}, errors.Wrapf(err, "failed to get the %q version", l.bin)
	}
	return parseLauncherVersion(output)
}

// parseLauncherVersion extracts a semantic version from a launcher version
// banner such as "ray, version 2.9.3"
func parseLauncherVersion(output string) (semver.Version, error) {
	fields := strings.Fields(strings.TrimSpace(output))
	if len(fields) == 0 {
		return semver.Version{}, errors.New("empty version output")
	}
	v, err := semver.ParseTolerant(fields[len(fields)-1])
	if err != nil {
		return semver.Version{}, errors.Wrapf(err, "unexpected version output %q", output)
	}
	return v, nil
}
