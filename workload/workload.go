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

// Package workload invokes the external hyperparameter-search program once
// the cluster is up. Its responsibility ends at process launch: the search
// itself is entirely opaque to raysub.
package workload

import (
	"context"
	"fmt"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/hpcforge/raysub/cluster"
	"github.com/hpcforge/raysub/config"
	"github.com/hpcforge/raysub/helper/executil"
	"github.com/hpcforge/raysub/helper/sshutil"
	"github.com/hpcforge/raysub/helper/stringutil"
	"github.com/hpcforge/raysub/log"
)

// Environment variables exported to the search program. The resource
// ceiling bounds the trials the search keeps pending concurrently.
const (
	maxPendingTrialsEnvVar = "TUNE_MAX_PENDING_TRIALS_PG"
	clusterAddressEnvVar   = "RAY_ADDRESS"
	clusterSecretEnvVar    = "RAY_REDIS_PASSWORD"
)

// BuildArgs returns the search program arguments. Flags are passed through
// unvalidated, the program owns their semantics.
func BuildArgs(cfg config.Configuration) []string {
	args := []string{"--config", cfg.SearchConfig}
	if cfg.NoRetrain {
		args = append(args, "--no_retrain")
	}
	if cfg.NoCheckpoint {
		args = append(args, "--no_checkpoint")
	}
	if cfg.Seed >= 0 {
		args = append(args, "--seed", strconv.Itoa(cfg.Seed))
	}
	return args
}

func buildEnv(cfg config.Configuration, info *cluster.Info) map[string]string {
	return map[string]string{
		maxPendingTrialsEnvVar: strconv.Itoa(cfg.MaxPendingTrials),
		clusterAddressEnvVar:   info.HeadAddress,
		clusterSecretEnvVar:    info.Secret,
	}
}

// Run launches the search program on the local node and waits for its
// completion. The program exit status is the exit status of the whole
// invocation.
func Run(ctx context.Context, cfg config.Configuration, info *cluster.Info) error {
	program := cfg.SearchProgram
	if program == "" {
		program = config.DefaultSearchProgram
	}
	script := cfg.SearchScript
	if script == "" {
		script = config.DefaultSearchScript
	}

	args := append([]string{script}, BuildArgs(cfg)...)
	cmd := executil.Command(ctx, program, args...)
	cmd.Env = os.Environ()
	for k, v := range buildEnv(cfg, info) {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	cmd.Dir = cfg.WorkingDirectory
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if cfg.RedirectOutput {
		redirectFile := stringutil.UniqueTimestampedName("raysub_tune_", ".out")
		f, err := os.Create(redirectFile)
		if err != nil {
			return errors.Wrapf(err, "failed to create the output file %q", redirectFile)
		}
		defer f.Close()
		log.Printf("Search program output redirected to %q", redirectFile)
		cmd.Stdout = f
		cmd.Stderr = f
	}

	log.Printf("Invoking the search program: %s %s", program, strings.Join(args, " "))
	return errors.Wrap(cmd.Run(), "search program failed")
}

// RunRemote launches the search program through the SLURM frontend. The
// command blocks until the program completes.
func RunRemote(cfg config.Configuration, client *sshutil.SSHClient, info *cluster.Info) error {
	program := cfg.SearchProgram
	if program == "" {
		program = config.DefaultSearchProgram
	}
	script := cfg.SearchScript
	if script == "" {
		script = config.DefaultSearchScript
	}

	var exports string
	for k, v := range buildEnv(cfg, info) {
		exports += fmt.Sprintf("export %s=%s;", k, v)
	}
	var cd string
	if cfg.WorkingDirectory != "" {
		cd = fmt.Sprintf("cd %s;", cfg.WorkingDirectory)
	}
	cmd := fmt.Sprintf("%s%s%s %s %s", exports, cd, program, script, strings.Join(BuildArgs(cfg), " "))
	log.Printf("Invoking the search program on %q: %q", client.Host, cmd)
	output, err := client.RunCommand(cmd)
	if err != nil {
		log.Debugf("stderr:%q", output)
		return errors.Wrap(err, "search program failed")
	}
	fmt.Print(output)
	return nil
}

// UploadConfig copies the local search configuration file next to the
// remote working directory and returns its remote path
func UploadConfig(cfg config.Configuration, client *sshutil.SSHClient) (string, error) {
	f, err := os.Open(cfg.SearchConfig)
	if err != nil {
		return "", errors.Wrapf(err, "failed to open the configuration file %q", cfg.SearchConfig)
	}
	defer f.Close()

	remoteDir := cfg.WorkingDirectory
	if remoteDir == "" {
		remoteDir = stringutil.UniqueTimestampedName(".raysub_", "")
	}
	remotePath := path.Join(remoteDir, path.Base(cfg.SearchConfig))
	if err := client.CopyFile(f, remotePath, "0644"); err != nil {
		return "", errors.Wrapf(err, "failed to upload the configuration file to %q", remotePath)
	}
	return remotePath, nil
}
