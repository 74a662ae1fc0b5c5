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
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hpcforge/raysub/cluster"
	"github.com/hpcforge/raysub/config"
	"github.com/hpcforge/raysub/log"
	"github.com/hpcforge/raysub/workload"
)

func init() {
	RootCmd.AddCommand(upCmd)
	setConfig()
	cobra.OnInitialize(initConfig)
}

var cfgFile string

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Bring up the cluster and run the search program",
	Long: `Bring up a compute cluster on the current SLURM allocation (or through an
SSH frontend) then invoke the hyperparameter-search program on it. The
command exits with the search program status.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configuration := getConfig()
		if configuration.SearchConfig == "" {
			return errors.New("a search configuration file is required (--tune_config)")
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		client, err := getClient(ctx, configuration)
		if err != nil {
			return err
		}

		bootstrapper := cluster.NewBootstrapper(configuration, client)
		info, err := bootstrapper.Bootstrap(ctx)
		if err != nil {
			return err
		}

		if configuration.IsRemote() {
			sshClient, err := frontendClient(client)
			if err != nil {
				return err
			}
			remotePath, err := workload.UploadConfig(configuration, sshClient)
			if err != nil {
				return err
			}
			configuration.SearchConfig = remotePath
			return workload.RunRemote(configuration, sshClient, info)
		}
		return workload.Run(ctx, configuration, info)
	},
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// enable ability to specify config file via flag
		viper.SetConfigFile(cfgFile)
	}
	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		log.Debugln("Using config file:", viper.ConfigFileUsed())
	} else {
		log.Debugln("Config not found... ")
	}
}

func setConfig() {

	// Flags definition for the cluster bootstrap
	upCmd.PersistentFlags().StringSlice("nodes", nil, "Explicit ordered node list overriding the scheduler allocation, first node is the head")
	upCmd.PersistentFlags().Int("head_port", config.DefaultHeadPort, "Port the cluster head listens on")
	upCmd.PersistentFlags().String("shared_secret", "", "Shared secret passed to every cluster process, generated when empty")
	upCmd.PersistentFlags().Int("cpus_per_node", 0, "CPUs given to each cluster process, read from the allocation when 0")
	upCmd.PersistentFlags().Int("gpus_per_node", 0, "GPUs given to each cluster process, read from the allocation when 0")
	upCmd.PersistentFlags().Duration("settle_delay", config.DefaultSettleDelay, "Wait after the head start when readiness probing is disabled")
	upCmd.PersistentFlags().Duration("worker_stagger", config.DefaultWorkerStagger, "Delay between two worker joins")
	upCmd.PersistentFlags().Duration("readiness_timeout", config.DefaultReadinessTimeout, "Time budget for the head readiness probe, 0 disables probing")
	upCmd.PersistentFlags().Bool("strict", true, "Abort the bootstrap on the first launch error")
	upCmd.PersistentFlags().Bool("no_teardown", false, "Leave started processes running when aborting, the scheduler will reap them")
	upCmd.PersistentFlags().String("launcher_bin", config.DefaultLauncherBin, "Cluster-manager command line launcher")
	upCmd.PersistentFlags().String("min_launcher_version", config.DefaultMinLauncherVersion, "Minimum accepted launcher version")
	upCmd.PersistentFlags().Bool("skip_version_check", false, "Skip the launcher version gate")

	// Flags definition for the search program
	upCmd.PersistentFlags().String("tune_config", "", "Path to the search configuration file")
	upCmd.PersistentFlags().Int("max_pending_trials", config.DefaultMaxPendingTrials, "Upper bound on concurrently pending trials")
	upCmd.PersistentFlags().String("search_program", config.DefaultSearchProgram, "Interpreter running the search script")
	upCmd.PersistentFlags().String("search_script", config.DefaultSearchScript, "Search script to invoke")
	upCmd.PersistentFlags().Bool("no_retrain", false, "Skip retraining after the search")
	upCmd.PersistentFlags().Bool("no_checkpoint", false, "Suppress checkpoint writes")
	upCmd.PersistentFlags().Int("seed", -1, "Explicit seed passed to the search program, omitted when negative")
	upCmd.PersistentFlags().String("working_directory", "", "Directory the search program runs in")
	upCmd.PersistentFlags().Bool("redirect_output", false, "Redirect the search program output to a timestamped file")

	// Flags definition for the SSH frontend
	upCmd.PersistentFlags().String("ssh_host", "", "SLURM frontend to drive commands through, empty means local execution (format: <host> or <host>:<port>)")
	upCmd.PersistentFlags().Int("ssh_port", config.DefaultSSHPort, "Port of the SLURM frontend")
	upCmd.PersistentFlags().String("ssh_user", "", "User connecting to the SLURM frontend, defaults to the current user")
	upCmd.PersistentFlags().String("ssh_key", "~/.ssh/id_rsa", "Path to (or content of) the private key for the SLURM frontend")

	// Bind flags for the cluster bootstrap
	viper.BindPFlag("nodes", upCmd.PersistentFlags().Lookup("nodes"))
	viper.BindPFlag("head_port", upCmd.PersistentFlags().Lookup("head_port"))
	viper.BindPFlag("shared_secret", upCmd.PersistentFlags().Lookup("shared_secret"))
	viper.BindPFlag("cpus_per_node", upCmd.PersistentFlags().Lookup("cpus_per_node"))
	viper.BindPFlag("gpus_per_node", upCmd.PersistentFlags().Lookup("gpus_per_node"))
	viper.BindPFlag("settle_delay", upCmd.PersistentFlags().Lookup("settle_delay"))
	viper.BindPFlag("worker_stagger", upCmd.PersistentFlags().Lookup("worker_stagger"))
	viper.BindPFlag("readiness_timeout", upCmd.PersistentFlags().Lookup("readiness_timeout"))
	viper.BindPFlag("strict", upCmd.PersistentFlags().Lookup("strict"))
	viper.BindPFlag("no_teardown", upCmd.PersistentFlags().Lookup("no_teardown"))
	viper.BindPFlag("launcher_bin", upCmd.PersistentFlags().Lookup("launcher_bin"))
	viper.BindPFlag("min_launcher_version", upCmd.PersistentFlags().Lookup("min_launcher_version"))
	viper.BindPFlag("skip_version_check", upCmd.PersistentFlags().Lookup("skip_version_check"))

	// Bind flags for the search program
	viper.BindPFlag("tune_config", upCmd.PersistentFlags().Lookup("tune_config"))
	viper.BindPFlag("max_pending_trials", upCmd.PersistentFlags().Lookup("max_pending_trials"))
	viper.BindPFlag("search_program", upCmd.PersistentFlags().Lookup("search_program"))
	viper.BindPFlag("search_script", upCmd.PersistentFlags().Lookup("search_script"))
	viper.BindPFlag("no_retrain", upCmd.PersistentFlags().Lookup("no_retrain"))
	viper.BindPFlag("no_checkpoint", upCmd.PersistentFlags().Lookup("no_checkpoint"))
	viper.BindPFlag("seed", upCmd.PersistentFlags().Lookup("seed"))
	viper.BindPFlag("working_directory", upCmd.PersistentFlags().Lookup("working_directory"))
	viper.BindPFlag("redirect_output", upCmd.PersistentFlags().Lookup("redirect_output"))

	// Bind flags for the SSH frontend
	viper.BindPFlag("ssh_host", upCmd.PersistentFlags().Lookup("ssh_host"))
	viper.BindPFlag("ssh_port", upCmd.PersistentFlags().Lookup("ssh_port"))
	viper.BindPFlag("ssh_user", upCmd.PersistentFlags().Lookup("ssh_user"))
	viper.BindPFlag("ssh_key", upCmd.PersistentFlags().Lookup("ssh_key"))

	upCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is /etc/raysub/config.raysub.json)")

	// Environment Variables
	viper.SetEnvPrefix("raysub") // will be uppercased automatically - Become "RAYSUB_"
	viper.AutomaticEnv()         // read in environment variables that match
	viper.BindEnv("max_pending_trials", "TUNE_MAX_PENDING_TRIALS_PG")
	viper.BindEnv("head_port")
	viper.BindEnv("shared_secret")
	viper.BindEnv("ssh_host")
	viper.BindEnv("ssh_user")
	viper.BindEnv("ssh_key")

	// Setting Defaults
	viper.SetDefault("head_port", config.DefaultHeadPort)
	viper.SetDefault("settle_delay", config.DefaultSettleDelay)
	viper.SetDefault("worker_stagger", config.DefaultWorkerStagger)
	viper.SetDefault("readiness_timeout", config.DefaultReadinessTimeout)
	viper.SetDefault("strict", true)
	viper.SetDefault("launcher_bin", config.DefaultLauncherBin)
	viper.SetDefault("min_launcher_version", config.DefaultMinLauncherVersion)
	viper.SetDefault("max_pending_trials", config.DefaultMaxPendingTrials)
	viper.SetDefault("search_program", config.DefaultSearchProgram)
	viper.SetDefault("search_script", config.DefaultSearchScript)
	viper.SetDefault("seed", -1)
	viper.SetDefault("ssh_port", config.DefaultSSHPort)
	viper.SetDefault("launcher", map[string]interface{}{})

	// Configuration file directories
	viper.SetConfigName("config.raysub") // name of config file (without extension)
	viper.AddConfigPath("/etc/raysub/")
	viper.AddConfigPath(".")

}

func getConfig() config.Configuration {
	configuration := config.Configuration{}
	configuration.Nodes = viper.GetStringSlice("nodes")
	configuration.HeadPort = viper.GetInt("head_port")
	configuration.SharedSecret = viper.GetString("shared_secret")
	configuration.CPUsPerNode = viper.GetInt("cpus_per_node")
	configuration.GPUsPerNode = viper.GetInt("gpus_per_node")
	configuration.SettleDelay = viper.GetDuration("settle_delay")
	configuration.WorkerStagger = viper.GetDuration("worker_stagger")
	configuration.ReadinessTimeout = viper.GetDuration("readiness_timeout")
	configuration.Strict = viper.GetBool("strict")
	configuration.NoTeardown = viper.GetBool("no_teardown")
	configuration.LauncherBin = viper.GetString("launcher_bin")
	configuration.MinLauncherVersion = viper.GetString("min_launcher_version")
	configuration.SkipVersionCheck = viper.GetBool("skip_version_check")
	configuration.WorkingDirectory = viper.GetString("working_directory")
	configuration.RedirectOutput = viper.GetBool("redirect_output")
	configuration.MaxPendingTrials = viper.GetInt("max_pending_trials")
	configuration.SearchProgram = viper.GetString("search_program")
	configuration.SearchScript = viper.GetString("search_script")
	configuration.SearchConfig = viper.GetString("tune_config")
	configuration.NoRetrain = viper.GetBool("no_retrain")
	configuration.NoCheckpoint = viper.GetBool("no_checkpoint")
	configuration.Seed = viper.GetInt("seed")
	configuration.SSHHost = viper.GetString("ssh_host")
	configuration.SSHPort = viper.GetInt("ssh_port")
	configuration.SSHUser = viper.GetString("ssh_user")
	configuration.SSHKey = viper.GetString("ssh_key")
	configuration.Launcher = viper.GetStringMap("launcher")
	return configuration
}
