package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "lodestar",
	Short: "Lodestar multi-agent task coordination CLI",
	Long: `Lodestar coordinates many agents working one task graph.
Core concepts:
- Spec plane: a committed .lodestar/spec.yaml holding the task graph, versioned with your code.
- Runtime plane: a local .lodestar/runtime.db holding agents, leases, messages, and the event log.
- Tasks: ready -> done -> verified, gated by depends_on; deleted is a soft tombstone.
- Leases: an agent claims a task before working it; leases expire, they are never force-renewed automatically.
- Events: an append-only log other agents and tools can tail with 'lodestar events pull'.`,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("LODESTAR")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("root", "r", "", "repository root override (default: walk upward from the working directory for .lodestar)")
	rootCmd.PersistentFlags().Bool("json", false, "print the raw envelope as JSON instead of a table")
	rootCmd.PersistentFlags().String("actor-id", "", "acting agent id (required by most operations)")
	rootCmd.PersistentFlags().Bool("force", false, "force-claim; behaves like a plain claim, which already succeeds once the current lease has expired")
	_ = viper.BindPFlag("root", rootCmd.PersistentFlags().Lookup("root"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("force", rootCmd.PersistentFlags().Lookup("force"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(repoCmd())
	rootCmd.AddCommand(agentCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(messageCmd())
	rootCmd.AddCommand(eventsCmd())
}
