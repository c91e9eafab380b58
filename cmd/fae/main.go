// Fae is a local-first voice assistant. This binary hosts the conversation
// runtime: the agent loop, the skill supervisor, the scheduler, the canvas,
// and the debug server the GUI shell connects to.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var configPath string

func main() {
	// Skill credentials arrive through the environment.
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "fae",
		Short: "Local-first voice assistant runtime",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml (default ~/.fae/config.yaml)")

	root.AddCommand(RunCmd())
	root.AddCommand(DoctorCmd())
	root.AddCommand(VersionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
