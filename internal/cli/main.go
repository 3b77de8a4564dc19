package cli

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func Main() {
	_ = godotenv.Load() // best-effort: load .env if present

	if err := newRoot().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRoot() *cobra.Command {
	root := &cobra.Command{
		Use:          "sessionscribe",
		Short:        "Turn a recorded session into an editable, speaker-labelled transcript package",
		SilenceUsage: true,
	}
	root.SetOut(os.Stdout)
	root.SetErr(os.Stderr)
	root.SilenceErrors = true

	root.PersistentFlags().String("config", "", "YAML config file")
	root.PersistentFlags().BoolP("verbose", "v", false, "Debug logging")

	root.AddCommand(
		newProcessCmd(),
		newValidateCmd(),
		newEditCmd(),
		newSpeakerCmd(),
		newReslideCmd(),
		newWatchCmd(),
	)
	return root
}
