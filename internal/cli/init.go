package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func (e *env) newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize memorykit storage",
		Long:  "Write the default config.yaml if missing, create the data directory and seed the default schema.",
		Args:  cobra.NoArgs,
		RunE:  e.runInit,
	}
}

func (e *env) runInit(cmd *cobra.Command, args []string) error {
	a, err := e.openApp(cmd, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	result := map[string]any{
		"configDir": e.configDir,
		"dataDir":   a.Config.DataDir,
		"recovered": a.Recovered,
	}
	return e.emit(cmd, result, func(w io.Writer) {
		fmt.Fprintln(w, "memorykit initialized successfully")
		fmt.Fprintln(w, "  config:", e.configDir)
		fmt.Fprintln(w, "  data:  ", a.Config.DataDir)
	})
}
