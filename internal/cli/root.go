// Package cli implements the memorykit command-line interface.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mesh-intelligence/memorykit/internal/paths"
	"github.com/mesh-intelligence/memorykit/pkg/types"
)

// Exit codes.
const (
	exitSuccess   = 0
	exitUserError = 1
	exitSysError  = 2
)

// Version is overridden at build time with
// -ldflags "-X github.com/mesh-intelligence/memorykit/internal/cli.Version=...".
var Version = "0.1.0"

// rootFlags holds global flag values accessible to all subcommands.
type rootFlags struct {
	configDir string
	dataDir   string
	jsonMode  bool
}

// env is the state shared by one command tree: global flags and the loaded
// configuration.
type env struct {
	flags     rootFlags
	configDir string
	v         *viper.Viper
}

// NewRootCmd creates the top-level "memorykit" command with global flags
// and all subcommands registered.
func NewRootCmd() *cobra.Command {
	e := &env{}
	root := &cobra.Command{
		Use:   "memorykit",
		Short: "Structured memory for long-running chats",
		Long: "memorykit extracts characters, places and events from chat transcripts\n" +
			"into a local store, lets you review the proposed changes and answers\n" +
			"retrieval queries over the confirmed facts.",
		Version:           Version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: e.load,
	}

	root.PersistentFlags().StringVar(&e.flags.configDir, "config-dir", "", "configuration directory (default: platform config dir)")
	root.PersistentFlags().StringVar(&e.flags.dataDir, "data-dir", "", "data directory (default: ./.memorykit-db)")
	root.PersistentFlags().BoolVar(&e.flags.jsonMode, "json", false, "output in JSON format")

	root.AddCommand(
		e.newVersionCmd(),
		e.newInitCmd(),
		e.newSchemaCmd(),
		e.newGetCmd(),
		e.newListCmd(),
		e.newDeleteCmd(),
		e.newBatchCmd(),
		e.newExtractCmd(),
		e.newDiffCmd(),
		e.newValueCmd(),
		e.newSettingsCmd(),
		e.newQueryCmd(),
		e.newSnapshotCmd(),
		e.newServeCmd(),
	)
	return root
}

// Execute runs the root command and exits with the appropriate code.
func Execute() {
	root := NewRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "memorykit:", err)
		os.Exit(ExitCode(err))
	}
	os.Exit(exitSuccess)
}

// load resolves the config directory and reads config.yaml. The version
// command needs neither.
func (e *env) load(cmd *cobra.Command, args []string) error {
	if cmd.Name() == "version" {
		return nil
	}
	dir, err := paths.ResolveConfigDir(e.flags.configDir)
	if err != nil {
		return sysError(fmt.Errorf("resolve config dir: %w", err))
	}
	v, err := loadConfig(dir)
	if err != nil {
		return sysError(err)
	}
	e.configDir = dir
	e.v = v
	return nil
}

// dataDir applies flag > config > env > default precedence.
func (e *env) dataDir() (string, error) {
	dir, err := paths.ResolveDataDir(e.flags.dataDir, e.v.GetString(cfgKeyDataDir))
	if err != nil {
		return "", sysError(fmt.Errorf("resolve data dir: %w", err))
	}
	return dir, nil
}

// exitError carries an explicit exit code.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func sysError(err error) error  { return &exitError{code: exitSysError, err: err} }
func userError(err error) error { return &exitError{code: exitUserError, err: err} }

// ExitCode maps a command error to the process exit code. Storage engine
// failures and uninitialized stores are system errors; everything else the
// user can fix by changing the invocation or the data.
func ExitCode(err error) int {
	if err == nil {
		return exitSuccess
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	if errors.Is(err, types.ErrStorageEngine) || errors.Is(err, types.ErrNotInitialized) {
		return exitSysError
	}
	return exitUserError
}
