package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/memorykit/internal/app"
	"github.com/mesh-intelligence/memorykit/internal/sqlite"
	"github.com/mesh-intelligence/memorykit/pkg/types"
)

// validCollectionsStr is a comma-separated list of collection names for
// error output.
var validCollectionsStr = strings.Join(types.StandardCollectionNames, ", ")

// openApp builds the App for a command. adjust may override configuration
// taken from flags before the store is opened. The caller must Close it.
func (e *env) openApp(cmd *cobra.Command, adjust func(*app.Config)) (*app.App, error) {
	cfg, err := e.appConfig()
	if err != nil {
		return nil, err
	}
	if adjust != nil {
		adjust(&cfg)
	}
	a, err := app.Open(cmd.Context(), cfg)
	if err != nil {
		return nil, sysError(fmt.Errorf("open store: %w", err))
	}
	return a, nil
}

// attachBackend opens the bare store without seeding or recovery. Used by
// commands that operate on raw collections. The caller must Detach it.
func (e *env) attachBackend() (*sqlite.Backend, error) {
	dataDir, err := e.dataDir()
	if err != nil {
		return nil, err
	}
	backend := sqlite.NewBackend()
	if err := backend.Attach(types.Config{Backend: types.BackendSQLite, DataDir: dataDir}); err != nil {
		return nil, sysError(fmt.Errorf("attach backend: %w", err))
	}
	return backend, nil
}

// collection looks up a collection by name, turning an unknown name into a
// user error that lists the valid ones.
func collection(backend *sqlite.Backend, name string) (types.Collection, error) {
	c, err := backend.Collection(name)
	if err != nil {
		return nil, userError(fmt.Errorf("unknown collection %q (valid: %s)", name, validCollectionsStr))
	}
	return c, nil
}

// emit writes v as indented JSON in JSON mode, or calls text otherwise.
// A nil text always writes JSON.
func (e *env) emit(cmd *cobra.Command, v any, text func(w io.Writer)) error {
	w := cmd.OutOrStdout()
	if e.flags.jsonMode || text == nil {
		return writeJSON(w, v)
	}
	text(w)
	return nil
}

func writeJSON(w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	fmt.Fprintln(w, string(out))
	return nil
}

func truncateText(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
