// Package cmd implements azul's CLI surface: the sync daemon (root
// command), the one-shot push and build commands, and the supplemental
// config/list commands.
package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lexsf/azul/api"
	azulconfig "github.com/lexsf/azul/internal/config"
	"github.com/lexsf/azul/internal/model"
	"github.com/lexsf/azul/internal/project"
	"github.com/lexsf/azul/internal/reconcile"
	"github.com/lexsf/azul/internal/sourcemap"
	"github.com/lexsf/azul/internal/transport"
)

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var (
	flagSyncDir          string
	flagPort             int
	flagConfigPath       string
	flagSourcemapPath    string
	flagScriptExtension  string
	flagDeleteOrphans    bool
	flagDebug            bool
	flagDebounceMS       int
	flagExcludedServices []string
)

var rootCmd = &cobra.Command{
	Use:     "azul",
	Short:   "azul mirrors a running editor's instance tree to local script files",
	Version: fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, Date),
	Args:    cobra.NoArgs,
	RunE:    runDaemon,
}

func init() {
	rootCmd.Flags().StringVar(&flagSyncDir, "sync-dir", "", "Directory to project script files into")
	rootCmd.Flags().IntVar(&flagPort, "port", 0, "TCP port to serve the transport endpoint on")
	rootCmd.Flags().StringVar(&flagConfigPath, "config", "azul.hcl", "Path to an optional HCL config file")
	rootCmd.Flags().StringVar(&flagSourcemapPath, "sourcemap-path", "", "Path to write the JSON sourcemap to")
	rootCmd.Flags().StringVar(&flagScriptExtension, "script-extension", "", `Script file extension: ".lua" or ".luau"`)
	rootCmd.Flags().BoolVar(&flagDeleteOrphans, "delete-orphans", false, "Delete unmapped files under sync-dir on connect")
	rootCmd.Flags().BoolVar(&flagDebug, "debug", false, "Verbose logging")
	rootCmd.Flags().IntVar(&flagDebounceMS, "file-watch-debounce-ms", 0, "Filesystem watch debounce window, in milliseconds")
	rootCmd.Flags().StringSliceVar(&flagExcludedServices, "excluded-services", nil, "Root service names the daemon must skip, comma-separated")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(pushCmd)
	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(listCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("azul version %s (commit %s, built %s)\n", Version, Commit, Date)
	},
}

// Execute runs the root command. Exit codes: 0 clean shutdown, 1 startup
// failure, 2 argument error (an argError, or a flag that fails to parse).
// Positional-argument errors reported by cobra itself exit 1.
func Execute() {
	rootCmd.SilenceUsage = true
	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error { return argError{err} })
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if _, ok := err.(argError); ok {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// argError marks an error that should exit 2 rather than 1.
type argError struct{ error }

func flagsChanged(cmd *cobra.Command, names ...string) map[string]bool {
	out := make(map[string]bool, len(names))
	for _, n := range names {
		out[n] = cmd.Flags().Changed(n)
	}
	return out
}

func runDaemon(cmd *cobra.Command, args []string) error {
	changed := flagsChanged(cmd, "port", "sync-dir", "sourcemap-path", "script-extension", "delete-orphans", "debug", "file-watch-debounce-ms", "excluded-services")
	cfg, err := azulconfig.Load(flagConfigPath, api.Config{
		Port: flagPort, SyncDir: flagSyncDir, SourcemapPath: flagSourcemapPath,
		ScriptExtension: flagScriptExtension, DeleteOrphansOnConnect: flagDeleteOrphans,
		Debug: flagDebug, FileWatchDebounceMS: flagDebounceMS, ExcludedServices: flagExcludedServices,
	}, changed)
	if err != nil {
		return err
	}
	if cfg.ScriptExtension != ".lua" && cfg.ScriptExtension != ".luau" {
		return argError{fmt.Errorf("script-extension must be \".lua\" or \".luau\", got %q", cfg.ScriptExtension)}
	}

	log.Printf("azul: starting daemon: sync-dir=%s port=%d sourcemap=%s", cfg.SyncDir, cfg.Port, cfg.SourcemapPath)

	store := model.New()
	proj := project.New(cfg.SyncDir, cfg.ScriptExtension)
	index := sourcemap.New(cfg.SourcemapPath)
	ep := transport.NewServer(cfg.Port, 60*time.Second)

	r := reconcile.New(store, proj, index, ep, cfg.DeleteOrphansOnConnect)
	r.SetExcludedServices(cfg.ExcludedServices)
	r.ConfigureWatcher(cfg.SyncDir, []string{".lua", ".luau"}, cfg.FileWatchDebounce)
	defer r.CloseWatcher()

	sidecar, err := writeSidecar(cfg)
	if err != nil {
		log.Printf("azul: failed to write mount sidecar: %v", err)
	} else {
		defer os.Remove(sidecar)
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- ep.ListenAndServe() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			log.Printf("azul: shutting down")
			_ = ep.Close()
			return nil
		case err := <-serveErr:
			if err != nil {
				return fmt.Errorf("azul: transport endpoint: %w", err)
			}
			return nil
		case env := <-ep.Inbound():
			r.Dispatch(env)
		}
	}
}
