package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lexsf/azul/api"
	"github.com/lexsf/azul/internal/push"
	"github.com/lexsf/azul/internal/transport"
)

var (
	buildSyncDir     string
	buildRojo        bool
	buildRojoProject string
	buildPort        int
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Send a one-shot snapshot of local files to a connected editor, without starting the daemon",
	Args:  cobra.NoArgs,
	RunE:  runBuild,
}

func init() {
	buildCmd.Flags().StringVar(&buildSyncDir, "sync-dir", "", "Directory to build a snapshot from")
	buildCmd.Flags().BoolVar(&buildRojo, "rojo", false, "Treat --rojo-project as a Rojo-style project manifest")
	buildCmd.Flags().StringVar(&buildRojoProject, "rojo-project", "", "Path to a Rojo-style project manifest (default.project.json)")
	buildCmd.Flags().IntVar(&buildPort, "port", 8080, "TCP port to serve the transport endpoint on")
}

func runBuild(cmd *cobra.Command, args []string) error {
	ext := flagScriptExtension
	if ext == "" {
		ext = api.DefaultConfig().ScriptExtension
	}

	var (
		entries []api.Entry
		err     error
	)
	switch {
	case buildRojo:
		if buildRojoProject == "" {
			return argError{fmt.Errorf("build: --rojo requires --rojo-project")}
		}
		entries, err = push.BuildFromManifest(buildRojoProject, ext)
	case buildSyncDir != "":
		entries, err = push.WalkSyncDir(buildSyncDir, ext)
	default:
		return argError{fmt.Errorf("build: one of --sync-dir or --rojo-project is required")}
	}
	if err != nil {
		return fmt.Errorf("build: %w", err)
	}

	ep := transport.NewServer(buildPort, 60*time.Second)
	serveErr := make(chan error, 1)
	go func() { serveErr <- ep.ListenAndServe() }()
	defer ep.Close()

	fmt.Printf("build: waiting for an editor connection on port %d\n", buildPort)
	if err := waitForClient(ep, 8*time.Second); err != nil {
		return fmt.Errorf("build: %w", err)
	}

	env, err := api.Encode(api.TagBuildSnapshot, api.BuildSnapshotPayload{Data: entries})
	if err != nil {
		return err
	}
	if err := ep.Send(env); err != nil {
		return fmt.Errorf("build: send buildSnapshot: %w", err)
	}

	time.Sleep(500 * time.Millisecond) // drain interval before exit
	fmt.Printf("build: sent %d entries\n", len(entries))
	return nil
}

// waitForClient blocks until the endpoint has delivered at least one
// inbound envelope (a ping is sufficient to prove a client connected) or
// timeout elapses.
func waitForClient(ep *transport.Server, timeout time.Duration) error {
	select {
	case <-ep.Inbound():
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("timed out waiting for an editor to connect")
	}
}
