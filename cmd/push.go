package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lexsf/azul/api"
	azulconfig "github.com/lexsf/azul/internal/config"
	"github.com/lexsf/azul/internal/push"
	"github.com/lexsf/azul/internal/transport"
)

var (
	pushSource         string
	pushDestination    string
	pushDestructive    bool
	pushRojo           bool
	pushRojoProject    string
	pushNoPlaceConfig  bool
	pushConnectTimeout = 8 * time.Second
)

var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Push local script files into the connected editor instance, one-shot",
	Args:  cobra.NoArgs,
	RunE:  runPush,
}

func init() {
	pushCmd.Flags().StringVarP(&pushSource, "source", "s", "", "Source directory to push from")
	pushCmd.Flags().StringVarP(&pushDestination, "destination", "d", "", "Dotted destination path, e.g. ReplicatedStorage.Shared")
	pushCmd.Flags().BoolVar(&pushDestructive, "destructive", false, "Replace the destination's existing children rather than merge")
	pushCmd.Flags().BoolVar(&pushRojo, "rojo", false, "Use Rojo-compatible project-manifest mode")
	pushCmd.Flags().StringVar(&pushRojoProject, "rojo-project", "", "Path to a Rojo-style project manifest (default.project.json)")
	pushCmd.Flags().BoolVar(&pushNoPlaceConfig, "no-place-config", false, "Skip soliciting the editor's own push config over the wire")
}

func dottedToPath(dotted string) []string {
	if dotted == "" {
		return nil
	}
	return strings.Split(dotted, ".")
}

// filterExcluded drops any mapping whose destination is rooted under a
// configured excludedServices name — the spec reads this knob primarily
// for the push path, where the daemon (not the editor agent) decides what
// gets pushed.
func filterExcluded(mappings []api.PushMapping, excluded map[string]bool) []api.PushMapping {
	if len(excluded) == 0 {
		return mappings
	}
	out := mappings[:0]
	for _, m := range mappings {
		if len(m.Destination) > 0 && excluded[m.Destination[0]] {
			fmt.Printf("push: skipping destination %v, service is excluded\n", m.Destination)
			continue
		}
		out = append(out, m)
	}
	return out
}

func runPush(cmd *cobra.Command, args []string) error {
	changed := flagsChanged(cmd, "port", "sync-dir", "sourcemap-path", "script-extension", "delete-orphans", "debug", "file-watch-debounce-ms")
	cfg, err := azulconfig.Load(flagConfigPath, api.Config{Port: flagPort, ScriptExtension: flagScriptExtension}, changed)
	if err != nil {
		return err
	}

	excluded := make(map[string]bool, len(cfg.ExcludedServices))
	for _, name := range cfg.ExcludedServices {
		excluded[name] = true
	}

	var mappings []api.PushMapping
	if pushRojo {
		if pushRojoProject == "" {
			return argError{fmt.Errorf("push: --rojo requires --rojo-project")}
		}
		mappings = append(mappings, api.PushMapping{Source: pushRojoProject, Destination: dottedToPath(pushDestination), Destructive: pushDestructive, RojoMode: true})
	} else if pushSource != "" {
		mappings = append(mappings, api.PushMapping{Source: pushSource, Destination: dottedToPath(pushDestination), Destructive: pushDestructive})
	}

	ep := transport.NewServer(cfg.Port, 60*time.Second)
	serveErr := make(chan error, 1)
	go func() { serveErr <- ep.ListenAndServe() }()
	defer ep.Close()

	if !pushNoPlaceConfig {
		solicited, err := solicitPushConfig(ep, pushConnectTimeout)
		if err != nil {
			fmt.Printf("push: %v, proceeding with CLI-supplied mappings only\n", err)
		} else {
			mappings = append(mappings, solicited.Mappings...)
		}
	}

	mappings = filterExcluded(mappings, excluded)
	if len(mappings) == 0 {
		return argError{fmt.Errorf("push: no source/destination given and no editor push config received")}
	}

	payload, err := push.BuildSnapshotPayload(mappings, cfg.ScriptExtension)
	if err != nil {
		return fmt.Errorf("push: build snapshot: %w", err)
	}

	env, err := api.Encode(api.TagPushSnapshot, payload)
	if err != nil {
		return err
	}
	if err := ep.Send(env); err != nil {
		return fmt.Errorf("push: send pushSnapshot: %w", err)
	}

	time.Sleep(500 * time.Millisecond) // drain interval before exit
	return nil
}

// solicitPushConfig waits up to timeout for an editor to connect, then
// sends requestPushConfig and waits out the remainder of timeout for its
// reply. Server.Send silently drops an envelope with no client connected
// yet (the common case — the editor connects a moment after this command
// starts listening), so the request must not go out until a connection is
// confirmed; waitForClient is the same "block on one inbound envelope"
// proof-of-connection cmd/build.go uses before sending buildSnapshot.
func solicitPushConfig(ep *transport.Server, timeout time.Duration) (api.PushConfig, error) {
	deadline := time.Now().Add(timeout)
	if err := waitForClient(ep, timeout); err != nil {
		return api.PushConfig{}, err
	}

	req, err := api.Encode(api.TagRequestPushCfg, nil)
	if err != nil {
		return api.PushConfig{}, err
	}
	if err := ep.Send(req); err != nil {
		return api.PushConfig{}, fmt.Errorf("send requestPushConfig: %w", err)
	}

	remaining := time.Until(deadline)
	if remaining < 0 {
		remaining = 0
	}
	for {
		select {
		case env := <-ep.Inbound():
			if env.Type != api.TagPushConfig {
				continue
			}
			var payload api.PushConfigPayload
			if err := json.Unmarshal(env.Data, &payload); err != nil {
				return api.PushConfig{}, err
			}
			return payload.Config, nil
		case <-time.After(remaining):
			return api.PushConfig{}, fmt.Errorf("timed out waiting for editor pushConfig")
		}
	}
}
