package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lexsf/azul/api"
)

// sidecarMetadata describes a running daemon instance, written beside a
// well-known directory so a separate `azul list` invocation can enumerate
// active daemons without a shared database — the same sidecar-file
// pattern the teacher's cmd/agent.go uses for its MountMetadata.
type sidecarMetadata struct {
	PID       int       `json:"pid"`
	SyncDir   string    `json:"sync_dir"`
	Port      int       `json:"port"`
	Timestamp time.Time `json:"timestamp"`
}

func sidecarDir() (string, error) {
	dir := filepath.Join(os.TempDir(), "azul")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

func sidecarPath(dir string, pid int) string {
	return filepath.Join(dir, fmt.Sprintf("%d.meta.json", pid))
}

// writeSidecar records this process as an active daemon and returns the
// path it wrote, for the caller to remove on clean shutdown.
func writeSidecar(cfg api.Config) (string, error) {
	dir, err := sidecarDir()
	if err != nil {
		return "", err
	}
	meta := sidecarMetadata{PID: os.Getpid(), SyncDir: cfg.SyncDir, Port: cfg.Port, Timestamp: time.Now()}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", err
	}
	path := sidecarPath(dir, meta.PID)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List active azul daemon instances",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := sidecarDir()
		if err != nil {
			return err
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				fmt.Println("no active azul daemons")
				return nil
			}
			return err
		}

		found := 0
		for _, e := range entries {
			if !strings.HasSuffix(e.Name(), ".meta.json") {
				continue
			}
			data, err := os.ReadFile(filepath.Join(dir, e.Name()))
			if err != nil {
				continue
			}
			var meta sidecarMetadata
			if err := json.Unmarshal(data, &meta); err != nil {
				continue
			}
			if !isProcessRunning(meta.PID) {
				_ = os.Remove(filepath.Join(dir, e.Name()))
				continue
			}
			found++
			fmt.Printf("pid=%d\tport=%d\tsync-dir=%s\tsince=%s\n", meta.PID, meta.Port, meta.SyncDir, meta.Timestamp.Format(time.RFC3339))
		}
		if found == 0 {
			fmt.Println("no active azul daemons")
		}
		return nil
	},
}
