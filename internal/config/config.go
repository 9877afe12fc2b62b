// Package config loads and merges the daemon's configuration knobs: CLI
// flags, an optional HCL config file (azul.hcl), and built-in defaults.
// CLI flags always win over the file; the file wins over defaults.
//
// HCL decoding uses hashicorp/hcl/v2 + gohcl, the same stack the teacher
// uses (by way of hclwrite) to format Terraform/HCL buffers in
// internal/writeback/format.go — here it is the load-bearing config
// format rather than a formatter target.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/zclconf/go-cty/cty"

	"github.com/lexsf/azul/api"
)

// Load builds the effective configuration: defaults, overridden by
// configPath's contents (if the file exists — its absence is not an
// error), overridden in turn by any flag the caller has explicitly set
// (flagOverrides, built by the cobra command from pflag.Changed).
func Load(configPath string, flagOverrides api.Config, changed map[string]bool) (api.Config, error) {
	cfg := api.DefaultConfig()

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			fileCfg, err := loadFile(configPath)
			if err != nil {
				return api.Config{}, err
			}
			mergeFile(&cfg, fileCfg)
		} else if !os.IsNotExist(err) {
			return api.Config{}, fmt.Errorf("config: stat %s: %w", configPath, err)
		}
	}

	applyFlags(&cfg, flagOverrides, changed)
	cfg.FileWatchDebounce = time.Duration(cfg.FileWatchDebounceMS) * time.Millisecond
	return cfg, nil
}

func loadFile(path string) (api.Config, error) {
	parser := hclparse.NewParser()
	f, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return api.Config{}, fmt.Errorf("config: parse %s: %w", path, diags)
	}

	var cfg api.Config
	if diags := gohcl.DecodeBody(f.Body, nil, &cfg); diags.HasErrors() {
		return api.Config{}, fmt.Errorf("config: decode %s: %w", path, diags)
	}
	return cfg, nil
}

func mergeFile(dst *api.Config, file api.Config) {
	if file.Port != 0 {
		dst.Port = file.Port
	}
	if file.SyncDir != "" {
		dst.SyncDir = file.SyncDir
	}
	if file.SourcemapPath != "" {
		dst.SourcemapPath = file.SourcemapPath
	}
	if file.ScriptExtension != "" {
		dst.ScriptExtension = file.ScriptExtension
	}
	if len(file.ExcludedServices) > 0 {
		dst.ExcludedServices = file.ExcludedServices
	}
	if file.FileWatchDebounceMS != 0 {
		dst.FileWatchDebounceMS = file.FileWatchDebounceMS
	}
	// Booleans have no unset state in HCL decode beyond their zero value,
	// so the file always sets these when present in the body at all; a
	// config file omitting a bool attribute leaves dst's default/flag
	// value untouched because gohcl never writes back an absent attribute.
	dst.DeleteOrphansOnConnect = dst.DeleteOrphansOnConnect || file.DeleteOrphansOnConnect
	dst.Debug = dst.Debug || file.Debug
}

// applyFlags overwrites cfg with any field whose corresponding pflag was
// explicitly set by the user (changed[name] == true), so "the default
// value happens to match" never masks an unset flag for bools/zero ints.
func applyFlags(cfg *api.Config, flags api.Config, changed map[string]bool) {
	if changed["port"] {
		cfg.Port = flags.Port
	}
	if changed["sync-dir"] {
		cfg.SyncDir = flags.SyncDir
	}
	if changed["sourcemap-path"] {
		cfg.SourcemapPath = flags.SourcemapPath
	}
	if changed["script-extension"] {
		cfg.ScriptExtension = flags.ScriptExtension
	}
	if changed["delete-orphans"] {
		cfg.DeleteOrphansOnConnect = flags.DeleteOrphansOnConnect
	}
	if changed["debug"] {
		cfg.Debug = flags.Debug
	}
	if changed["file-watch-debounce-ms"] {
		cfg.FileWatchDebounceMS = flags.FileWatchDebounceMS
	}
	if changed["excluded-services"] {
		cfg.ExcludedServices = flags.ExcludedServices
	}
}

// WriteDefault renders a starter azul.hcl (attributes only, no comments)
// to path, formatted
// with hclwrite the way the teacher's FormatBuffer formats .hcl buffers —
// grounds "azul config init" on the same library rather than hand-rolling
// a text template.
func WriteDefault(path string) error {
	f := hclwrite.NewEmptyFile()
	body := f.Body()
	d := api.DefaultConfig()

	body.SetAttributeValue("port", cty.NumberIntVal(int64(d.Port)))
	body.SetAttributeValue("sync_dir", cty.StringVal(d.SyncDir))
	body.SetAttributeValue("sourcemap_path", cty.StringVal(d.SourcemapPath))
	body.SetAttributeValue("script_extension", cty.StringVal(d.ScriptExtension))
	body.SetAttributeValue("delete_orphans_on_connect", cty.BoolVal(d.DeleteOrphansOnConnect))
	body.SetAttributeValue("file_watch_debounce_ms", cty.NumberIntVal(int64(d.FileWatchDebounceMS)))
	body.SetAttributeValue("debug", cty.BoolVal(d.Debug))

	formatted := hclwrite.Format(f.Bytes())
	return os.WriteFile(path, formatted, 0o644)
}
