package api

import "time"

// Config carries the knobs listed in the specification's Configuration
// knobs table. CLI flags and the optional HCL config file both populate
// this struct; CLI flags win on conflict.
type Config struct {
	Port                   int           `hcl:"port,optional"`
	SyncDir                string        `hcl:"sync_dir,optional"`
	SourcemapPath          string        `hcl:"sourcemap_path,optional"`
	ScriptExtension        string        `hcl:"script_extension,optional"` // ".lua" or ".luau"
	ExcludedServices       []string      `hcl:"excluded_services,optional"`
	DeleteOrphansOnConnect bool          `hcl:"delete_orphans_on_connect,optional"`
	FileWatchDebounce      time.Duration // derived from FileWatchDebounceMS after decode; no hcl tag, so gohcl ignores it
	FileWatchDebounceMS    int           `hcl:"file_watch_debounce_ms,optional"`
	Debug                  bool          `hcl:"debug,optional"`
}

// DefaultConfig returns the built-in defaults, applied before flags and the
// config file are merged in.
func DefaultConfig() Config {
	return Config{
		Port:                   8080,
		SyncDir:                "./sync",
		SourcemapPath:          "./sourcemap.json",
		ScriptExtension:        ".luau",
		ExcludedServices:       nil,
		DeleteOrphansOnConnect: false,
		FileWatchDebounce:      100 * time.Millisecond,
		FileWatchDebounceMS:    100,
		Debug:                  false,
	}
}
