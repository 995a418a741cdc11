package config

import (
	"bytes"
	"os"
	"path"

	"github.com/google/renameio"
	. "github.com/warpfork/go-errcat"
	"gopkg.in/yaml.v3"

	"github.com/polydawn/banyan/api"
)

const (
	OnScanError_Abort = "abort" // first unreadable directory fails the whole import.
	OnScanError_Skip  = "skip"  // unreadable directories are reported as warnings and their subtrees omitted.

	Compression_None = "none"
	Compression_LZ4  = "lz4"
	Compression_Zstd = "zstd"
)

/*
The per-repository `config.yaml`.

Zero values mean "use the default"; see `DefaultRepoConfig`.
*/
type RepoConfig struct {
	Workers     int      `yaml:"workers"`       // traversal workers; 0 means derive from available CPUs.
	QueueDepth  int      `yaml:"queue_depth"`   // bounded task queue size; 0 means a multiple of workers.
	OnScanError string   `yaml:"on_scan_error"` // "abort" or "skip".
	SameDevice  bool     `yaml:"same_device"`   // don't descend into other filesystems.
	Compression string   `yaml:"compression"`   // "none", "lz4", or "zstd".
	Xattrs      []string `yaml:"xattrs"`        // allow-list of xattr name patterns (path.Match syntax).
	Filters     Filters  `yaml:"filters"`
}

/*
Filters applied to metadata while importing.
Each is a string so it can be "keep" or a concrete value;
see the `filters` package for parsing.
*/
type Filters struct {
	Uid    string `yaml:"uid"`    // "keep" or an int.
	Gid    string `yaml:"gid"`    // "keep" or an int.
	Mtime  string `yaml:"mtime"`  // "keep", "@<unix>", or an RFC3339 date.
	Sticky string `yaml:"sticky"` // "keep" or "zero".
}

func DefaultRepoConfig() RepoConfig {
	return RepoConfig{
		OnScanError: OnScanError_Abort,
		Compression: Compression_Zstd,
		Filters: Filters{
			Uid:    "keep",
			Gid:    "keep",
			Mtime:  "keep",
			Sticky: "keep",
		},
	}
}

/*
Fill in defaults for any blank fields, then check everything is sensible.
Returns errors of category `api.ErrUsage`.
*/
func (cfg *RepoConfig) Normalize() error {
	def := DefaultRepoConfig()
	if cfg.OnScanError == "" {
		cfg.OnScanError = def.OnScanError
	}
	if cfg.Compression == "" {
		cfg.Compression = def.Compression
	}
	if cfg.Filters.Uid == "" {
		cfg.Filters.Uid = def.Filters.Uid
	}
	if cfg.Filters.Gid == "" {
		cfg.Filters.Gid = def.Filters.Gid
	}
	if cfg.Filters.Mtime == "" {
		cfg.Filters.Mtime = def.Filters.Mtime
	}
	if cfg.Filters.Sticky == "" {
		cfg.Filters.Sticky = def.Filters.Sticky
	}

	switch cfg.OnScanError {
	case OnScanError_Abort, OnScanError_Skip:
	default:
		return Errorf(api.ErrUsage, "config: on_scan_error must be %q or %q, not %q", OnScanError_Abort, OnScanError_Skip, cfg.OnScanError)
	}
	switch cfg.Compression {
	case Compression_None, Compression_LZ4, Compression_Zstd:
	default:
		return Errorf(api.ErrUsage, "config: compression must be one of %q, %q, %q; not %q", Compression_None, Compression_LZ4, Compression_Zstd, cfg.Compression)
	}
	if cfg.Workers < 0 {
		return Errorf(api.ErrUsage, "config: workers must not be negative")
	}
	if cfg.QueueDepth < 0 {
		return Errorf(api.ErrUsage, "config: queue_depth must not be negative")
	}
	for _, pattern := range cfg.Xattrs {
		if _, err := path.Match(pattern, ""); err != nil {
			return Errorf(api.ErrUsage, "config: invalid xattr pattern %q: %s", pattern, err)
		}
	}
	return nil
}

/*
Load a repository config file.  A missing file yields the defaults.
Unknown keys are rejected, so typos don't silently do nothing.
*/
func LoadRepoConfig(filename string) (RepoConfig, error) {
	cfg := DefaultRepoConfig()
	bs, err := os.ReadFile(filename)
	switch {
	case os.IsNotExist(err):
		return cfg, nil
	case err != nil:
		return cfg, Errorf(api.ErrIO, "config: cannot read %s: %s", filename, err)
	}
	if len(bytes.TrimSpace(bs)) == 0 {
		return cfg, nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(bs))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, Errorf(api.ErrUsage, "config: cannot parse %s: %s", filename, err)
	}
	return cfg, cfg.Normalize()
}

func WriteRepoConfig(filename string, cfg RepoConfig) error {
	bs, err := yaml.Marshal(&cfg)
	if err != nil {
		return Errorf(api.ErrIO, "config: cannot serialize: %s", err)
	}
	if err := renameio.WriteFile(filename, bs, 0644); err != nil {
		return Errorf(api.ErrIO, "config: cannot write %s: %s", filename, err)
	}
	return nil
}
