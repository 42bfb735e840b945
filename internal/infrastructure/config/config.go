package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"gopkg.in/yaml.v3"
)

// Target describes one release build matrix cell.
type Target struct {
	Triple  string `yaml:"triple"`
	OS      string `yaml:"os"`
	Archive string `yaml:"archive"`
}

// Config is the full relforge configuration. Defaults describe a cargo-built
// tool; every command is overridable so any build system with the same exit
// code contract works.
type Config struct {
	Tool struct {
		Name   string `yaml:"name"`
		Binary string `yaml:"binary"`
	} `yaml:"tool"`

	Commands struct {
		Check     string `yaml:"check"`
		Format    string `yaml:"format"`
		Lint      string `yaml:"lint"`
		Audit     string `yaml:"audit"`
		Test      string `yaml:"test"`
		Toolchain string `yaml:"toolchain"`
		Build     string `yaml:"build"`
		Strip     string `yaml:"strip"`
		Publish   string `yaml:"publish"`
	} `yaml:"commands"`

	Toolchain struct {
		Pinned   string   `yaml:"pinned"`
		Channels []string `yaml:"channels"`
	} `yaml:"toolchain"`

	Test struct {
		OSes []string `yaml:"oses"`
	} `yaml:"test"`

	Targets []Target `yaml:"targets"`

	Trigger struct {
		Ignore []string `yaml:"ignore"`
	} `yaml:"trigger"`

	Release struct {
		APIBase string        `yaml:"api_base"`
		Repo    string        `yaml:"repo"`
		Token   string        `yaml:"token"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"release"`

	Registry struct {
		Token string `yaml:"token"`
	} `yaml:"registry"`

	Run struct {
		Workspace   string        `yaml:"workspace"`
		ArtifactDir string        `yaml:"artifact_dir"`
		HistoryPath string        `yaml:"history_path"`
		JobTimeout  time.Duration `yaml:"job_timeout"`
	} `yaml:"run"`
}

func Load(path string) (Config, error) {
	var c Config

	c.Commands.Check = "cargo check --workspace"
	c.Commands.Format = "cargo fmt --all -- --check"
	c.Commands.Lint = "cargo clippy --all-targets --all-features -- -D warnings"
	c.Commands.Audit = "cargo audit"
	c.Commands.Test = "cargo +{toolchain} test --all-features"
	c.Commands.Toolchain = "rustup target add {target} --toolchain {toolchain}"
	c.Commands.Build = "cargo build --release --target {target}"
	c.Commands.Strip = "strip {binary}"
	c.Commands.Publish = "cargo publish --locked"

	c.Tool.Binary = "target/{target}/release/{tool}{exe}"
	c.Toolchain.Pinned = "stable"
	c.Toolchain.Channels = []string{"stable", "nightly"}
	c.Test.OSes = []string{"linux", "macos", "windows"}
	c.Targets = []Target{
		{Triple: "x86_64-unknown-linux-gnu", OS: "linux", Archive: "tar.gz"},
		{Triple: "x86_64-apple-darwin", OS: "macos", Archive: "tar.gz"},
		{Triple: "x86_64-pc-windows-msvc", OS: "windows", Archive: "zip"},
	}
	c.Trigger.Ignore = []string{"docs/**", "**/*.md"}
	c.Release.APIBase = "https://api.github.com"
	c.Release.Timeout = 60 * time.Second
	c.Run.Workspace = "."
	c.Run.ArtifactDir = expandHome("~/.cache/relforge/artifacts")
	c.Run.HistoryPath = expandHome("~/.cache/relforge/history.db")
	c.Run.JobTimeout = 30 * time.Minute

	if path != "" {
		if b, err := os.ReadFile(path); err == nil {
			if err := yaml.Unmarshal(b, &c); err != nil {
				return c, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}

	if v := os.Getenv("RELFORGE_API_BASE"); v != "" {
		c.Release.APIBase = v
	}
	if v := os.Getenv("GITHUB_TOKEN"); v != "" {
		c.Release.Token = v
	}
	if v := os.Getenv("REGISTRY_TOKEN"); v != "" {
		c.Registry.Token = v
	}
	if v := os.Getenv("RELFORGE_WORKSPACE"); v != "" {
		c.Run.Workspace = v
	}
	if v := os.Getenv("RELFORGE_ARTIFACT_DIR"); v != "" {
		c.Run.ArtifactDir = v
	}
	if v := os.Getenv("RELFORGE_HISTORY_PATH"); v != "" {
		c.Run.HistoryPath = v
	}
	if v := os.Getenv("RELFORGE_JOB_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Run.JobTimeout = d
		}
	}

	c.Run.ArtifactDir = expandHome(c.Run.ArtifactDir)
	c.Run.HistoryPath = expandHome(c.Run.HistoryPath)

	if c.Run.JobTimeout <= 0 {
		c.Run.JobTimeout = 30 * time.Minute
	}
	if c.Release.Timeout <= 0 {
		c.Release.Timeout = 60 * time.Second
	}

	if c.Tool.Name == "" {
		return c, errors.New("tool.name is required")
	}
	if len(c.Targets) == 0 {
		return c, errors.New("at least one release target is required")
	}
	for _, t := range c.Targets {
		if t.Archive != "tar.gz" && t.Archive != "zip" {
			return c, fmt.Errorf("target %s: unsupported archive %q", t.Triple, t.Archive)
		}
	}

	return c, nil
}

// Save writes the config atomically under an advisory file lock, so
// concurrent edits (ignore add/remove) do not clobber each other.
func Save(path string, c Config) error {
	if path == "" {
		return errors.New("empty config path")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return err
	}
	defer func() { _ = lock.Unlock() }()

	b, err := yaml.Marshal(&c)
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Write(b); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}

	return os.Rename(tmp, path)
}

func expandHome(p string) string {
	if strings.HasPrefix(p, "~/") {
		if h, _ := os.UserHomeDir(); h != "" {
			return h + p[1:]
		}
	}
	return p
}
