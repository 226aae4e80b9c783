package config

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const DefaultGlamourStyle = "dark"

// Config is the effective configuration after defaults, config files,
// CONVX_* environment variables and command-line flags are merged.
type Config struct {
	HistorySubpath string `yaml:"history_subpath" mapstructure:"history_subpath"`
	User           string `yaml:"user" mapstructure:"user"`
	SystemName     string `yaml:"system_name" mapstructure:"system_name"`
	Redact         bool   `yaml:"redact" mapstructure:"redact"`
	WithContext    bool   `yaml:"with_context" mapstructure:"with_context"`
	WithThinking   bool   `yaml:"with_thinking" mapstructure:"with_thinking"`
	SkipMarker     string `yaml:"skip_marker" mapstructure:"skip_marker"`
	LogFile        string `yaml:"log_file" mapstructure:"log_file"`
	GlamourStyle   string `yaml:"glamour_style" mapstructure:"glamour_style"`

	Inputs InputsConfig `yaml:"inputs" mapstructure:"inputs"`
}

// InputsConfig overrides the per-source input roots.
type InputsConfig struct {
	Codex  string `yaml:"codex" mapstructure:"codex"`
	Claude string `yaml:"claude" mapstructure:"claude"`
	Cursor string `yaml:"cursor" mapstructure:"cursor"`
}

// Flag names bound onto configuration keys.
var flagKeys = map[string]string{
	"history-subpath": "history_subpath",
	"user":            "user",
	"system-name":     "system_name",
	"with-context":    "with_context",
	"with-thinking":   "with_thinking",
	"skip-marker":     "skip_marker",
	"log-file":        "log_file",
}

func DefaultConfig() *Config {
	return &Config{
		HistorySubpath: "history",
		User:           currentUser(),
		SystemName:     hostname(),
		Redact:         true,
		SkipMarker:     "CONVX_NO_SYNC",
		GlamourStyle:   DefaultGlamourStyle,
	}
}

// Load merges the global config, the project config under repoRoot (if
// any), the environment and the flags that were set on fs. Missing files are
// not an error.
func Load(repoRoot string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	paths := []string{GlobalConfigPath()}
	if repoRoot != "" {
		paths = append(paths, ProjectConfigPath(repoRoot))
	}
	for _, path := range paths {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			continue
		}
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix("CONVX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
		if f := fs.Lookup("no-redact"); f != nil && f.Changed {
			v.Set("redact", f.Value.String() != "true")
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("history_subpath", d.HistorySubpath)
	v.SetDefault("user", d.User)
	v.SetDefault("system_name", d.SystemName)
	v.SetDefault("redact", d.Redact)
	v.SetDefault("with_context", d.WithContext)
	v.SetDefault("with_thinking", d.WithThinking)
	v.SetDefault("skip_marker", d.SkipMarker)
	v.SetDefault("log_file", d.LogFile)
	v.SetDefault("glamour_style", d.GlamourStyle)
	v.SetDefault("inputs.codex", "")
	v.SetDefault("inputs.claude", "")
	v.SetDefault("inputs.cursor", "")
}

// InputPath returns the input root for a source system: the configured
// override if present, otherwise the platform default.
func (c *Config) InputPath(source string) (string, error) {
	switch source {
	case "codex":
		if c.Inputs.Codex != "" {
			return expandHome(c.Inputs.Codex), nil
		}
		home, err := DetectCodexHome("")
		if err != nil {
			return "", err
		}
		return filepath.Join(home, "sessions"), nil
	case "claude":
		if c.Inputs.Claude != "" {
			return expandHome(c.Inputs.Claude), nil
		}
		home, err := DetectClaudeHome("")
		if err != nil {
			return "", err
		}
		return filepath.Join(home, "projects"), nil
	case "cursor":
		if c.Inputs.Cursor != "" {
			return expandHome(c.Inputs.Cursor), nil
		}
		dir, err := DetectCursorUserDir("")
		if err != nil {
			return "", err
		}
		return filepath.Join(dir, "workspaceStorage"), nil
	default:
		return "", fmt.Errorf("no default input path for source system %q", source)
	}
}

func GlobalConfigPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "convx", "config.yaml")
	}
	return ""
}

func ProjectConfigPath(repoRoot string) string {
	return filepath.Join(repoRoot, ".convx", "config.yaml")
}

func DetectCodexHome(explicit string) (string, error) {
	if explicit != "" {
		return filepath.Clean(explicit), nil
	}
	if fromEnv := os.Getenv("CODEX_HOME"); fromEnv != "" {
		return filepath.Clean(fromEnv), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".codex"), nil
}

func DetectClaudeHome(explicit string) (string, error) {
	if explicit != "" {
		return filepath.Clean(explicit), nil
	}
	if fromEnv := os.Getenv("CLAUDE_HOME"); fromEnv != "" {
		return filepath.Clean(fromEnv), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".claude"), nil
}

// DetectCursorUserDir locates Cursor's per-user data directory, the parent of
// workspaceStorage and globalStorage.
func DetectCursorUserDir(explicit string) (string, error) {
	if explicit != "" {
		return filepath.Clean(explicit), nil
	}
	if fromEnv := os.Getenv("CURSOR_USER_DIR"); fromEnv != "" {
		return filepath.Clean(fromEnv), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "Cursor", "User"), nil
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "Cursor", "User"), nil
		}
		return filepath.Join(home, "AppData", "Roaming", "Cursor", "User"), nil
	default:
		return filepath.Join(home, ".config", "Cursor", "User"), nil
	}
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return filepath.Clean(p)
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		name := u.Username
		if i := strings.LastIndex(name, `\`); i >= 0 {
			name = name[i+1:]
		}
		return name
	}
	return firstEnv("USER", "USERNAME")
}

func hostname() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "unknown"
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return "unknown"
}
