// Package config loads badger's settings: defaults, then an optional YAML
// file, then BADGER_* environment variables. The merged result is checked
// against a CUE schema before anything uses it.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

// ErrInvalidSettings wraps schema violations.
var ErrInvalidSettings = errors.New("invalid settings")

// Settings is constructed once by the CLI and passed down explicitly.
type Settings struct {
	PluginRoot   string `yaml:"plugin_root" json:"plugin_root"`
	TemplateRoot string `yaml:"template_root" json:"template_root"`
	LogbookRoot  string `yaml:"logbook_root" json:"logbook_root"`
	ArchiveRoot  string `yaml:"archive_root" json:"archive_root"`
	DatabasePath string `yaml:"database_path" json:"database_path"`
	LoggingLevel string `yaml:"logging_level" json:"logging_level"`
	LogfilePath  string `yaml:"logfile_path" json:"logfile_path"`
	// DataDumpPeriod is the minimum interval between dumps, in seconds.
	DataDumpPeriod float64 `yaml:"data_dump_period" json:"data_dump_period"`
	// AutoRefresh recomputes ranges and initial points from the live
	// machine before each run.
	AutoRefresh    bool   `yaml:"auto_refresh" json:"auto_refresh"`
	EnableAdvanced bool   `yaml:"enable_advanced" json:"enable_advanced"`
	ServerAddr     string `yaml:"server_addr" json:"server_addr"`
}

const schema = `
plugin_root:      string
template_root:    string
logbook_root:     string
archive_root:     string & !=""
database_path:    string & !=""
logging_level:    "debug" | "info" | "warn" | "warning" | "error"
logfile_path:     string
data_dump_period: number & >0
auto_refresh:     bool
enable_advanced:  bool
server_addr:      string & =~"^[^:]*:[0-9]+$"
`

// DataDir is the default root for badger's files.
func DataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "badger")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "badger")
	}
	return filepath.Join(os.TempDir(), "badger")
}

// DefaultPath is where Load looks when no config file is given.
func DefaultPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "badger", "config.yaml")
	}
	return filepath.Join(DataDir(), "config.yaml")
}

// Defaults returns the settings used when nothing overrides them.
func Defaults() Settings {
	root := DataDir()
	return Settings{
		PluginRoot:     filepath.Join(root, "plugins"),
		TemplateRoot:   filepath.Join(root, "templates"),
		LogbookRoot:    filepath.Join(root, "logbook"),
		ArchiveRoot:    filepath.Join(root, "archive"),
		DatabasePath:   filepath.Join(root, "badger.db"),
		LoggingLevel:   "warning",
		DataDumpPeriod: 1,
		ServerAddr:     "127.0.0.1:8080",
	}
}

// Load builds the settings. A missing file at path is not an error; an
// empty path means DefaultPath.
func Load(path string) (Settings, error) {
	s := Defaults()
	if path == "" {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &s); err != nil {
			return Settings{}, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case !os.IsNotExist(err):
		return Settings{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := s.applyEnv(os.LookupEnv); err != nil {
		return Settings{}, err
	}
	s.LoggingLevel = strings.ToLower(s.LoggingLevel)

	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func (s *Settings) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"BADGER_PLUGIN_ROOT":   &s.PluginRoot,
		"BADGER_TEMPLATE_ROOT": &s.TemplateRoot,
		"BADGER_LOGBOOK_ROOT":  &s.LogbookRoot,
		"BADGER_ARCHIVE_ROOT":  &s.ArchiveRoot,
		"BADGER_DB_PATH":       &s.DatabasePath,
		"BADGER_LOGGING_LEVEL": &s.LoggingLevel,
		"BADGER_LOGFILE_PATH":  &s.LogfilePath,
		"BADGER_SERVER_ADDR":   &s.ServerAddr,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}

	bools := map[string]*bool{
		"BADGER_AUTO_REFRESH":    &s.AutoRefresh,
		"BADGER_ENABLE_ADVANCED": &s.EnableAdvanced,
	}
	for key, dst := range bools {
		if v, ok := lookup(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%w: %s=%q is not a boolean", ErrInvalidSettings, key, v)
			}
			*dst = b
		}
	}

	if v, ok := lookup("BADGER_DATA_DUMP_PERIOD"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: BADGER_DATA_DUMP_PERIOD=%q is not a number", ErrInvalidSettings, v)
		}
		s.DataDumpPeriod = f
	}
	return nil
}

// Validate checks s against the settings schema.
func (s Settings) Validate() error {
	ctx := cuecontext.New()
	sch := ctx.CompileString("close({" + schema + "})")
	if err := sch.Err(); err != nil {
		return fmt.Errorf("failed to compile settings schema: %w", err)
	}
	v := ctx.Encode(s)
	if err := v.Err(); err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	if err := sch.Unify(v).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	return nil
}

// DumpPeriod returns DataDumpPeriod as a duration.
func (s Settings) DumpPeriod() time.Duration {
	return time.Duration(s.DataDumpPeriod * float64(time.Second))
}

// EnsureDirs creates the root directories the run core writes to.
func (s Settings) EnsureDirs() error {
	for _, dir := range []string{s.ArchiveRoot, s.TemplateRoot, filepath.Dir(s.DatabasePath)} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// YAML renders the settings as a config file.
func (s Settings) YAML() ([]byte, error) {
	return yaml.Marshal(s)
}
