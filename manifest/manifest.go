// Package manifest handles nwscript.toml engine configuration.
package manifest

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/BurntSushi/toml"

	"github.com/chazu/nwscript/vm"
)

// FileName is the name of the configuration file.
const FileName = "nwscript.toml"

const (
	DefaultExtension     = ".ncs"
	DefaultInvalidObject = 0x7f000000
	DefaultStorePath     = ".nwscript/situations.db"
	DefaultAddr          = "localhost:4568"
	DefaultWorkers       = 4
)

//go:embed schema.cue
var schemaSource string

// Manifest represents an nwscript.toml configuration.
type Manifest struct {
	Engine  Engine  `toml:"engine"`
	Scripts Scripts `toml:"scripts"`
	Host    Host    `toml:"host"`
	Store   Store   `toml:"store"`
	Server  Server  `toml:"server"`
	Log     Log     `toml:"log"`

	// Dir is the directory containing the nwscript.toml file (set at load time).
	Dir string `toml:"-"`
}

// Engine configures the VM.
type Engine struct {
	MaxInstructions int      `toml:"max_instructions"`
	MaxRecursion    int      `toml:"max_recursion"`
	DebugLevel      string   `toml:"debug_level"`
	Flags           []string `toml:"flags"`
}

// Scripts configures where compiled scripts are found.
type Scripts struct {
	Dirs      []string `toml:"dirs"`
	Extension string   `toml:"extension"`
}

// Host configures the console host.
type Host struct {
	Actions       string `toml:"actions"`
	InvalidObject uint32 `toml:"invalid_object"`
	SelfObject    uint32 `toml:"self_object"`

	// Allow, when non-empty, lists the only actions scripts may call.
	Allow []string `toml:"allow"`
	Deny  []string `toml:"deny"`
}

// Store configures the saved situation database.
type Store struct {
	Path string `toml:"path"`
}

// Server configures the script service.
type Server struct {
	Addr    string `toml:"addr"`
	Workers int    `toml:"workers"`
}

// Log configures commonlog.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

var execFlagNames = map[string]vm.ExecFlags{
	"ignore-stack-mismatch": vm.IgnoreStackMismatch,
	"raise-on-failure":      vm.RaiseOnFailure,
	"static-type-discovery": vm.StaticTypeDiscovery,
}

// Default returns the configuration used when no nwscript.toml exists.
func Default(dir string) *Manifest {
	m := &Manifest{Dir: dir}
	m.applyDefaults()
	return m
}

// Load parses an nwscript.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	return m, nil
}

// Parse decodes and validates configuration text. Dir is left empty.
func Parse(data []byte) (*Manifest, error) {
	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	if err := validate(raw); err != nil {
		return nil, err
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	m.applyDefaults()
	return &m, nil
}

// validate checks the raw document against the embedded schema.
func validate(raw map[string]any) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource)
	if err := schema.Err(); err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))
	doc := ctx.Encode(raw)
	if err := doc.Err(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := def.Unify(doc).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func (m *Manifest) applyDefaults() {
	if m.Engine.MaxInstructions == 0 {
		m.Engine.MaxInstructions = vm.MaxInstructions
	}
	if m.Engine.MaxRecursion == 0 {
		m.Engine.MaxRecursion = vm.MaxRecursion
	}
	if m.Engine.DebugLevel == "" {
		m.Engine.DebugLevel = "errors"
	}
	if len(m.Scripts.Dirs) == 0 {
		m.Scripts.Dirs = []string{"."}
	}
	if m.Scripts.Extension == "" {
		m.Scripts.Extension = DefaultExtension
	}
	if m.Host.InvalidObject == 0 {
		m.Host.InvalidObject = DefaultInvalidObject
	}
	if m.Store.Path == "" {
		m.Store.Path = DefaultStorePath
	}
	if m.Server.Addr == "" {
		m.Server.Addr = DefaultAddr
	}
	if m.Server.Workers == 0 {
		m.Server.Workers = DefaultWorkers
	}
}

// FindAndLoad walks up from startDir to find an nwscript.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// ScriptDirPaths returns absolute paths for the configured script directories.
func (m *Manifest) ScriptDirPaths() []string {
	var paths []string
	for _, d := range m.Scripts.Dirs {
		paths = append(paths, m.resolve(d))
	}
	return paths
}

// ActionsPath returns the action definition file, or "" for the built-in
// table.
func (m *Manifest) ActionsPath() string {
	if m.Host.Actions == "" {
		return ""
	}
	return m.resolve(m.Host.Actions)
}

// StorePath returns the path of the situation database.
func (m *Manifest) StorePath() string { return m.resolve(m.Store.Path) }

// LogPath returns the log file, or "" for stderr.
func (m *Manifest) LogPath() string {
	if m.Log.File == "" {
		return ""
	}
	return m.resolve(m.Log.File)
}

func (m *Manifest) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir, p)
}

// ExecFlags returns the configured default execution flags.
func (m *Manifest) ExecFlags() (vm.ExecFlags, error) {
	return ParseExecFlags(m.Engine.Flags)
}

// ParseExecFlags converts flag names such as "raise-on-failure" to
// execution flags.
func ParseExecFlags(names []string) (vm.ExecFlags, error) {
	var flags vm.ExecFlags
	for _, name := range names {
		f, ok := execFlagNames[name]
		if !ok {
			return 0, fmt.Errorf("unknown engine flag %q", name)
		}
		flags |= f
	}
	return flags, nil
}

// VMOptions returns the VM options for the [engine] section.
func (m *Manifest) VMOptions() ([]vm.Option, error) {
	level, err := vm.ParseDebugLevel(m.Engine.DebugLevel)
	if err != nil {
		return nil, err
	}
	return []vm.Option{
		vm.WithLimits(m.Engine.MaxInstructions, m.Engine.MaxRecursion),
		vm.WithDebugLevel(level),
	}, nil
}
