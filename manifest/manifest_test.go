package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/nwscript/vm"
)

func writeManifest(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[engine]
max_instructions = 5000
max_recursion = 8
debug_level = "calls"
flags = ["raise-on-failure", "static-type-discovery"]

[scripts]
dirs = ["scripts", "override"]
extension = ".ncs"

[host]
actions = "nwscript.yaml"
invalid_object = 0x7f000001
self_object = 42

[store]
path = "/var/lib/nwscript/situations.db"

[server]
addr = ":9000"
workers = 2

[log]
verbosity = 1
file = "nwscript.log"
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if m.Engine.MaxInstructions != 5000 || m.Engine.MaxRecursion != 8 {
		t.Errorf("engine limits = %d/%d, want 5000/8", m.Engine.MaxInstructions, m.Engine.MaxRecursion)
	}
	if m.Engine.DebugLevel != "calls" {
		t.Errorf("debug level = %q, want calls", m.Engine.DebugLevel)
	}
	flags, err := m.ExecFlags()
	if err != nil {
		t.Fatal(err)
	}
	if flags != vm.RaiseOnFailure|vm.StaticTypeDiscovery {
		t.Errorf("flags = %b", flags)
	}
	if m.Host.InvalidObject != 0x7f000001 || m.Host.SelfObject != 42 {
		t.Errorf("host objects = %X/%d", m.Host.InvalidObject, m.Host.SelfObject)
	}
	if got := m.ActionsPath(); got != filepath.Join(m.Dir, "nwscript.yaml") {
		t.Errorf("ActionsPath = %q", got)
	}
	if got := m.StorePath(); got != "/var/lib/nwscript/situations.db" {
		t.Errorf("StorePath = %q, want the absolute path unchanged", got)
	}
	if m.Server.Addr != ":9000" || m.Server.Workers != 2 {
		t.Errorf("server = %+v", m.Server)
	}
	if m.Log.Verbosity != 1 || m.LogPath() != filepath.Join(m.Dir, "nwscript.log") {
		t.Errorf("log = %+v", m.Log)
	}
	if _, err := m.VMOptions(); err != nil {
		t.Errorf("VMOptions: %v", err)
	}
}

func TestLoadManifestDefaults(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "")

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if m.Engine.MaxInstructions != vm.MaxInstructions || m.Engine.MaxRecursion != vm.MaxRecursion {
		t.Errorf("default limits = %d/%d", m.Engine.MaxInstructions, m.Engine.MaxRecursion)
	}
	if m.Engine.DebugLevel != "errors" {
		t.Errorf("default debug level = %q, want errors", m.Engine.DebugLevel)
	}
	if len(m.Scripts.Dirs) != 1 || m.Scripts.Dirs[0] != "." {
		t.Errorf("default script dirs = %v, want [.]", m.Scripts.Dirs)
	}
	if m.Scripts.Extension != DefaultExtension {
		t.Errorf("default extension = %q", m.Scripts.Extension)
	}
	if m.Host.InvalidObject != DefaultInvalidObject {
		t.Errorf("default invalid object = %X", m.Host.InvalidObject)
	}
	if m.ActionsPath() != "" {
		t.Errorf("ActionsPath = %q, want built-in table", m.ActionsPath())
	}
	if m.StorePath() != filepath.Join(m.Dir, DefaultStorePath) {
		t.Errorf("StorePath = %q", m.StorePath())
	}
	if m.Server.Addr != DefaultAddr || m.Server.Workers != DefaultWorkers {
		t.Errorf("server defaults = %+v", m.Server)
	}
}

func TestSchemaRejects(t *testing.T) {
	cases := map[string]string{
		"unknown section":  "[engine]\nmax_instructions = 1\n[bogus]\nx = 1\n",
		"unknown field":    "[engine]\nspeed = 3\n",
		"bad debug level":  "[engine]\ndebug_level = \"loud\"\n",
		"bad flag":         "[engine]\nflags = [\"go-fast\"]\n",
		"negative limit":   "[engine]\nmax_recursion = -1\n",
		"bad extension":    "[scripts]\nextension = \"ncs\"\n",
		"too many workers": "[server]\nworkers = 1000\n",
	}
	for name, content := range cases {
		_, err := Parse([]byte(content))
		if err == nil {
			t.Errorf("%s: expected a validation error", name)
			continue
		}
		if !strings.Contains(err.Error(), "invalid configuration") {
			t.Errorf("%s: error = %v", name, err)
		}
	}
}

func TestParseError(t *testing.T) {
	if _, err := Parse([]byte("[engine\n")); err == nil {
		t.Error("expected a TOML parse error")
	}
}

func TestFindAndLoad(t *testing.T) {
	dir := t.TempDir()
	subDir := filepath.Join(dir, "a", "b", "c")
	if err := os.MkdirAll(subDir, 0755); err != nil {
		t.Fatal(err)
	}
	writeManifest(t, dir, "[server]\nworkers = 3\n")

	// Should find manifest when starting from a deep subdirectory
	m, err := FindAndLoad(subDir)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if m == nil {
		t.Fatal("FindAndLoad returned nil")
	}
	if m.Server.Workers != 3 {
		t.Errorf("workers = %d, want 3", m.Server.Workers)
	}
}

func TestFindAndLoadNotFound(t *testing.T) {
	dir := t.TempDir()
	m, err := FindAndLoad(dir)
	if err != nil {
		t.Fatalf("FindAndLoad error: %v", err)
	}
	if m != nil {
		t.Error("expected nil manifest when no nwscript.toml exists")
	}
}

func TestScriptDirPaths(t *testing.T) {
	m := &Manifest{
		Dir:     "/app",
		Scripts: Scripts{Dirs: []string{"scripts", "/opt/override"}},
	}

	paths := m.ScriptDirPaths()
	if len(paths) != 2 {
		t.Fatalf("expected 2 paths, got %d", len(paths))
	}
	if paths[0] != "/app/scripts" {
		t.Errorf("paths[0] = %q, want /app/scripts", paths[0])
	}
	if paths[1] != "/opt/override" {
		t.Errorf("paths[1] = %q, want /opt/override", paths[1])
	}
}

func TestUnknownDebugLevel(t *testing.T) {
	m := Default("/app")
	m.Engine.DebugLevel = "loud"
	if _, err := m.VMOptions(); err == nil {
		t.Error("expected an error for an unknown debug level")
	}
}
