// Package host implements a console script host: it loads compiled scripts
// from disk, runs them on a VM and services their action calls with a small
// standard library.
package host

import (
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tliron/commonlog"

	"github.com/chazu/nwscript/manifest"
	"github.com/chazu/nwscript/pkg/bytecode"
	"github.com/chazu/nwscript/pkg/stack"
	"github.com/chazu/nwscript/vm"
)

// ErrScriptNotFound is returned when no script directory holds the script.
var ErrScriptNotFound = errors.New("script not found")

type handler func(h *Host, v *vm.VM, s *stack.Stack, argc int) error

type actionEntry struct {
	def *bytecode.ActionDefinition
	fn  handler
}

// Host owns a VM and the state its actions act on. A Host is not safe for
// concurrent use.
type Host struct {
	vm      *vm.VM
	defs    []bytecode.ActionDefinition
	table   map[uint16]actionEntry
	dirs    []string
	ext     string
	invalid uint32
	out     io.Writer
	rng     *rand.Rand
	clock   func() time.Time
	policy  *ActionPolicy
	log     commonlog.Logger

	cache       map[string]*bytecode.Program
	current     *bytecode.Program
	currentSelf uint32

	pending  []*Deferred
	deferred []*Deferred
}

// Option configures a Host.
type Option func(*config)

type config struct {
	out     io.Writer
	defs    []bytecode.ActionDefinition
	dirs    []string
	vmOpts  []vm.Option
	seed    *uint64
	clock   func() time.Time
	invalid *uint32
	policy  *ActionPolicy
}

// WithOutput sets where Print* actions write. The default is stdout.
func WithOutput(w io.Writer) Option { return func(c *config) { c.out = w } }

// WithDefinitions replaces the action table.
func WithDefinitions(defs []bytecode.ActionDefinition) Option {
	return func(c *config) { c.defs = defs }
}

// WithScriptDirs replaces the configured script directories.
func WithScriptDirs(dirs ...string) Option { return func(c *config) { c.dirs = dirs } }

// WithVMOptions passes extra options to the VM.
func WithVMOptions(opts ...vm.Option) Option {
	return func(c *config) { c.vmOpts = append(c.vmOpts, opts...) }
}

// WithSeed makes Random deterministic.
func WithSeed(seed uint64) Option { return func(c *config) { c.seed = &seed } }

// WithClock overrides the time source used for deferred situations.
func WithClock(now func() time.Time) Option { return func(c *config) { c.clock = now } }

// WithInvalidObject overrides the invalid object id.
func WithInvalidObject(id uint32) Option { return func(c *config) { c.invalid = &id } }

// WithPolicy replaces the action policy built from the manifest.
func WithPolicy(p *ActionPolicy) Option { return func(c *config) { c.policy = p } }

// New creates a host configured by m. A nil manifest uses the defaults for
// the working directory.
func New(m *manifest.Manifest, opts ...Option) (*Host, error) {
	if m == nil {
		m = manifest.Default(".")
	}
	c := config{
		out:    os.Stdout,
		clock:  time.Now,
		dirs:   m.ScriptDirPaths(),
		policy: NewPolicy(m.Host.Allow, m.Host.Deny),
	}
	for _, opt := range opts {
		opt(&c)
	}

	if c.defs == nil {
		if path := m.ActionsPath(); path != "" {
			defs, err := LoadDefinitions(path)
			if err != nil {
				return nil, err
			}
			c.defs = defs
		} else {
			c.defs = BuiltinDefinitions()
		}
	}

	vmOpts, err := m.VMOptions()
	if err != nil {
		return nil, err
	}
	vmOpts = append(vmOpts, vm.WithActionDefinitions(c.defs))
	vmOpts = append(vmOpts, c.vmOpts...)

	seed := uint64(time.Now().UnixNano())
	if c.seed != nil {
		seed = *c.seed
	}
	invalid := m.Host.InvalidObject
	if c.invalid != nil {
		invalid = *c.invalid
	}

	h := &Host{
		defs:    c.defs,
		table:   make(map[uint16]actionEntry),
		dirs:    c.dirs,
		ext:     m.Scripts.Extension,
		invalid: invalid,
		out:     c.out,
		rng:     rand.New(rand.NewPCG(seed, seed>>1)),
		clock:   c.clock,
		policy:  c.policy,
		log:     commonlog.GetLogger("nwscript.host"),
		cache:   make(map[string]*bytecode.Program),
	}
	if h.ext == "" {
		h.ext = manifest.DefaultExtension
	}
	h.registerActions()
	h.vm = vm.New(h, vmOpts...)
	return h, nil
}

// registerActions binds every defined action that has a built-in
// implementation. Defined actions without one abort the script when called.
func (h *Host) registerActions() {
	for i := range h.defs {
		d := &h.defs[i]
		fn, ok := library[d.Name]
		if !ok {
			h.log.Debugf("no implementation for action %s (%d)", d.Name, d.ID)
		}
		h.table[d.ID] = actionEntry{def: d, fn: fn}
	}
}

// VM returns the host's VM.
func (h *Host) VM() *vm.VM { return h.vm }

// Definitions returns the action table.
func (h *Host) Definitions() []bytecode.ActionDefinition { return h.defs }

// InvalidObject returns the invalid object id scripts run with.
func (h *Host) InvalidObject() uint32 { return h.invalid }

// SetOutput redirects Print* actions.
func (h *Host) SetOutput(w io.Writer) { h.out = w }

// CurrentSelf returns the self object of the running script, or the invalid
// object when idle.
func (h *Host) CurrentSelf() uint32 {
	if h.current == nil {
		return h.invalid
	}
	return h.currentSelf
}

// ---------------------------------------------------------------------------
// Script loading
// ---------------------------------------------------------------------------

// LoadScript returns the named script, from the cache when possible. Names
// are case-insensitive; a name without an extension gets the configured
// one.
func (h *Host) LoadScript(name string) (*bytecode.Program, error) {
	key := strings.ToLower(scriptName(name))
	if prog, ok := h.cache[key]; ok {
		return prog, nil
	}

	file := name
	if filepath.Ext(file) == "" {
		file += h.ext
	}
	var candidates []string
	if filepath.IsAbs(file) || strings.ContainsRune(file, filepath.Separator) {
		candidates = []string{file}
	} else {
		for _, dir := range h.dirs {
			candidates = append(candidates, filepath.Join(dir, file))
		}
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		prog, err := bytecode.LoadNCS(path)
		if err != nil {
			return nil, err
		}
		prog.Name = scriptName(name)
		h.cache[key] = prog
		h.log.Debugf("loaded %s from %s (%d bytes)", prog.Name, path, len(prog.Code))
		return prog, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrScriptNotFound, name)
}

// AddScript caches prog under its name, shadowing any file of that name.
func (h *Host) AddScript(prog *bytecode.Program) {
	h.cache[strings.ToLower(prog.Name)] = prog
}

// ClearCache drops every cached script.
func (h *Host) ClearCache() { clear(h.cache) }

func scriptName(name string) string {
	base := filepath.Base(name)
	if i := strings.IndexByte(base, '.'); i >= 0 {
		base = base[:i]
	}
	return base
}

// ---------------------------------------------------------------------------
// Execution
// ---------------------------------------------------------------------------

// RunScript executes a script and returns its return code. Calls may nest
// through ExecuteScript; the running script and self object are restored
// on return. An empty name returns defaultReturn.
func (h *Host) RunScript(name string, self uint32, params []string, defaultReturn int32, flags vm.ExecFlags) (int32, error) {
	if name == "" {
		return defaultReturn, nil
	}
	prog, err := h.LoadScript(name)
	if err != nil {
		h.log.Warningf("RunScript(%s, %08X): %v", name, self, err)
		return defaultReturn, err
	}

	prevScript, prevSelf := h.current, h.currentSelf
	h.current, h.currentSelf = prog, self
	defer func() { h.current, h.currentSelf = prevScript, prevSelf }()

	encoded := make([]string, len(params))
	for i, p := range params {
		encoded[i] = encodeText(p)
	}

	start := time.Now()
	rc, err := h.vm.Execute(prog, self, h.invalid, encoded, defaultReturn, flags)
	h.log.Debugf("%s: execution finished (time = %dms)", prog.Name, time.Since(start).Milliseconds())
	if err != nil {
		h.log.Warningf("RunScript(%s, %08X): %v", name, self, err)
	}
	return rc, err
}

// RunSituation resumes a saved script situation.
func (h *Host) RunSituation(state *vm.SavedState) error {
	if state == nil || state.Program == nil {
		return fmt.Errorf("%w: empty script situation", vm.ErrEntryParameters)
	}
	prevScript, prevSelf := h.current, h.currentSelf
	h.current, h.currentSelf = state.Program, state.Self
	defer func() { h.current, h.currentSelf = prevScript, prevSelf }()

	if err := h.vm.Resume(state); err != nil {
		h.log.Warningf("RunSituation(%s, %08X): %v", state.Program.Name, state.Self, err)
		return err
	}
	return nil
}

// ---------------------------------------------------------------------------
// vm.ActionHandler
// ---------------------------------------------------------------------------

// ExecuteAction dispatches an action call. Unknown and denied actions
// abort the script.
func (h *Host) ExecuteAction(v *vm.VM, s *stack.Stack, id uint16, argc int) error {
	entry, ok := h.table[id]
	if !ok || entry.fn == nil {
		name := "<INVALID>"
		if ok {
			name = entry.def.Name
		}
		h.log.Errorf("executing action %s (%d): no handler, aborting script", name, id)
		v.Abort()
		return nil
	}
	if err := h.policy.Check(entry.def.Name); err != nil {
		h.log.Errorf("executing action %s (%d): %v, aborting script", entry.def.Name, id, err)
		v.Abort()
		return nil
	}
	h.log.Debugf("executing action %s (%d) with %d arguments", entry.def.Name, id, argc)
	if err := entry.fn(h, v, s, argc); err != nil {
		h.log.Errorf("error executing action %s (%d): %v", entry.def.Name, id, err)
		return err
	}
	return nil
}

// CreateEngineStructure returns an empty engine structure. Only effects
// are supported.
func (h *Host) CreateEngineStructure(ordinal uint8) stack.EngineStructure {
	switch ordinal {
	case EngTypeEffect:
		return &Effect{}
	}
	return nil
}

// ExecuteActionFromJIT is not supported: the console host has no
// compiled-code stack to read arguments from.
func (h *Host) ExecuteActionFromJIT(id uint16, argc int) bool { return false }

// ExecuteActionFromJITFast runs an action through the fast command list on
// a scratch stack.
func (h *Host) ExecuteActionFromJITFast(id uint16, argc int, cmds []vm.FastCommand, params []any) bool {
	entry, ok := h.table[id]
	if !ok || entry.fn == nil || h.policy.Check(entry.def.Name) != nil {
		return false
	}
	s := stack.New(h.invalid)
	err := vm.RunFastCommands(s, cmds, params, func() error {
		return entry.fn(h, h.vm, s, argc)
	})
	if err != nil {
		h.log.Errorf("fast action %s (%d): %v", entry.def.Name, id, err)
		return false
	}
	return true
}
