// nwscript runs, analyzes and serves compiled NWScript programs.
package main

import (
	"fmt"
	"os"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/nwscript/manifest"
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: nwscript <command> [options] [args...]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  run <script> [params...]     Execute a script and service its deferred actions\n")
	fmt.Fprintf(os.Stderr, "  analyze [-ir] <script>...    Analyze scripts and print subroutine signatures\n")
	fmt.Fprintf(os.Stderr, "  disasm <script>...           Print a listing of each script\n")
	fmt.Fprintf(os.Stderr, "  serve                        Start the script service\n")
	fmt.Fprintf(os.Stderr, "  situations [list|run|delete] Manage persisted script situations\n")
	fmt.Fprintf(os.Stderr, "\nScripts are resolved through the [scripts] dirs of nwscript.toml, found by\n")
	fmt.Fprintf(os.Stderr, "walking up from the working directory. A path to an .ncs file also works.\n")
	fmt.Fprintf(os.Stderr, "\nExamples:\n")
	fmt.Fprintf(os.Stderr, "  nwscript run -self 1 nw_s0_fireball 3\n")
	fmt.Fprintf(os.Stderr, "  nwscript analyze -ir ./build/test.ncs\n")
	fmt.Fprintf(os.Stderr, "  nwscript serve -addr :4568\n")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	m, err := loadManifest()
	if err != nil {
		fatalf("%v", err)
	}
	configureLogging(m)

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "run":
		err = runCommand(m, args)
	case "analyze":
		err = analyzeCommand(m, args)
	case "disasm":
		err = disasmCommand(m, args)
	case "serve":
		err = serveCommand(m, args)
	case "situations":
		err = situationsCommand(m, args)
	case "help", "-h", "--help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(2)
	}
	if err != nil {
		fatalf("%v", err)
	}
}

// loadManifest finds nwscript.toml above the working directory, falling
// back to the defaults.
func loadManifest() (*manifest.Manifest, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	m, err := manifest.FindAndLoad(wd)
	if err != nil {
		return nil, err
	}
	if m == nil {
		m = manifest.Default(wd)
	}
	return m, nil
}

func configureLogging(m *manifest.Manifest) {
	if path := m.LogPath(); path != "" {
		commonlog.Configure(m.Log.Verbosity, &path)
		return
	}
	commonlog.Configure(m.Log.Verbosity, nil)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
