// Command veilnet is the reference CLI for the coordinator package: it
// wires a store.Store, a connection pool, and an NNTP dialer into a
// coordinator.Coordinator and exposes its operations (adduser,
// addfolder, index, upload, publish, download, progress) as
// subcommands. Global flags parse with SetInterspersed(false) so a
// subcommand's own flags aren't swallowed by the global parser; a
// switch over the first positional argument dispatches.
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	flag "github.com/spf13/pflag"

	"veilnet.io/log"
)

// globalFlags applies to every subcommand.
type globalFlags struct {
	StateDir string
	DBPath   string
	Config   string
	NoColor  bool
	Verbose  bool
}

func main() {
	var (
		stateDir = flag.String("state-dir", defaultStateDir(), "directory holding identities and local state")
		dbPath   = flag.String("db", "", "sqlite database path (default: <state-dir>/veilnet.db)")
		cfgPath  = flag.StringP("config", "c", "", "path to a YAML config file (see coordinator.LoadConfig)")
		noColor  = flag.Bool("no-color", false, "disable colored output")
		verbose  = flag.BoolP("verbose", "v", false, "enable debug logging")
	)
	flag.SetInterspersed(false)
	flag.Usage = printUsage

	flag.Parse()
	if os.Getenv("NO_COLOR") != "" {
		*noColor = true
	}
	color.NoColor = *noColor

	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(1)
	}

	g := globalFlags{StateDir: *stateDir, DBPath: *dbPath, Config: *cfgPath, NoColor: *noColor, Verbose: *verbose}
	if g.DBPath == "" {
		g.DBPath = g.StateDir + "/veilnet.db"
	}

	cmd, rest := args[0], args[1:]
	var err error
	switch cmd {
	case "adduser":
		err = runAddUser(rest, g)
	case "addfolder":
		err = runAddFolder(rest, g)
	case "index":
		err = runIndex(rest, g)
	case "upload":
		err = runUpload(rest, g)
	case "publish":
		err = runPublish(rest, g)
	case "download":
		err = runDownload(rest, g)
	case "progress":
		err = runProgress(rest, g)
	case "demo":
		err = runDemo(rest, g)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		flag.Usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error: %v", err))
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprint(os.Stderr, `veilnet - encrypted content-addressable storage over Usenet

Usage:
  veilnet <command> [options]

Commands:
  adduser               Mint a new identity
  addfolder             Register a folder under the default identity
  index    <folder-id>  Scan and snapshot a folder's current contents
  upload   <folder-id>  Post every pending segment for a folder
  publish  <folder-id>  Publish a folder's latest indexed version
  download <share-id>   Reconstruct a published share to a local directory
  progress <op-id>      Look up an operation by ID; operations are held in
                        memory by the process that started them, so an ID
                        from an earlier invocation reports as unknown
  demo                  Run index -> upload -> publish -> download end to end
                        against an in-process NNTP server, for trying the
                        system without a real provider account

Global Options:
  --state-dir   directory holding identities and local state (default ~/.veilnet)
  --db          sqlite database path (default <state-dir>/veilnet.db)
  -c, --config  YAML config file (see coordinator.LoadConfig)
  -v, --verbose enable debug logging
  --no-color    disable colored output

Run "veilnet <command> --help" for a command's own flags.
`)
}

func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".veilnet"
	}
	return home + "/.veilnet"
}
