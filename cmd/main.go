package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/brettbedarf/kvfs"
	"github.com/brettbedarf/kvfs/config"
	"github.com/brettbedarf/kvfs/internal/util"
	"github.com/brettbedarf/kvfs/server"
	"github.com/spf13/pflag"
)

// globals are the flags accepted before the command name.
type globals struct {
	configPath string
	verbose    int
	storeType  string
	storePath  string
	bucket     string
	uid        uint32
	gid        uint32
}

// env is what a command runs against.
type env struct {
	fs     *server.KvFs
	cred   kvfs.Cred
	stdin  io.Reader
	stdout io.Writer
}

type command struct {
	usage string
	help  string
	run   func(e *env, args []string) error
}

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, pflag.ErrHelp) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	var g globals
	flagSet := pflag.NewFlagSet("kvfs", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.SetInterspersed(false)
	flagSet.StringVarP(&g.configPath, "config", "c", "", "Path to a yaml or json config file")
	flagSet.IntVarP(&g.verbose, "verbose", "v", config.InfoVerbose,
		"Log verbosity level between 1 (error) and 5 (trace)")
	flagSet.StringVar(&g.storeType, "store", "", "Store type: memory, bolt or datastore")
	flagSet.StringVar(&g.storePath, "path", "", "Store location (bolt file or leveldb directory)")
	flagSet.StringVar(&g.bucket, "bucket", "", "bolt bucket name")
	flagSet.Uint32Var(&g.uid, "uid", uint32(os.Getuid()), "User id to run the command as")
	flagSet.Uint32Var(&g.gid, "gid", uint32(os.Getgid()), "Group id to run the command as")
	flagSet.Usage = func() { printUsage(stderr, flagSet) }

	if err := flagSet.Parse(args); err != nil {
		return err
	}
	rest := flagSet.Args()
	if len(rest) == 0 {
		printUsage(stderr, flagSet)
		return pflag.ErrHelp
	}
	cmd, ok := commands[rest[0]]
	if !ok {
		return fmt.Errorf("unknown command %q", rest[0])
	}

	cfg, err := loadConfig(&g, flagSet)
	if err != nil {
		return err
	}
	util.InitializeLogger(cfg.LogLvl)
	logger := util.GetLogger("main")
	logger.Debug().Str("command", rest[0]).Str("store", cfg.Store.Type).Str("path", cfg.Store.Path).Msg("kvfs starting")

	k, err := server.New(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := k.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close filesystem")
		}
	}()

	e := &env{fs: k, cred: kvfs.NewCred(g.uid, g.gid), stdin: stdin, stdout: stdout}
	return cmd.run(e, rest[1:])
}

// loadConfig layers the config file, then explicitly set flags, over the defaults.
func loadConfig(g *globals, flagSet *pflag.FlagSet) (*config.Config, error) {
	cfg := config.NewDefaultConfig()
	if g.configPath != "" {
		override, err := config.LoadConfigOverrideFile(g.configPath)
		if err != nil {
			return nil, err
		}
		cfg.Merge(override)
	}

	var override config.ConfigOverride
	if flagSet.Changed("verbose") {
		override.LogLvl = &g.verbose
	}
	if flagSet.Changed("store") {
		override.StoreType = &g.storeType
	}
	if flagSet.Changed("path") {
		override.StorePath = &g.storePath
		// a path alone implies a persistent store
		if !flagSet.Changed("store") && cfg.Store.Type == config.StoreMemory {
			override.StoreType = util.Pointer(config.StoreBolt)
		}
	}
	if flagSet.Changed("bucket") {
		override.StoreBucket = &g.bucket
	}
	cfg.Merge(&override)
	return cfg, cfg.Validate()
}

func printUsage(w io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprintf(w, "Usage: kvfs [flags] <command> [args]\n\nCommands:\n")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c := commands[name]
		fmt.Fprintf(w, "  %-28s %s\n", strings.TrimSpace(name+" "+c.usage), c.help)
	}
	fmt.Fprintf(w, "\nFlags:\n%s", flagSet.FlagUsages())
}
