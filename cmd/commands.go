package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/brettbedarf/kvfs/internal/util"
	"github.com/brettbedarf/kvfs/seed"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

var commands = map[string]command{
	"ls":       {"<dir>", "List directory entries", cmdLs},
	"stat":     {"<path>", "Show node metadata", cmdStat},
	"cat":      {"<file>", "Print file contents", cmdCat},
	"write":    {"<file> [data]", "Replace file contents (stdin when data is omitted)", cmdWrite},
	"append":   {"<file> [data]", "Append to a file (stdin when data is omitted)", cmdAppend},
	"mkdir":    {"[-m mode] <dir>", "Create a directory", cmdMkdir},
	"rm":       {"<file>", "Remove a file", cmdRm},
	"rmdir":    {"<dir>", "Remove an empty directory", cmdRmdir},
	"mv":       {"<old> <new>", "Rename a node", cmdMv},
	"truncate": {"<file> <size>", "Resize a file", cmdTruncate},
	"chmod":    {"<mode> <path>", "Change permission bits (octal)", cmdChmod},
	"chown":    {"<uid>[:gid] <path>", "Change owner", cmdChown},
	"touch":    {"<path>", "Set access and modification times to now", cmdTouch},
	"info":     {"", "Show filesystem metadata", cmdInfo},
	"import":   {"<nodes.json>", "Create nodes from a definition file", cmdImport},
	"mount":    {"[-n nodes.json] [-u] <mountpoint>", "Serve the filesystem over FUSE", cmdMount},
}

func wantArgs(args []string, minArgs, maxArgs int, usage string) error {
	if len(args) < minArgs || len(args) > maxArgs {
		return fmt.Errorf("usage: kvfs %s", usage)
	}
	return nil
}

func cmdLs(e *env, args []string) error {
	if err := wantArgs(args, 0, 1, "ls <dir>"); err != nil {
		return err
	}
	dir := "/"
	if len(args) == 1 {
		dir = args[0]
	}
	names, err := e.fs.Readdir(dir, e.cred)
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Fprintln(e.stdout, name)
	}
	return nil
}

// statOutput is the yaml document printed by stat.
type statOutput struct {
	Path  string `yaml:"path"`
	Type  string `yaml:"type"`
	Size  uint64 `yaml:"size"`
	Mode  string `yaml:"mode"`
	UID   uint32 `yaml:"uid"`
	GID   uint32 `yaml:"gid"`
	Atime string `yaml:"atime"`
	Mtime string `yaml:"mtime"`
	Ctime string `yaml:"ctime"`
}

func cmdStat(e *env, args []string) error {
	if err := wantArgs(args, 1, 1, "stat <path>"); err != nil {
		return err
	}
	st, err := e.fs.Stat(args[0], e.cred)
	if err != nil {
		return err
	}
	typ := "file"
	if st.IsDirectory() {
		typ = "dir"
	}
	return writeYAML(e.stdout, statOutput{
		Path:  args[0],
		Type:  typ,
		Size:  st.Size,
		Mode:  fmt.Sprintf("%04o", st.Perm()),
		UID:   st.UID,
		GID:   st.GID,
		Atime: st.Atime.UTC().Format(time.RFC3339),
		Mtime: st.Mtime.UTC().Format(time.RFC3339),
		Ctime: st.Ctime.UTC().Format(time.RFC3339),
	})
}

func cmdCat(e *env, args []string) error {
	if err := wantArgs(args, 1, 1, "cat <file>"); err != nil {
		return err
	}
	data, err := e.fs.ReadFile(args[0], e.cred)
	if err != nil {
		return err
	}
	_, err = e.stdout.Write(data)
	return err
}

func readInput(e *env, args []string) ([]byte, error) {
	if len(args) == 2 {
		return []byte(args[1]), nil
	}
	return io.ReadAll(e.stdin)
}

func cmdWrite(e *env, args []string) error {
	if err := wantArgs(args, 1, 2, "write <file> [data]"); err != nil {
		return err
	}
	data, err := readInput(e, args)
	if err != nil {
		return err
	}
	return e.fs.WriteFile(args[0], data, seed.DefaultFilePerms, e.cred)
}

func cmdAppend(e *env, args []string) error {
	if err := wantArgs(args, 1, 2, "append <file> [data]"); err != nil {
		return err
	}
	data, err := readInput(e, args)
	if err != nil {
		return err
	}
	return e.fs.AppendFile(args[0], data, seed.DefaultFilePerms, e.cred)
}

func cmdMkdir(e *env, args []string) error {
	flagSet := pflag.NewFlagSet("mkdir", pflag.ContinueOnError)
	mode := flagSet.StringP("mode", "m", "755", "Permission bits (octal)")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if err := wantArgs(flagSet.Args(), 1, 1, "mkdir [-m mode] <dir>"); err != nil {
		return err
	}
	perm, err := parseMode(*mode)
	if err != nil {
		return err
	}
	return e.fs.Mkdir(flagSet.Arg(0), perm, e.cred)
}

func cmdRm(e *env, args []string) error {
	if err := wantArgs(args, 1, 1, "rm <file>"); err != nil {
		return err
	}
	return e.fs.Unlink(args[0], e.cred)
}

func cmdRmdir(e *env, args []string) error {
	if err := wantArgs(args, 1, 1, "rmdir <dir>"); err != nil {
		return err
	}
	return e.fs.Rmdir(args[0], e.cred)
}

func cmdMv(e *env, args []string) error {
	if err := wantArgs(args, 2, 2, "mv <old> <new>"); err != nil {
		return err
	}
	return e.fs.Rename(args[0], args[1], e.cred)
}

func cmdTruncate(e *env, args []string) error {
	if err := wantArgs(args, 2, 2, "truncate <file> <size>"); err != nil {
		return err
	}
	size, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid size %q: %w", args[1], err)
	}
	return e.fs.Truncate(args[0], size, e.cred)
}

func parseMode(s string) (uint32, error) {
	mode, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid mode %q: %w", s, err)
	}
	return uint32(mode) & 0o7777, nil
}

func cmdChmod(e *env, args []string) error {
	if err := wantArgs(args, 2, 2, "chmod <mode> <path>"); err != nil {
		return err
	}
	mode, err := parseMode(args[0])
	if err != nil {
		return err
	}
	return e.fs.Chmod(args[1], mode, e.cred)
}

func cmdChown(e *env, args []string) error {
	if err := wantArgs(args, 2, 2, "chown <uid>[:gid] <path>"); err != nil {
		return err
	}
	st, err := e.fs.Stat(args[1], e.cred)
	if err != nil {
		return err
	}
	uidStr, gidStr, hasGID := strings.Cut(args[0], ":")
	uid, err := strconv.ParseUint(uidStr, 10, 32)
	if err != nil {
		return fmt.Errorf("invalid uid %q: %w", uidStr, err)
	}
	gid := uint64(st.GID)
	if hasGID {
		if gid, err = strconv.ParseUint(gidStr, 10, 32); err != nil {
			return fmt.Errorf("invalid gid %q: %w", gidStr, err)
		}
	}
	return e.fs.Chown(args[1], uint32(uid), uint32(gid), e.cred)
}

func cmdTouch(e *env, args []string) error {
	if err := wantArgs(args, 1, 1, "touch <path>"); err != nil {
		return err
	}
	if !e.fs.Exists(args[0]) {
		return e.fs.WriteFile(args[0], nil, seed.DefaultFilePerms, e.cred)
	}
	now := time.Now()
	return e.fs.Utimes(args[0], now, now, e.cred)
}

func cmdInfo(e *env, args []string) error {
	if err := wantArgs(args, 0, 0, "info"); err != nil {
		return err
	}
	return writeYAML(e.stdout, e.fs.Metadata())
}

func cmdImport(e *env, args []string) error {
	if err := wantArgs(args, 1, 1, "import <nodes.json>"); err != nil {
		return err
	}
	res, err := importNodes(e, args[0])
	fmt.Fprintf(e.stdout, "imported %d directories and %d files\n", res.Dirs, res.Files)
	return err
}

func importNodes(e *env, nodesDef string) (seed.Result, error) {
	logger := util.GetLogger("main")
	defData, err := os.ReadFile(nodesDef)
	if err != nil {
		return seed.Result{}, fmt.Errorf("read nodes file: %w", err)
	}
	logger.Debug().Str("nodes", nodesDef).Msg("Nodes file loaded successfully")
	return seed.Load(context.Background(), e.fs.FileSystem, defData, seed.NewDefaultRegistry())
}

func cmdMount(e *env, args []string) error {
	var (
		nodesDef string
		umount   bool
	)
	flagSet := pflag.NewFlagSet("mount", pflag.ContinueOnError)
	flagSet.StringVarP(&nodesDef, "nodes", "n", "", "Path to nodes def file")
	flagSet.BoolVarP(&umount, "umount", "u", false,
		"Unmount the fs first if needed before mounting again. Useful for debuggers that don't exit properly.")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if err := wantArgs(flagSet.Args(), 1, 1, "mount [-n nodes.json] [-u] <mountpoint>"); err != nil {
		return err
	}
	mnt := flagSet.Arg(0)
	logger := util.GetLogger("main")
	logger.Info().Str("nodes", nodesDef).Str("mnt", mnt).Msg("kvfs server initializing")

	// Try unmount if requested
	if umount {
		cmd := exec.Command("fusermount", "-u", mnt)
		// we ignore error here if not already mounted
		cmd.Run() // nolint:errcheck
	}

	if nodesDef != "" {
		if _, err := importNodes(e, nodesDef); err != nil {
			logger.Warn().Err(err).Msg("Some nodes could not be added")
		}
	}

	if err := e.fs.Serve(mnt); err != nil {
		return fmt.Errorf("mount filesystem: %w", err)
	}

	// Setup signal handling for graceful shutdown
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	unmounted := make(chan struct{})
	go func() {
		e.fs.Wait()
		close(unmounted)
	}()

	select {
	case sig := <-signalChan:
		logger.Info().Str("signal", sig.String()).Msg("Received signal, unmounting filesystem")
	case <-unmounted:
		logger.Info().Msg("Filesystem unmounted externally")
		return nil
	}

	if err := e.fs.Unmount(); err != nil {
		return fmt.Errorf("unmount filesystem: %w", err)
	}
	logger.Info().Msg("Filesystem unmounted successfully")
	return nil
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
