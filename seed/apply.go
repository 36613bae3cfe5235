package seed

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/brettbedarf/kvfs"
	"github.com/brettbedarf/kvfs/filesystem"
	"github.com/brettbedarf/kvfs/internal/util"
	"go.uber.org/multierr"
)

// Result counts the nodes Apply wrote.
type Result struct {
	Dirs  int
	Files int
}

// Apply creates nodes in fsys as root. Directories are created first,
// including missing parents, then files are written from the first of their
// sources that fetches successfully. A failing node does not stop the rest;
// all failures are combined in the returned error.
func Apply(ctx context.Context, fsys *filesystem.FileSystem, nodes []Node) (Result, error) {
	logger := util.GetLogger("Seed.Apply")

	var dirs, files []Node
	for _, n := range nodes {
		if n.Type == DirNodeType {
			dirs = append(dirs, n)
		} else {
			files = append(files, n)
		}
	}
	sort.SliceStable(dirs, func(i, j int) bool { return dirs[i].Path < dirs[j].Path })

	var res Result
	var errs error
	for _, n := range dirs {
		if err := applyDir(fsys, n); err != nil {
			logger.Debug().Str("path", n.Path).Err(err).Msg("Failed to add directory")
			errs = multierr.Append(errs, err)
			continue
		}
		res.Dirs++
	}
	for _, n := range files {
		if err := ctx.Err(); err != nil {
			return res, multierr.Append(errs, err)
		}
		if err := applyFile(ctx, fsys, n); err != nil {
			logger.Debug().Str("path", n.Path).Err(err).Msg("Failed to add file")
			errs = multierr.Append(errs, err)
			continue
		}
		res.Files++
	}
	logger.Info().Int("directories", res.Dirs).Int("files", res.Files).Msg("Added nodes to filesystem")
	return res, errs
}

func applyDir(fsys *filesystem.FileSystem, n Node) error {
	if err := mkdirAll(fsys, n.Path, n.Perms); err != nil {
		return err
	}
	return applyOwner(fsys, n)
}

func applyFile(ctx context.Context, fsys *filesystem.FileSystem, n Node) error {
	data, err := fetch(ctx, n)
	if err != nil {
		return err
	}
	if err := mkdirAll(fsys, parentDir(n.Path), DefaultDirPerms); err != nil {
		return err
	}
	if err := fsys.WriteFile(n.Path, data, n.Perms, kvfs.RootCred); err != nil {
		return err
	}
	return applyOwner(fsys, n)
}

// fetch returns the contents from the first source that succeeds.
func fetch(ctx context.Context, n Node) ([]byte, error) {
	if len(n.Sources) == 0 {
		return nil, nil
	}
	var errs error
	for i, src := range n.Sources {
		data, err := src.Fetch(ctx)
		if err == nil {
			return data, nil
		}
		errs = multierr.Append(errs, fmt.Errorf("source %d: %w", i, err))
	}
	return nil, fmt.Errorf("%s: no source could be fetched: %w", n.Path, errs)
}

func applyOwner(fsys *filesystem.FileSystem, n Node) error {
	if n.Owner == nil {
		return nil
	}
	return fsys.Chown(n.Path, n.Owner.UID, n.Owner.GID, kvfs.RootCred)
}

// mkdirAll creates p and any missing parents. Parents get the default
// directory permissions.
func mkdirAll(fsys *filesystem.FileSystem, p string, perms uint32) error {
	if p == "/" {
		return nil
	}
	parts := strings.Split(strings.Trim(p, "/"), "/")
	cur := ""
	for i, part := range parts {
		cur += "/" + part
		mode := uint32(DefaultDirPerms)
		if i == len(parts)-1 {
			mode = perms
		}
		err := fsys.Mkdir(cur, mode, kvfs.RootCred)
		if err == nil {
			continue
		}
		if !errors.Is(err, fs.ErrExist) {
			return err
		}
		st, serr := fsys.Stat(cur, kvfs.RootCred)
		if serr != nil {
			return serr
		}
		if !st.IsDirectory() {
			return kvfs.ErrNotDir("mkdir", cur)
		}
	}
	return nil
}

func parentDir(p string) string {
	i := strings.LastIndex(p, "/")
	if i <= 0 {
		return "/"
	}
	return p[:i]
}

// Load parses the node definitions in data and applies them to fsys.
func Load(ctx context.Context, fsys *filesystem.FileSystem, data []byte, reg *Registry) (Result, error) {
	nodes, err := Parse(data, reg)
	if err != nil {
		return Result{}, err
	}
	return Apply(ctx, fsys, nodes)
}
