package server

import (
	"errors"
	"fmt"
	"io"

	"github.com/brettbedarf/kvfs"
	"github.com/brettbedarf/kvfs/config"
	"github.com/brettbedarf/kvfs/filesystem"
	"github.com/brettbedarf/kvfs/fusefs"
	"github.com/brettbedarf/kvfs/internal/util"
	"github.com/brettbedarf/kvfs/kvstore/boltstore"
	"github.com/brettbedarf/kvfs/kvstore/dsstore"
	"github.com/brettbedarf/kvfs/kvstore/memstore"
	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"go.uber.org/multierr"
)

// KvFs owns the configured store, the filesystem engine on top of it and,
// once served, the FUSE server exposing it.
type KvFs struct {
	*filesystem.FileSystem
	cfg    *config.Config
	closer io.Closer
	server *fuse.Server
}

// New opens the store described by cfg and builds the filesystem on it.
func New(cfg *config.Config, opts ...filesystem.Option) (*KvFs, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := util.GetLogger("Server.New")

	store, closer, err := OpenStore(cfg.Store)
	if err != nil {
		return nil, err
	}
	engine, err := filesystem.NewFS(cfg, store, opts...)
	if err != nil {
		if closer != nil {
			closer.Close() // nolint:errcheck
		}
		return nil, err
	}
	logger.Debug().Str("store", store.Name()).Str("path", cfg.Store.Path).Msg("Filesystem ready")
	return &KvFs{FileSystem: engine, cfg: cfg, closer: closer}, nil
}

// OpenStore opens the backend named by sc. The returned closer is nil for
// backends holding no external resources.
func OpenStore(sc config.StoreConfig) (kvfs.Store, io.Closer, error) {
	switch sc.Type {
	case config.StoreMemory:
		return memstore.NewSync(), nil, nil
	case config.StoreBolt:
		s, err := boltstore.Open(sc.Path, sc.Bucket)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case config.StoreDatastore:
		s, err := dsstore.OpenLevelDB(sc.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	default:
		return nil, nil, fmt.Errorf("unknown store type: %s", sc.Type)
	}
}

// Serve mounts and serves the filesystem at the given mountPoint.
func (k *KvFs) Serve(mountPoint string) error {
	if k.server != nil {
		return errors.New("filesystem already mounted")
	}
	opts := k.cfg.MountOptions
	slogger := util.NewLogLogger("FuseServer", util.DebugLevel)
	srv, err := fs.Mount(mountPoint, fusefs.NewRoot(k.FileSystem), &fs.Options{
		MountOptions: fuse.MountOptions{
			Name:   opts.Name,
			FsName: opts.FsName,
			Debug:  opts.Debug || k.cfg.LogLvl == util.TraceLevel,
			Logger: slogger,
		},
		Logger: slogger,
	})
	if err != nil {
		return err
	}
	k.server = srv
	logger := util.GetLogger("Server.Serve")
	logger.Info().Str("mountpoint", mountPoint).Msg("Filesystem mounted")
	return nil
}

func (k *KvFs) ServeAsync(mountPoint string) <-chan error {
	done := make(chan error, 1)

	go func() {
		done <- k.Serve(mountPoint)
		close(done)
	}()

	return done
}

// Wait blocks until the filesystem is unmounted.
func (k *KvFs) Wait() {
	if k.server != nil {
		k.server.Wait()
	}
}

// Unmount cleanly unmounts the filesystem.
func (k *KvFs) Unmount() error {
	if k.server == nil {
		return nil
	}
	err := k.server.Unmount()
	if err == nil {
		k.server = nil
	}
	return err
}

// Close unmounts if needed and releases the store.
func (k *KvFs) Close() error {
	err := k.Unmount()
	if k.closer != nil {
		err = multierr.Append(err, k.closer.Close())
		k.closer = nil
	}
	return err
}
