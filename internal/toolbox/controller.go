package toolbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/danmuck/toolbox/internal/fetch"
	"github.com/danmuck/toolbox/internal/logging"
	"github.com/danmuck/toolbox/internal/names"
	"github.com/danmuck/toolbox/internal/observability"
	"github.com/danmuck/toolbox/internal/sealed"
	"github.com/danmuck/toolbox/internal/settings"
	"github.com/danmuck/toolbox/internal/supervisor"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

var (
	ErrUnknownTool          = settings.ErrUnknownTool
	ErrMissingConfiguration = errors.New("toolbox: missing configuration")
)

// Timing holds the fixed delays of the lifecycle.
type Timing struct {
	// CleanupGrace is the wait between stop and deleting tool files.
	CleanupGrace time.Duration
	// PlaintextTTL bounds how long a plaintext config stays on disk.
	PlaintextTTL time.Duration
	// RestartDelay separates stop and start in a restart.
	RestartDelay time.Duration
}

func DefaultTiming() Timing {
	return Timing{
		CleanupGrace: time.Second,
		PlaintextTTL: 2 * time.Second,
		RestartDelay: 500 * time.Millisecond,
	}
}

// Options wires a Controller. Zero fields get production defaults rooted at
// DataDir.
type Options struct {
	DataDir    string
	Catalog    *Catalog
	Codec      *sealed.Codec
	Store      *settings.Store
	Names      *names.Registry
	Supervisor *supervisor.Supervisor
	Downloader *fetch.Downloader
	Platform   func() (fetch.Platform, error)
	NewID      func() string
	Timing     Timing
}

// Controller is the lifecycle entry point for every managed tool.
type Controller struct {
	dataDir  string
	binDir   string
	catalog  *Catalog
	codec    *sealed.Codec
	store    *settings.Store
	names    *names.Registry
	sup      *supervisor.Supervisor
	dl       *fetch.Downloader
	platform func() (fetch.Platform, error)
	newID    func() string
	timing   Timing
	drivers  map[settings.ToolID]driver
	deferred *deferredQueue
	installs singleflight.Group
	log      zerolog.Logger
}

// New builds a controller, opening the config store and name registry under
// opts.DataDir when they are not supplied.
func New(opts Options) (*Controller, error) {
	if opts.DataDir == "" {
		return nil, fmt.Errorf("toolbox: data dir is required")
	}
	if opts.Codec == nil {
		opts.Codec = sealed.Default()
	}
	if opts.Catalog == nil {
		catalog, err := NewCatalog(DefaultDefinitions()...)
		if err != nil {
			return nil, err
		}
		opts.Catalog = catalog
	}
	if opts.Store == nil {
		store, err := settings.Open(filepath.Join(opts.DataDir, "config.json"), opts.Codec)
		if err != nil {
			return nil, err
		}
		opts.Store = store
	}
	if opts.Names == nil {
		opts.Names = names.Open(filepath.Join(opts.DataDir, "filemap.dat"), opts.Codec)
	}
	if opts.Supervisor == nil {
		opts.Supervisor = supervisor.New()
	}
	if opts.Downloader == nil {
		opts.Downloader = fetch.NewDownloader(nil)
	}
	if opts.Platform == nil {
		opts.Platform = fetch.DetectPlatform
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.Timing == (Timing{}) {
		opts.Timing = DefaultTiming()
	}

	log := logging.For("toolbox")
	return &Controller{
		dataDir:  opts.DataDir,
		binDir:   filepath.Join(opts.DataDir, "bin"),
		catalog:  opts.Catalog,
		codec:    opts.Codec,
		store:    opts.Store,
		names:    opts.Names,
		sup:      opts.Supervisor,
		dl:       opts.Downloader,
		platform: opts.Platform,
		newID:    opts.NewID,
		timing:   opts.Timing,
		drivers: map[settings.ToolID]driver{
			settings.Cloudflared: tunnelDriver{},
			settings.Nezha:       nezhaDriver{},
			settings.Komari:      komariDriver{},
		},
		deferred: newDeferredQueue(log),
		log:      log,
	}, nil
}

// Store exposes the configuration store for user-facing updates.
func (c *Controller) Store() *settings.Store {
	return c.store
}

// Catalog returns the tool definitions.
func (c *Controller) Catalog() *Catalog {
	return c.catalog
}

// Tool returns a handle bound to id.
func (c *Controller) Tool(id settings.ToolID) (*Tool, error) {
	if _, _, err := c.lookup(id); err != nil {
		return nil, err
	}
	return &Tool{id: id, c: c}, nil
}

func (c *Controller) lookup(id settings.ToolID) (Definition, driver, error) {
	def, ok := c.catalog.Get(id)
	drv, hasDriver := c.drivers[id]
	if !ok || !hasDriver {
		return Definition{}, nil, fmt.Errorf("%w: %q", ErrUnknownTool, id)
	}
	return def, drv, nil
}

func (c *Controller) observe(id settings.ToolID, op string, start time.Time, err error) {
	observability.RecordLifecycle(string(id), op, time.Since(start), err == nil)
	if err != nil {
		c.log.Error().Err(err).Str("tool", string(id)).Str("op", op).Msg("lifecycle operation failed")
		return
	}
	c.log.Debug().Str("tool", string(id)).Str("op", op).Dur("duration", time.Since(start)).Msg("lifecycle operation complete")
}

// Install downloads and unpacks the tool binary. Concurrent installs of one
// tool share a single download.
func (c *Controller) Install(ctx context.Context, id settings.ToolID) (err error) {
	start := time.Now()
	defer func() { c.observe(id, OpInstall, start, err) }()

	def, drv, err := c.lookup(id)
	if err != nil {
		return err
	}
	_, err, _ = c.installs.Do(string(id), func() (any, error) {
		return nil, c.install(ctx, def, drv)
	})
	return err
}

func (c *Controller) install(ctx context.Context, def Definition, drv driver) error {
	platform, err := c.platform()
	if err != nil {
		return err
	}
	src, err := drv.source(def, c.store.Snapshot())
	if err != nil {
		return err
	}
	url := src.Resolve(platform)
	binPath, err := c.resolve(binaryArtifact(def))
	if err != nil {
		return err
	}
	c.log.Info().Str("tool", string(def.ID)).Str("url", url).Str("platform", platform.String()).Msg("installing")

	switch src.Archive {
	case ArchiveRaw:
		if err := c.dl.Download(ctx, url, binPath); err != nil {
			return err
		}
	case ArchiveGzip, ArchiveZip:
		archive := archiveArtifact(def, src.Archive)
		archivePath, err := c.resolve(archive)
		if err != nil {
			return err
		}
		if err := c.dl.Download(ctx, url, archivePath); err != nil {
			return err
		}
		if src.Archive == ArchiveGzip {
			err = fetch.UnpackGzip(archivePath, binPath)
		} else {
			err = fetch.UnpackZipMember(archivePath, src.Member, binPath)
		}
		if err != nil {
			removeQuietly(archivePath)
			return err
		}
	default:
		return fmt.Errorf("%w: %s: archive kind %q", ErrInvalidDefinition, def.ID, src.Archive)
	}

	if err := os.Chmod(binPath, 0o755); err != nil {
		return fmt.Errorf("toolbox: chmod %s: %w", binPath, err)
	}
	c.log.Info().Str("tool", string(def.ID)).Msg("installed")
	return nil
}

// Start validates configuration, installs the binary when absent, renders
// the runtime config and spawns the tool.
func (c *Controller) Start(ctx context.Context, id settings.ToolID) (err error) {
	start := time.Now()
	defer func() { c.observe(id, OpStart, start, err) }()

	def, drv, err := c.lookup(id)
	if err != nil {
		return err
	}
	if c.deferred.Cancel(cleanupKey(id)) {
		defer func() {
			if err != nil {
				c.scheduleCleanup(def)
			}
		}()
	}

	doc := c.store.Snapshot()
	if err := drv.validate(doc); err != nil {
		return err
	}
	if c.sup.Running(string(id)) {
		c.log.Warn().Str("tool", string(id)).Msg("already running")
		return nil
	}

	binPath, err := c.resolve(binaryArtifact(def))
	if err != nil {
		return err
	}
	if !fileExists(binPath) {
		c.log.Info().Str("tool", string(id)).Msg("binary missing, installing first")
		if err := c.Install(ctx, id); err != nil {
			return err
		}
	}

	l, err := drv.prepare(c, def, doc)
	if err != nil {
		return err
	}
	if l.plaintext != "" {
		plain := l.plaintext
		c.deferred.Schedule(plaintextKey(id), c.timing.PlaintextTTL, func() error {
			return os.Remove(plain)
		})
	}

	toolLog := logging.For(string(id))
	onLine := l.onLine
	return c.sup.Spawn(supervisor.Spec{
		ID:     string(id),
		Binary: binPath,
		Args:   l.args,
		Env:    l.env,
		OnLine: func(line string) {
			toolLog.Debug().Msg(line)
			if onLine != nil {
				onLine(line)
			}
		},
	})
}

// Stop terminates the tool and, after the grace delay, deletes its binary
// and runtime config files.
func (c *Controller) Stop(id settings.ToolID) (err error) {
	start := time.Now()
	defer func() { c.observe(id, OpStop, start, err) }()

	def, _, err := c.lookup(id)
	if err != nil {
		return err
	}
	c.stop(def)
	return nil
}

func (c *Controller) stop(def Definition) {
	if c.sup.Stop(string(def.ID)) {
		c.log.Info().Str("tool", string(def.ID)).Msg("stop requested")
	}
	c.scheduleCleanup(def)
}

// scheduleCleanup removes the binary and runtime config after the grace delay.
func (c *Controller) scheduleCleanup(def Definition) {
	paths := c.existingPaths(binaryArtifact(def), configArtifact(def), plaintextArtifact(def))
	if len(paths) == 0 {
		return
	}
	c.deferred.Schedule(cleanupKey(def.ID), c.timing.CleanupGrace, func() error {
		return removeAll(paths)
	})
}

// Restart stops the tool, waits the restart delay, and starts it again.
func (c *Controller) Restart(ctx context.Context, id settings.ToolID) (err error) {
	start := time.Now()
	defer func() { c.observe(id, OpRestart, start, err) }()

	def, _, err := c.lookup(id)
	if err != nil {
		return err
	}
	c.stop(def)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.timing.RestartDelay):
	}
	return c.Start(ctx, id)
}

// Uninstall stops the tool and removes its binary immediately.
func (c *Controller) Uninstall(id settings.ToolID) (err error) {
	start := time.Now()
	defer func() { c.observe(id, OpUninstall, start, err) }()

	def, _, err := c.lookup(id)
	if err != nil {
		return err
	}
	c.stop(def)
	return removeAll(c.existingPaths(binaryArtifact(def), configArtifact(def)))
}

// Delete stops the tool, forgets every file name it owns, and resets its
// configuration to factory defaults.
func (c *Controller) Delete(id settings.ToolID) (err error) {
	start := time.Now()
	defer func() { c.observe(id, OpDelete, start, err) }()

	def, _, err := c.lookup(id)
	if err != nil {
		return err
	}
	c.stop(def)

	var errs []error
	for _, a := range ownedArtifacts(def) {
		if err := c.names.Clear(a.kind, a.logical); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.store.Reset(id); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	c.log.Info().Str("tool", string(id)).Msg("deleted")
	return nil
}

// Status reports whether the binary exists and whether a process is live.
// It never creates files or registry entries.
func (c *Controller) Status(id settings.ToolID) (Status, error) {
	def, _, err := c.lookup(id)
	if err != nil {
		return Status{}, err
	}
	installed := false
	if paths := c.existingPaths(binaryArtifact(def)); len(paths) == 1 {
		installed = fileExists(paths[0])
	}
	return Status{Installed: installed, Running: c.sup.Running(string(id))}, nil
}

// StatusAll reports every tool in id order.
func (c *Controller) StatusAll() []ToolStatus {
	doc := c.store.Snapshot()
	defs := c.catalog.List()
	out := make([]ToolStatus, 0, len(defs))
	for _, def := range defs {
		st, err := c.Status(def.ID)
		if err != nil {
			continue
		}
		common, _ := doc.Common(def.ID)
		out = append(out, ToolStatus{
			ID:        def.ID,
			Name:      def.Name,
			Status:    st,
			Enabled:   common.Enabled,
			AutoStart: common.AutoStart,
		})
	}
	return out
}

// AutoStart starts every enabled tool flagged for automatic start. Failures
// are logged and do not stop the remaining tools.
func (c *Controller) AutoStart(ctx context.Context) {
	doc := c.store.Snapshot()
	for _, id := range settings.AllTools() {
		common, _ := doc.Common(id)
		if !common.Enabled || !common.AutoStart {
			continue
		}
		if err := c.Start(ctx, id); err != nil {
			c.log.Error().Err(err).Str("tool", string(id)).Msg("auto start failed")
		}
	}
}

// Shutdown terminates all supervised processes and runs pending cleanup now.
func (c *Controller) Shutdown() {
	c.sup.StopAll()
	c.deferred.Flush()
}

func cleanupKey(id settings.ToolID) string {
	return "cleanup:" + string(id)
}

func plaintextKey(id settings.ToolID) string {
	return "plaintext:" + string(id)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func removeAll(paths []string) error {
	var errs []error
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func removeQuietly(path string) {
	_ = os.Remove(path)
}
