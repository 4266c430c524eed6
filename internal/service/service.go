// Package service assembles the disk enumerator, tool locator and volume
// orchestrator behind the API the presentation layer calls.
package service

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	"github.com/nace/volcrypt/internal/config"
	"github.com/nace/volcrypt/internal/disk"
	"github.com/nace/volcrypt/internal/events"
	"github.com/nace/volcrypt/internal/metrics"
	"github.com/nace/volcrypt/internal/platform"
	"github.com/nace/volcrypt/internal/system"
	"github.com/nace/volcrypt/internal/tool"
	"github.com/nace/volcrypt/internal/volume"
)

// Options configures New. Runner is required.
type Options struct {
	Config config.Config
	Runner system.Runner
	Log    system.Log

	// GOOS selects the platform; defaults to runtime.GOOS
	GOOS string

	// Platform replaces the GOOS selection when set
	Platform platform.Platform
}

// Service is the upward API surface.
type Service struct {
	platform platform.Platform
	tool     *tool.Locator
	disks    *disk.Enumerator
	volumes  *volume.Orchestrator
	metrics  *metrics.Metrics
	bus      *events.Bus
	log      system.Log
}

// New wires every component from opts.
func New(opts Options) (*Service, error) {
	if opts.Runner == nil {
		return nil, fmt.Errorf("service: runner is required")
	}
	if opts.Log == nil {
		opts.Log = system.NopLog
	}
	if opts.GOOS == "" {
		opts.GOOS = runtime.GOOS
	}
	cfg := opts.Config

	plat := opts.Platform
	if plat == nil {
		var err error
		plat, err = platform.New(opts.GOOS, platform.Options{
			Runner:      opts.Runner,
			Log:         opts.Log,
			ScratchRoot: cfg.Mount.ScratchRoot,
		})
		if err != nil {
			return nil, err
		}
	}

	s := &Service{
		platform: plat,
		metrics:  metrics.New(),
		bus:      events.NewBus(),
		log:      opts.Log,
	}

	var toolOpts []tool.Option
	if cfg.Tool.Path != "" {
		toolOpts = append(toolOpts, tool.WithOverride(cfg.Tool.Path))
	}
	if cfg.Tool.VersionTimeout > 0 {
		toolOpts = append(toolOpts, tool.WithTimeout(cfg.Tool.VersionTimeout))
	}
	s.tool = tool.NewLocator(plat, opts.Runner, s.bus, opts.Log, toolOpts...)

	diskOpts := []disk.Option{disk.WithRecorder(s.metrics)}
	if cfg.Discovery.CacheTTL > 0 {
		diskOpts = append(diskOpts, disk.WithTTL(cfg.Discovery.CacheTTL))
	}
	if cfg.Discovery.Timeout > 0 {
		diskOpts = append(diskOpts, disk.WithTimeout(cfg.Discovery.Timeout))
	}
	s.disks = disk.NewEnumerator(plat, opts.Log, diskOpts...)

	vols, err := volume.New(volume.Config{
		Platform: plat,
		Tool:     s.tool,
		Runner:   opts.Runner,
		Sink:     s.bus,
		Log:      opts.Log,
		Metrics:  s.metrics,
		TempDir:  cfg.TempDir,
		Defaults: volume.Defaults{
			Algorithm:  cfg.Create.Algorithm,
			Hash:       cfg.Create.Hash,
			Filesystem: cfg.Create.Filesystem,
		},
		OnStateChange: s.disks.Invalidate,
	})
	if err != nil {
		return nil, err
	}
	s.volumes = vols

	return s, nil
}

// Init locates the tool. Call once at startup.
func (s *Service) Init(ctx context.Context) bool {
	return s.tool.CheckInstallation(ctx)
}

// Subscribe registers fn for every status-update and tool-status event.
func (s *Service) Subscribe(fn func(events.Event)) (unsubscribe func()) {
	return s.bus.Subscribe(fn)
}

// Metrics exposes the collectors for the metrics endpoint.
func (s *Service) Metrics() *metrics.Metrics {
	return s.metrics
}

// Platform returns the active platform.
func (s *Service) Platform() platform.Platform {
	return s.platform
}

// ListDisks returns the current snapshot. An empty list means discovery
// failed or found nothing; it is not proof that no disks exist.
func (s *Service) ListDisks(ctx context.Context, forceRefresh bool) []disk.Disk {
	disks := s.disks.List(ctx, forceRefresh)
	for i := range disks {
		disks[i] = s.overlay(disks[i])
	}
	return disks
}

// GetDiskDetails looks one disk up by device path, identifier or mount point.
func (s *Service) GetDiskDetails(ctx context.Context, ref string) (disk.Disk, error) {
	d, err := s.disks.Details(ctx, ref)
	if err != nil {
		return d, err
	}
	return s.overlay(d), nil
}

// overlay marks volumes this process mounted as encrypted. Discovery sees
// them as plain filesystems.
func (s *Service) overlay(d disk.Disk) disk.Disk {
	for _, mv := range s.volumes.MountedVolumes() {
		t := mv.Target
		if (t.Slot != "" && strings.EqualFold(strings.TrimSuffix(d.ID, ":"), t.Slot)) ||
			(t.Path != "" && d.MountPoint == t.Path) {
			d.Encryption = disk.Encrypted
			d.Mounted = true
		}
	}
	return d
}

// CheckToolInstallation verifies the tool is present and runs.
func (s *Service) CheckToolInstallation(ctx context.Context) bool {
	return s.tool.CheckInstallation(ctx)
}

// GetToolVersion asks the tool for its version.
func (s *Service) GetToolVersion(ctx context.Context) (string, error) {
	return s.tool.Version(ctx)
}

// ToolState returns the cached installation state.
func (s *Service) ToolState() tool.State {
	return s.tool.State()
}

func (s *Service) CreateVolume(ctx context.Context, p volume.CreateParams) volume.Result {
	return s.volumes.CreateVolume(ctx, p)
}

func (s *Service) MountVolume(ctx context.Context, p volume.MountParams) volume.Result {
	return s.volumes.MountVolume(ctx, p)
}

func (s *Service) UnmountVolume(ctx context.Context, p volume.UnmountParams) volume.Result {
	return s.volumes.UnmountVolume(ctx, p)
}

func (s *Service) DecryptVolume(ctx context.Context, p volume.DecryptParams) volume.Result {
	return s.volumes.DecryptVolume(ctx, p)
}

// CancelOperation reports whether a running operation was cancelled.
func (s *Service) CancelOperation(id string) bool {
	return s.volumes.CancelOperation(id)
}

// CancelAll cancels every running operation.
func (s *Service) CancelAll() int {
	return s.volumes.CancelAll()
}

// Operations lists in-flight operations.
func (s *Service) Operations() []volume.OperationInfo {
	return s.volumes.Operations()
}

// MountedVolumes lists volumes mounted by this process.
func (s *Service) MountedVolumes() []volume.MountedVolume {
	return s.volumes.MountedVolumes()
}

// CleanupTempFiles removes leftovers from interrupted runs.
func (s *Service) CleanupTempFiles(ctx context.Context) (int, error) {
	return s.volumes.CleanupTempFiles(ctx)
}
