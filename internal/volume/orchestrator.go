// Package volume drives the external encryption tool. It owns the registry
// of in-flight operations and the table of volumes it has mounted, and it
// reports every lifecycle transition on an events.Sink.
package volume

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nace/volcrypt/internal/events"
	"github.com/nace/volcrypt/internal/platform"
	"github.com/nace/volcrypt/internal/system"
)

// ToolResolver yields the path of a working tool binary.
type ToolResolver interface {
	Require() (string, error)
}

// Recorder receives operation metrics. *metrics.Metrics satisfies it.
type Recorder interface {
	OperationStarted(kind string)
	OperationSettled(kind, status string, duration time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) OperationStarted(string)                        {}
func (nopRecorder) OperationSettled(string, string, time.Duration) {}

// RetryConfig bounds the busy retry of non-forced unmounts.
type RetryConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryConfig retries a busy unmount three times.
var DefaultRetryConfig = RetryConfig{
	MaxRetries:      3,
	InitialInterval: 500 * time.Millisecond,
	MaxInterval:     4 * time.Second,
}

// Config wires an Orchestrator to its collaborators.
type Config struct {
	Platform platform.Platform
	Tool     ToolResolver
	Runner   system.Runner
	Sink     events.Sink
	Log      system.Log
	Metrics  Recorder

	// TempDir holds entropy files; defaults to os.TempDir()
	TempDir  string
	Defaults Defaults
	Retry    RetryConfig

	// OnStateChange runs after a mount or unmount succeeds, typically to
	// invalidate the disk cache
	OnStateChange func()

	Now   func() time.Time
	NewID func() string
}

// Result is what every operation call resolves to. Failures never escape as
// panics or bare errors; Err carries the cause for errors.Is checks.
type Result struct {
	Success     bool   `json:"success"`
	OperationID string `json:"operationId,omitempty"`
	Message     string `json:"message"`
	MountTarget string `json:"mountTarget,omitempty"`
	Err         error  `json:"-"`
}

// Orchestrator runs create, mount, unmount and decrypt requests. Any number
// of operations may be in flight at once.
type Orchestrator struct {
	platform      platform.Platform
	tool          ToolResolver
	runner        system.Runner
	sink          events.Sink
	log           system.Log
	metrics       Recorder
	tempDir       string
	defaults      Defaults
	retry         RetryConfig
	onStateChange func()
	now           func() time.Time
	newID         func() string

	registry *registry
	mounts   *mountTable

	// allocMu makes choosing and claiming a target one step
	allocMu sync.Mutex

	tempMu    sync.Mutex
	tempFiles map[string]bool
}

// New creates an orchestrator. Platform, Tool and Runner are required.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Platform == nil || cfg.Tool == nil || cfg.Runner == nil {
		return nil, errors.New("volume: platform, tool and runner are required")
	}

	o := &Orchestrator{
		platform:      cfg.Platform,
		tool:          cfg.Tool,
		runner:        cfg.Runner,
		sink:          cfg.Sink,
		log:           cfg.Log,
		metrics:       cfg.Metrics,
		tempDir:       cfg.TempDir,
		defaults:      cfg.Defaults,
		retry:         cfg.Retry,
		onStateChange: cfg.OnStateChange,
		now:           cfg.Now,
		newID:         cfg.NewID,
		registry:      newRegistry(),
		mounts:        newMountTable(),
		tempFiles:     make(map[string]bool),
	}
	if o.sink == nil {
		o.sink = events.Discard
	}
	if o.log == nil {
		o.log = system.NopLog
	}
	if o.metrics == nil {
		o.metrics = nopRecorder{}
	}
	if o.tempDir == "" {
		o.tempDir = os.TempDir()
	}
	o.defaults.Algorithm = orDefault(o.defaults.Algorithm, DefaultDefaults.Algorithm)
	o.defaults.Hash = orDefault(o.defaults.Hash, DefaultDefaults.Hash)
	o.defaults.Filesystem = orDefault(o.defaults.Filesystem, DefaultDefaults.Filesystem)
	if o.retry == (RetryConfig{}) {
		o.retry = DefaultRetryConfig
	}
	if o.onStateChange == nil {
		o.onStateChange = func() {}
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.newID == nil {
		o.newID = newOperationID
	}
	return o, nil
}

// newOperationID returns a time-ordered UUID.
func newOperationID() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}

// CreateVolume formats params.DevicePath as a new encrypted volume.
func (o *Orchestrator) CreateVolume(ctx context.Context, p CreateParams) Result {
	op := o.begin(events.Encryption, p.DevicePath, map[string]string{
		"algorithm":  p.Algorithm,
		"hash":       p.Hash,
		"filesystem": p.Filesystem,
		"size":       p.Size,
		"keyFile":    p.KeyFile,
		"quick":      strconv.FormatBool(p.Quick),
		"hidden":     strconv.FormatBool(p.Hidden),
	})
	defer o.finish(op)
	defer p.Password.Zeroize()

	spec, err := p.validate(o.defaults, o.log)
	if err != nil {
		return o.fail(op, err)
	}
	tool, err := o.tool.Require()
	if err != nil {
		return o.fail(op, err)
	}

	entropy, err := o.writeEntropy()
	if err != nil {
		return o.fail(op, err)
	}
	op.guard.Add("remove entropy file", func() error {
		o.releaseTemp(entropy)
		return os.Remove(entropy)
	})

	return o.invoke(ctx, op, invocation{
		tool:     tool,
		args:     createArgs(spec, entropy),
		password: p.Password,
		onSuccess: func() string {
			return fmt.Sprintf("Created encrypted volume on %s", spec.device)
		},
	})
}

// MountVolume mounts an encrypted volume, allocating a target when the
// caller names none. The resolved target is returned in Result.MountTarget.
func (o *Orchestrator) MountVolume(ctx context.Context, p MountParams) Result {
	op := o.begin(events.Mount, p.DevicePath, map[string]string{
		"target":   p.Target,
		"keyFile":  p.KeyFile,
		"readOnly": strconv.FormatBool(p.ReadOnly),
	})
	defer o.finish(op)
	defer p.Password.Zeroize()

	spec, err := p.validate(o.log)
	if err != nil {
		return o.fail(op, err)
	}
	tool, err := o.tool.Require()
	if err != nil {
		return o.fail(op, err)
	}
	if err := o.mounts.reserve(spec.device); err != nil {
		return o.fail(op, err)
	}
	op.guard.Add("release reservation", func() error {
		o.mounts.release(spec.device)
		return nil
	})

	target, synthesized, err := o.claimTarget(ctx, spec)
	if err != nil {
		return o.fail(op, err)
	}

	committed := false
	if synthesized {
		op.guard.Add("remove mount point", func() error {
			if committed {
				return nil
			}
			return os.Remove(target.Path)
		})
	}

	res := o.invoke(ctx, op, invocation{
		tool:     tool,
		args:     mountArgs(spec, target),
		password: p.Password,
		onSuccess: func() string {
			o.mounts.commit(MountedVolume{
				DevicePath: spec.device,
				Target:     target,
				MountedAt:  o.now(),
				ReadOnly:   spec.readOnly,
				scratch:    synthesized,
			})
			committed = true
			o.onStateChange()
			return fmt.Sprintf("Mounted %s at %s", spec.device, target)
		},
	})
	if res.Success {
		res.MountTarget = target.String()
	}
	return res
}

// claimTarget resolves the mount target for a reserved device and claims
// it. Slots held by other mounts, including ones still in flight, are never
// handed out twice.
func (o *Orchestrator) claimTarget(ctx context.Context, spec mountSpec) (platform.MountTarget, bool, error) {
	o.allocMu.Lock()
	defer o.allocMu.Unlock()

	target := spec.target
	synthesized := false
	if target.IsZero() {
		var err error
		if target, err = o.platform.AllocateMountTarget(ctx, o.mounts.slots()); err != nil {
			return target, false, fmt.Errorf("failed to allocate mount target: %w", err)
		}
		synthesized = target.Path != ""
	}

	if err := o.mounts.claim(spec.device, target); err != nil {
		if synthesized {
			_ = os.Remove(target.Path)
		}
		return platform.MountTarget{}, false, err
	}
	return target, synthesized, nil
}

// UnmountVolume dismounts by MountID when given, otherwise by DevicePath.
func (o *Orchestrator) UnmountVolume(ctx context.Context, p UnmountParams) Result {
	device := strings.TrimSpace(p.DevicePath)
	mountID := strings.TrimSpace(p.MountID)

	var (
		entry MountedVolume
		found bool
		arg   string
	)
	switch {
	case mountID != "":
		entry, found = o.mounts.findByTarget(mountID)
		arg = ParseMountTarget(mountID).String()
	case device != "":
		entry, found = o.mounts.get(device)
		arg = device
	}
	if found {
		device = entry.DevicePath
		arg = entry.Target.String()
	}

	op := o.begin(events.Unmount, device, map[string]string{
		"mountId": mountID,
		"force":   strconv.FormatBool(p.Force),
	})
	defer o.finish(op)

	if arg == "" {
		return o.fail(op, system.NewValidationError("devicePath", "a device path or mount id is required"))
	}
	tool, err := o.tool.Require()
	if err != nil {
		return o.fail(op, err)
	}

	inv := invocation{
		tool: tool,
		args: unmountArgs(arg, p.Force),
		onSuccess: func() string {
			if found {
				o.mounts.remove(entry.DevicePath)
				if entry.scratch {
					if err := os.Remove(entry.Target.Path); err != nil {
						o.log.Debug("Mount point %s left in place: %v", entry.Target.Path, err)
					}
				}
			}
			o.onStateChange()
			return fmt.Sprintf("Dismounted %s", arg)
		},
	}
	if !p.Force {
		inv.retryable = isBusy
	}
	return o.invoke(ctx, op, inv)
}

// DecryptVolume always fails. The tool has no in-place decryption, and
// emulating one by copying data off, reformatting and copying back is not
// crash safe, so nothing is spawned.
func (o *Orchestrator) DecryptVolume(_ context.Context, p DecryptParams) Result {
	op := o.begin(events.Decryption, p.DevicePath, nil)
	defer o.finish(op)
	p.Password.Zeroize()

	return o.fail(op, fmt.Errorf("%w: in-place decryption is not available; copy the data off the volume and reformat it instead", system.ErrUnsupported))
}

// CancelOperation terminates a running operation. It returns false, and
// emits nothing, if id is unknown, has no live process or already settled.
func (o *Orchestrator) CancelOperation(id string) bool {
	op, ok := o.registry.get(id)
	if !ok {
		return false
	}
	proc := op.liveProcess()
	if proc == nil || !op.settle() {
		return false
	}
	op.cancelled.Store(true)
	op.abort()
	o.registry.remove(id)

	if err := proc.Terminate(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		o.log.Warning("Failed to terminate %s operation %s: %v", op.kind, id, err)
	}
	o.log.Info("Cancelled %s operation %s", op.kind, id)
	o.emit(op, events.Cancelled, 0, "Operation cancelled")
	o.metrics.OperationSettled(string(op.kind), string(events.Cancelled), o.now().Sub(op.startedAt))
	return true
}

// CancelAll cancels every registered operation and returns how many were
// cancelled.
func (o *Orchestrator) CancelAll() int {
	n := 0
	for _, info := range o.registry.snapshot() {
		if o.CancelOperation(info.ID) {
			n++
		}
	}
	return n
}

// Operations lists in-flight operations, oldest first.
func (o *Orchestrator) Operations() []OperationInfo {
	return o.registry.snapshot()
}

// MountedVolumes lists volumes mounted by this orchestrator.
func (o *Orchestrator) MountedVolumes() []MountedVolume {
	return o.mounts.list()
}

// Mounted returns the entry for device, if this orchestrator mounted it.
func (o *Orchestrator) Mounted(device string) (MountedVolume, bool) {
	return o.mounts.get(device)
}

// begin allocates an operation id and announces it. The record is not
// registered until its process has been spawned.
func (o *Orchestrator) begin(kind events.OperationType, device string, params map[string]string) *operation {
	for k, v := range params {
		if v == "" {
			delete(params, k)
		}
	}
	op := newOperation(o.newID(), kind, strings.TrimSpace(device), o.now(), params)
	o.metrics.OperationStarted(string(kind))
	o.log.Debug("Starting %s operation %s on %q", kind, op.id, op.device)
	o.emit(op, events.Initializing, 0, fmt.Sprintf("Preparing %s", kind))
	return op
}

// finish runs the operation's guard. It is deferred by every operation so
// the registry entry and temporary resources go away on every return path.
func (o *Orchestrator) finish(op *operation) {
	if err := op.guard.Execute(); err != nil {
		o.log.Warning("Cleanup after %s operation %s: %v", op.kind, op.id, err)
	}
}

// fail settles op as Failed with err.
func (o *Orchestrator) fail(op *operation, err error) Result {
	if op.settle() {
		o.reportFailure(op, err)
	}
	return Result{Success: false, OperationID: op.id, Message: failureMessage(err), Err: err}
}

// reportFailure emits the Failed event for an operation already settled by
// the caller.
func (o *Orchestrator) reportFailure(op *operation, err error) {
	if expected(err) {
		o.log.Debug("%s operation %s rejected: %v", op.kind, op.id, err)
	} else {
		o.log.Error("%s operation %s failed: %v", op.kind, op.id, err)
	}
	o.emit(op, events.Failed, 0, failureMessage(err))
	o.metrics.OperationSettled(string(op.kind), string(events.Failed), o.now().Sub(op.startedAt))
}

func (o *Orchestrator) emit(op *operation, status events.Status, progress float64, msg string) {
	o.sink.Publish(events.StatusUpdate{
		Type:        op.kind,
		Status:      status,
		Progress:    progress,
		Message:     msg,
		TargetDisk:  op.device,
		OperationID: op.id,
	})
}

// expected reports failures that are part of normal use rather than faults.
func expected(err error) bool {
	return errors.Is(err, system.ErrValidation) ||
		errors.Is(err, system.ErrToolNotFound) ||
		errors.Is(err, system.ErrUnsupported)
}

func failureMessage(err error) string {
	var exitErr *system.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Message()
	}
	return err.Error()
}

// isBusy matches the tool's complaint about open files on the volume.
func isBusy(err error) bool {
	var exitErr *system.ExitError
	if !errors.As(err, &exitErr) {
		return false
	}
	msg := strings.ToLower(exitErr.Stderr)
	return strings.Contains(msg, "busy") || strings.Contains(msg, "in use")
}

// entropyPattern names the random-source files handed to the tool.
const entropyPattern = "volcrypt-entropy-*.bin"

// entropySize is the number of random bytes the tool reads as extra entropy.
const entropySize = 320

func (o *Orchestrator) writeEntropy() (string, error) {
	f, err := os.CreateTemp(o.tempDir, entropyPattern)
	if err != nil {
		return "", fmt.Errorf("failed to create entropy file: %w", err)
	}
	name := f.Name()
	o.holdTemp(name)

	buf := make([]byte, entropySize)
	defer clear(buf)
	if _, err := rand.Read(buf); err != nil {
		f.Close()
		os.Remove(name)
		o.releaseTemp(name)
		return "", fmt.Errorf("failed to gather entropy: %w", err)
	}
	if _, err := f.Write(buf); err != nil {
		f.Close()
		os.Remove(name)
		o.releaseTemp(name)
		return "", fmt.Errorf("failed to write entropy file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(name)
		o.releaseTemp(name)
		return "", fmt.Errorf("failed to write entropy file: %w", err)
	}
	return filepath.Clean(name), nil
}

func (o *Orchestrator) holdTemp(name string) {
	o.tempMu.Lock()
	defer o.tempMu.Unlock()
	o.tempFiles[filepath.Clean(name)] = true
}

func (o *Orchestrator) releaseTemp(name string) {
	o.tempMu.Lock()
	defer o.tempMu.Unlock()
	delete(o.tempFiles, filepath.Clean(name))
}

func (o *Orchestrator) tempInUse(name string) bool {
	o.tempMu.Lock()
	defer o.tempMu.Unlock()
	return o.tempFiles[filepath.Clean(name)]
}
