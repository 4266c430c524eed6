package volume

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nace/volcrypt/internal/disk"
	"github.com/nace/volcrypt/internal/events"
	"github.com/nace/volcrypt/internal/platform"
	"github.com/nace/volcrypt/internal/system"
	"github.com/nace/volcrypt/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const toolPath = "/usr/bin/veracrypt"

type fakePlatform struct {
	target      platform.MountTarget
	allocErr    error
	scratchRoot string
	allocated   int
	mu          sync.Mutex

	// letters hands out the first letter not excluded
	letters  bool
	excluded [][]string
}

func (p *fakePlatform) Name() string                                   { return "test" }
func (p *fakePlatform) Enumerate(context.Context) ([]disk.Disk, error) { return nil, nil }
func (p *fakePlatform) ToolInstallPaths() []string                     { return []string{toolPath} }
func (p *fakePlatform) ToolCommand() string                            { return "veracrypt" }
func (p *fakePlatform) ScratchRoot() string                            { return p.scratchRoot }

func (p *fakePlatform) AllocateMountTarget(_ context.Context, exclude []string) (platform.MountTarget, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allocated++
	p.excluded = append(p.excluded, exclude)
	if p.allocErr != nil {
		return platform.MountTarget{}, p.allocErr
	}
	if p.letters {
		letter, _ := platform.FirstFreeLetter(exclude)
		return platform.MountTarget{Slot: letter}, nil
	}
	if !p.target.IsZero() {
		return p.target, nil
	}
	dir, err := os.MkdirTemp(p.scratchRoot, platform.ScratchPrefix)
	if err != nil {
		return platform.MountTarget{}, err
	}
	return platform.MountTarget{Path: dir}, nil
}

type fakeTool struct {
	err error
}

func (t fakeTool) Require() (string, error) {
	if t.err != nil {
		return "", t.err
	}
	return toolPath, nil
}

type fakeMetrics struct {
	mu      sync.Mutex
	started map[string]int
	settled map[string]int
}

func (m *fakeMetrics) OperationStarted(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started[kind]++
}

func (m *fakeMetrics) OperationSettled(kind, status string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settled[kind+"/"+status]++
}

type harness struct {
	orch     *Orchestrator
	runner   *testutil.FakeRunner
	platform *fakePlatform
	events   *events.Recorder
	metrics  *fakeMetrics
	tempDir  string
	changes  int
}

func newHarness(t *testing.T, tool ToolResolver) *harness {
	t.Helper()

	h := &harness{
		runner:   testutil.NewFakeRunner(),
		platform: &fakePlatform{scratchRoot: t.TempDir()},
		events:   &events.Recorder{},
		metrics:  &fakeMetrics{started: map[string]int{}, settled: map[string]int{}},
		tempDir:  t.TempDir(),
	}
	if tool == nil {
		tool = fakeTool{}
	}

	orch, err := New(Config{
		Platform:      h.platform,
		Tool:          tool,
		Runner:        h.runner,
		Sink:          h.events,
		Metrics:       h.metrics,
		TempDir:       h.tempDir,
		Retry:         RetryConfig{MaxRetries: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond},
		OnStateChange: func() { h.changes++ },
	})
	require.NoError(t, err)
	h.orch = orch
	return h
}

func statuses(updates []events.StatusUpdate) []events.Status {
	out := make([]events.Status, 0, len(updates))
	for _, u := range updates {
		out = append(out, u.Status)
	}
	return out
}

func terminalCount(updates []events.StatusUpdate) int {
	n := 0
	for _, u := range updates {
		if u.Status.Terminal() {
			n++
		}
	}
	return n
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestCreateVolumeReportsProgress(t *testing.T) {
	h := newHarness(t, nil)
	h.runner.QueueScript(testutil.Script{Lines: []string{"42%"}})

	res := h.orch.CreateVolume(context.Background(), CreateParams{
		DevicePath: "D:",
		Password:   system.SecureString("x"),
		Algorithm:  "AES",
	})

	require.True(t, res.Success, res.Message)
	require.NotEmpty(t, res.OperationID)
	assert.NoError(t, res.Err)
	assert.Empty(t, h.orch.Operations())

	updates := h.events.StatusUpdates(res.OperationID)
	assert.Equal(t, []events.Status{
		events.Initializing, events.Processing, events.Processing, events.Completed,
	}, statuses(updates))
	assert.Equal(t, 42.0, updates[2].Progress)
	assert.Equal(t, 100.0, updates[3].Progress)
	for _, u := range updates {
		assert.Equal(t, events.Encryption, u.Type)
		assert.Equal(t, "D:", u.TargetDisk)
	}

	procs := h.runner.Started()
	require.Len(t, procs, 1)
	assert.Equal(t, "x\n", procs[0].Input().String())
	assert.True(t, procs[0].Input().Closed())

	calls := h.runner.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, toolPath, calls[0].Name)
	args := calls[0].Args
	assert.Equal(t, []string{"--create", "D:", "--volume-type=normal", "--encryption=AES", "--hash=SHA-512", "--filesystem=FAT"}, args[:6])
	assert.True(t, strings.HasPrefix(args[6], "--random-source="))
	assert.Equal(t, "--non-interactive", args[len(args)-1])
	assert.NotContains(t, strings.Join(args, " "), " x ")

	entropy := strings.TrimPrefix(args[6], "--random-source=")
	assert.NoFileExists(t, entropy)

	assert.Equal(t, 1, h.metrics.started["encryption"])
	assert.Equal(t, 1, h.metrics.settled["encryption/completed"])
}

func TestCreateVolumeBuildsOptionalArgs(t *testing.T) {
	h := newHarness(t, nil)

	res := h.orch.CreateVolume(context.Background(), CreateParams{
		DevicePath: "/tmp/container.hc",
		Password:   system.SecureString("secret"),
		Algorithm:  "serpent",
		Hash:       "whirlpool",
		Filesystem: "ext4",
		Size:       "10M",
		Quick:      true,
		Hidden:     true,
	})
	require.True(t, res.Success, res.Message)

	args := h.runner.Calls()[0].Args
	assert.Contains(t, args, "--volume-type=hidden")
	assert.Contains(t, args, "--encryption=Serpent")
	assert.Contains(t, args, "--hash=Whirlpool")
	assert.Contains(t, args, "--filesystem=ext4")
	assert.Contains(t, args, "--size=10485760")
	assert.Contains(t, args, "--quick")
}

func TestCreateVolumeProcessFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.runner.QueueScript(testutil.Script{
		Lines: []string{"10%"},
		Err:   &system.ExitError{Command: toolPath, Code: 1, Stderr: "Error: Incorrect password"},
	})

	res := h.orch.CreateVolume(context.Background(), CreateParams{DevicePath: "D:", Password: system.SecureString("x")})

	assert.False(t, res.Success)
	assert.Equal(t, "Error: Incorrect password", res.Message)
	assert.ErrorIs(t, res.Err, system.ErrProcessExit)
	assert.Empty(t, h.orch.Operations())

	updates := h.events.StatusUpdates(res.OperationID)
	require.NotEmpty(t, updates)
	last := updates[len(updates)-1]
	assert.Equal(t, events.Failed, last.Status)
	assert.Equal(t, "Error: Incorrect password", last.Message)
	assert.Equal(t, 1, terminalCount(updates))
	assert.Equal(t, 1, h.metrics.settled["encryption/failed"])
}

func TestCreateVolumeRejectsBeforeSpawn(t *testing.T) {
	tests := []struct {
		name   string
		tool   ToolResolver
		params CreateParams
		want   error
	}{
		{
			name:   "missing device",
			params: CreateParams{Password: system.SecureString("x")},
			want:   system.ErrValidation,
		},
		{
			name:   "missing password",
			params: CreateParams{DevicePath: "D:"},
			want:   system.ErrValidation,
		},
		{
			name:   "unknown algorithm",
			params: CreateParams{DevicePath: "D:", Password: system.SecureString("x"), Algorithm: "ROT13"},
			want:   system.ErrValidation,
		},
		{
			name:   "bad size",
			params: CreateParams{DevicePath: "D:", Password: system.SecureString("x"), Size: "lots"},
			want:   system.ErrValidation,
		},
		{
			name:   "tool not installed",
			tool:   fakeTool{err: system.ErrToolNotFound},
			params: CreateParams{DevicePath: "D:", Password: system.SecureString("x")},
			want:   system.ErrToolNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.tool)

			res := h.orch.CreateVolume(context.Background(), tt.params)

			assert.False(t, res.Success)
			assert.ErrorIs(t, res.Err, tt.want)
			assert.NotEmpty(t, res.Message)
			assert.Empty(t, h.runner.Calls())
			assert.Empty(t, h.orch.Operations())
			assert.Equal(t, []events.Status{events.Initializing, events.Failed}, statuses(h.events.StatusUpdates(res.OperationID)))
		})
	}
}

func TestCreateVolumeSpawnError(t *testing.T) {
	h := newHarness(t, nil)
	h.runner.StartErr = errors.New("exec format error")

	res := h.orch.CreateVolume(context.Background(), CreateParams{DevicePath: "D:", Password: system.SecureString("x")})

	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, system.ErrProcessSpawn)
	assert.Empty(t, h.orch.Operations())
	assert.Equal(t, []events.Status{events.Initializing, events.Failed}, statuses(h.events.StatusUpdates(res.OperationID)))

	leftovers, err := filepath.Glob(filepath.Join(h.tempDir, entropyPattern))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestOperationIDsAreUnique(t *testing.T) {
	h := newHarness(t, nil)

	var wg sync.WaitGroup
	results := make([]Result, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = h.orch.CreateVolume(context.Background(), CreateParams{
				DevicePath: fmt.Sprintf("/dev/sd%c", 'a'+i),
				Password:   system.SecureString("x"),
			})
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, r := range results {
		assert.True(t, r.Success)
		assert.False(t, seen[r.OperationID], "duplicate id %s", r.OperationID)
		seen[r.OperationID] = true
	}
	assert.Empty(t, h.orch.Operations())
}

func TestCancelOperationUnknownID(t *testing.T) {
	h := newHarness(t, nil)

	assert.False(t, h.orch.CancelOperation("does-not-exist"))
	assert.Empty(t, h.events.Events())
}

func TestCancelOperation(t *testing.T) {
	h := newHarness(t, nil)
	h.runner.QueueScript(testutil.Script{Lines: []string{"5%"}, Block: true})

	done := make(chan Result, 1)
	go func() {
		done <- h.orch.CreateVolume(context.Background(), CreateParams{DevicePath: "D:", Password: system.SecureString("x")})
	}()

	require.Eventually(t, func() bool { return len(h.orch.Operations()) == 1 }, 2*time.Second, 5*time.Millisecond)
	op := h.orch.Operations()[0]
	assert.Equal(t, events.Encryption, op.Kind)
	assert.Equal(t, "D:", op.DevicePath)
	assert.NotContains(t, op.Params, "password")

	require.True(t, h.orch.CancelOperation(op.ID))
	assert.False(t, h.orch.CancelOperation(op.ID))

	var res Result
	select {
	case res = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("create did not return after cancel")
	}

	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, system.ErrCancelled)
	assert.Equal(t, op.ID, res.OperationID)
	assert.True(t, h.runner.Started()[0].Terminated())
	assert.Empty(t, h.orch.Operations())

	updates := h.events.StatusUpdates(op.ID)
	assert.Equal(t, events.Cancelled, updates[len(updates)-1].Status)
	assert.Equal(t, 1, terminalCount(updates))
	assert.Equal(t, 1, h.metrics.settled["encryption/cancelled"])

	// Settled ids cannot be cancelled again.
	assert.False(t, h.orch.CancelOperation(op.ID))
}

func TestContextCancellationSettlesAsCancelled(t *testing.T) {
	h := newHarness(t, nil)
	h.runner.QueueScript(testutil.Script{
		Lines: []string{"1%"},
		Err:   &system.ExitError{Command: toolPath, Code: 143},
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := h.orch.CreateVolume(ctx, CreateParams{DevicePath: "D:", Password: system.SecureString("x")})

	assert.ErrorIs(t, res.Err, system.ErrCancelled)
	updates := h.events.StatusUpdates(res.OperationID)
	assert.Equal(t, events.Cancelled, updates[len(updates)-1].Status)
}

func TestCancelAll(t *testing.T) {
	h := newHarness(t, nil)
	h.runner.QueueScript(testutil.Script{Block: true})
	h.runner.QueueScript(testutil.Script{Block: true})

	var wg sync.WaitGroup
	for _, dev := range []string{"/dev/sdb", "/dev/sdc"} {
		wg.Add(1)
		go func(dev string) {
			defer wg.Done()
			h.orch.CreateVolume(context.Background(), CreateParams{DevicePath: dev, Password: system.SecureString("x")})
		}(dev)
	}

	require.Eventually(t, func() bool { return len(h.orch.Operations()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, h.orch.CancelAll())
	wg.Wait()
	assert.Empty(t, h.orch.Operations())
}

func TestMountUnmountRoundTrip(t *testing.T) {
	h := newHarness(t, nil)

	mount := h.orch.MountVolume(context.Background(), MountParams{
		DevicePath: `\Device\Harddisk1\Partition1`,
		Password:   system.SecureString("x"),
		Target:     "f:",
		ReadOnly:   true,
	})
	require.True(t, mount.Success, mount.Message)
	assert.Equal(t, "F", mount.MountTarget)

	assert.Equal(t, []string{`\Device\Harddisk1\Partition1`, "--mount", "--slot=F", "--read-only", "--non-interactive"}, h.runner.Calls()[0].Args)

	mv, ok := h.orch.Mounted(`\Device\Harddisk1\Partition1`)
	require.True(t, ok)
	assert.True(t, mv.ReadOnly)
	assert.Equal(t, "F", mv.Target.Slot)
	assert.Zero(t, h.platform.allocated)

	unmount := h.orch.UnmountVolume(context.Background(), UnmountParams{DevicePath: `\Device\Harddisk1\Partition1`})
	require.True(t, unmount.Success, unmount.Message)
	assert.Equal(t, []string{"--dismount", "F", "--non-interactive"}, h.runner.Calls()[1].Args)

	_, ok = h.orch.Mounted(`\Device\Harddisk1\Partition1`)
	assert.False(t, ok)
	assert.Empty(t, h.orch.MountedVolumes())
	assert.Equal(t, 2, h.changes)
}

func TestMountAllocatesScratchTarget(t *testing.T) {
	h := newHarness(t, nil)

	res := h.orch.MountVolume(context.Background(), MountParams{DevicePath: "/dev/sdb1", Password: system.SecureString("x")})
	require.True(t, res.Success, res.Message)
	assert.Equal(t, 1, h.platform.allocated)
	assert.DirExists(t, res.MountTarget)
	assert.Contains(t, h.runner.Calls()[0].Args, "--mount-point="+res.MountTarget)

	// Unmount by mount id removes the synthesized directory.
	unmount := h.orch.UnmountVolume(context.Background(), UnmountParams{MountID: res.MountTarget})
	require.True(t, unmount.Success, unmount.Message)
	assert.NoDirExists(t, res.MountTarget)
	assert.Empty(t, h.orch.MountedVolumes())
}

func TestMountFailureRemovesScratchTarget(t *testing.T) {
	h := newHarness(t, nil)
	h.runner.QueueScript(testutil.Script{Err: &system.ExitError{Command: toolPath, Code: 1, Stderr: "Error: Operation failed due to one or more of the following:\n - Incorrect password."}})

	res := h.orch.MountVolume(context.Background(), MountParams{DevicePath: "/dev/sdb1", Password: system.SecureString("bad")})

	assert.False(t, res.Success)
	assert.Equal(t, "- Incorrect password.", res.Message)
	assert.Empty(t, res.MountTarget)
	assert.Empty(t, h.orch.MountedVolumes())

	entries, err := os.ReadDir(h.platform.scratchRoot)
	require.NoError(t, err)
	assert.Empty(t, entries)

	// The reservation is released so a retry is possible.
	retry := h.orch.MountVolume(context.Background(), MountParams{DevicePath: "/dev/sdb1", Password: system.SecureString("good")})
	assert.True(t, retry.Success, retry.Message)
}

func TestMountRejectsAlreadyMounted(t *testing.T) {
	h := newHarness(t, nil)
	h.platform.target = platform.MountTarget{Slot: "G"}

	first := h.orch.MountVolume(context.Background(), MountParams{DevicePath: "D:", Password: system.SecureString("x")})
	require.True(t, first.Success)

	second := h.orch.MountVolume(context.Background(), MountParams{DevicePath: "D:", Password: system.SecureString("x")})
	assert.False(t, second.Success)
	assert.ErrorIs(t, second.Err, system.ErrValidation)
	assert.Len(t, h.runner.Calls(), 1)
}

func TestConcurrentMountsGetDistinctSlots(t *testing.T) {
	h := newHarness(t, nil)
	h.platform.letters = true
	h.runner.QueueScript(testutil.Script{Block: true})

	done := make(chan Result, 1)
	go func() {
		done <- h.orch.MountVolume(context.Background(), MountParams{DevicePath: "/dev/sdb1", Password: system.SecureString("x")})
	}()
	require.Eventually(t, func() bool { return len(h.orch.Operations()) == 1 }, 2*time.Second, 5*time.Millisecond)
	first := h.orch.Operations()[0]

	second := h.orch.MountVolume(context.Background(), MountParams{DevicePath: "/dev/sdc1", Password: system.SecureString("x")})
	require.True(t, second.Success, second.Message)
	assert.Equal(t, "E", second.MountTarget)
	assert.Equal(t, []string{"D"}, h.platform.excluded[1])

	require.True(t, h.orch.CancelOperation(first.ID))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("mount did not return after cancel")
	}

	// The cancelled mount gave its slot back.
	third := h.orch.MountVolume(context.Background(), MountParams{DevicePath: "/dev/sdd1", Password: system.SecureString("x")})
	require.True(t, third.Success, third.Message)
	assert.Equal(t, "D", third.MountTarget)
}

func TestMountRejectsTargetInUse(t *testing.T) {
	h := newHarness(t, nil)

	first := h.orch.MountVolume(context.Background(), MountParams{DevicePath: "/dev/sdb1", Password: system.SecureString("x"), Target: "F"})
	require.True(t, first.Success, first.Message)

	second := h.orch.MountVolume(context.Background(), MountParams{DevicePath: "/dev/sdc1", Password: system.SecureString("x"), Target: "f:"})
	assert.False(t, second.Success)
	assert.ErrorIs(t, second.Err, system.ErrValidation)
	assert.Len(t, h.runner.Calls(), 1)

	// The failed attempt released its reservation.
	h.platform.target = platform.MountTarget{Slot: "G"}
	retry := h.orch.MountVolume(context.Background(), MountParams{DevicePath: "/dev/sdc1", Password: system.SecureString("x")})
	assert.True(t, retry.Success, retry.Message)
}

func TestMountedDevicesMatchDriveLettersAnyCase(t *testing.T) {
	h := newHarness(t, nil)
	h.platform.target = platform.MountTarget{Slot: "G"}

	first := h.orch.MountVolume(context.Background(), MountParams{DevicePath: "d:", Password: system.SecureString("x")})
	require.True(t, first.Success, first.Message)

	second := h.orch.MountVolume(context.Background(), MountParams{DevicePath: "D:", Password: system.SecureString("x")})
	assert.ErrorIs(t, second.Err, system.ErrValidation)

	mv, ok := h.orch.Mounted("D:")
	require.True(t, ok)
	assert.Equal(t, "d:", mv.DevicePath)

	unmount := h.orch.UnmountVolume(context.Background(), UnmountParams{DevicePath: "D:"})
	require.True(t, unmount.Success, unmount.Message)
	assert.Equal(t, []string{"--dismount", "G", "--non-interactive"}, h.runner.Calls()[1].Args)
	assert.Empty(t, h.orch.MountedVolumes())
}

func TestMountAllocationFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.platform.allocErr = errors.New("no free drive letter")

	res := h.orch.MountVolume(context.Background(), MountParams{DevicePath: "D:", Password: system.SecureString("x")})
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "no free drive letter")
	assert.Empty(t, h.runner.Calls())

	h.platform.allocErr = nil
	h.platform.target = platform.MountTarget{Slot: "H"}
	assert.True(t, h.orch.MountVolume(context.Background(), MountParams{DevicePath: "D:", Password: system.SecureString("x")}).Success)
}

func TestUnmountRetriesBusyVolume(t *testing.T) {
	busy := &system.ExitError{Command: toolPath, Code: 1, Stderr: "Error: device is busy"}

	t.Run("retries until success", func(t *testing.T) {
		h := newHarness(t, nil)
		h.runner.QueueScript(testutil.Script{Err: busy})
		h.runner.QueueScript(testutil.Script{Err: busy})

		res := h.orch.UnmountVolume(context.Background(), UnmountParams{DevicePath: "/dev/sdb1"})
		assert.True(t, res.Success, res.Message)
		assert.Len(t, h.runner.Calls(), 3)
		assert.Equal(t, []string{"--dismount", "/dev/sdb1", "--non-interactive"}, h.runner.Calls()[0].Args)
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		h := newHarness(t, nil)
		for i := 0; i < 5; i++ {
			h.runner.QueueScript(testutil.Script{Err: busy})
		}

		res := h.orch.UnmountVolume(context.Background(), UnmountParams{DevicePath: "/dev/sdb1"})
		assert.False(t, res.Success)
		assert.Len(t, h.runner.Calls(), 4)
		assert.Equal(t, 1, terminalCount(h.events.StatusUpdates(res.OperationID)))
	})

	t.Run("force does not retry", func(t *testing.T) {
		h := newHarness(t, nil)
		h.runner.QueueScript(testutil.Script{Err: busy})

		res := h.orch.UnmountVolume(context.Background(), UnmountParams{DevicePath: "/dev/sdb1", Force: true})
		assert.False(t, res.Success)
		assert.Len(t, h.runner.Calls(), 1)
		assert.Contains(t, h.runner.Calls()[0].Args, "--force")
	})

	t.Run("other errors do not retry", func(t *testing.T) {
		h := newHarness(t, nil)
		h.runner.QueueScript(testutil.Script{Err: &system.ExitError{Command: toolPath, Code: 1, Stderr: "Error: No such volume is mounted."}})

		res := h.orch.UnmountVolume(context.Background(), UnmountParams{DevicePath: "/dev/sdb1"})
		assert.False(t, res.Success)
		assert.Len(t, h.runner.Calls(), 1)
	})
}

func TestCancelDuringBusyRetryStopsDismount(t *testing.T) {
	h := newHarness(t, nil)
	h.orch.retry = RetryConfig{MaxRetries: 3, InitialInterval: 2 * time.Second, MaxInterval: 2 * time.Second}

	mount := h.orch.MountVolume(context.Background(), MountParams{DevicePath: "/dev/sdb1", Password: system.SecureString("x"), Target: "F"})
	require.True(t, mount.Success, mount.Message)

	h.runner.QueueScript(testutil.Script{Err: &system.ExitError{Command: toolPath, Code: 1, Stderr: "Error: volume is busy"}})
	h.runner.QueueScript(testutil.Script{})

	done := make(chan Result, 1)
	go func() {
		done <- h.orch.UnmountVolume(context.Background(), UnmountParams{DevicePath: "/dev/sdb1"})
	}()

	var id string
	require.Eventually(t, func() bool {
		ops := h.orch.Operations()
		if len(ops) != 1 {
			return false
		}
		id = ops[0].ID
		for _, u := range h.events.StatusUpdates(id) {
			if strings.HasPrefix(u.Message, "Volume is busy") {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	require.True(t, h.orch.CancelOperation(id))

	var res Result
	select {
	case res = <-done:
	case <-time.After(time.Second):
		t.Fatal("unmount kept waiting after cancel")
	}

	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, system.ErrCancelled)
	assert.Len(t, h.runner.Started(), 2)
	assert.Len(t, h.runner.Calls(), 2)

	updates := h.events.StatusUpdates(id)
	assert.Equal(t, events.Cancelled, updates[len(updates)-1].Status)
	assert.Equal(t, 1, terminalCount(updates))

	// Nothing was dismounted, so the volume is still tracked.
	mv, ok := h.orch.Mounted("/dev/sdb1")
	require.True(t, ok)
	assert.Equal(t, "F", mv.Target.Slot)
	assert.Empty(t, h.orch.Operations())
}

func TestUnmountRequiresTarget(t *testing.T) {
	h := newHarness(t, nil)

	res := h.orch.UnmountVolume(context.Background(), UnmountParams{})
	assert.ErrorIs(t, res.Err, system.ErrValidation)
	assert.Empty(t, h.runner.Calls())
}

func TestDecryptVolumeIsUnsupported(t *testing.T) {
	h := newHarness(t, nil)

	for _, p := range []DecryptParams{
		{},
		{DevicePath: "D:"},
		{DevicePath: "/dev/sdb1", Password: system.SecureString("x")},
	} {
		res := h.orch.DecryptVolume(context.Background(), p)
		assert.False(t, res.Success)
		assert.ErrorIs(t, res.Err, system.ErrUnsupported)
		assert.NotEmpty(t, res.OperationID)

		updates := h.events.StatusUpdates(res.OperationID)
		assert.Equal(t, []events.Status{events.Initializing, events.Failed}, statuses(updates))
		assert.Equal(t, events.Decryption, updates[0].Type)
	}
	assert.Empty(t, h.runner.Calls())
	assert.Empty(t, h.orch.Operations())
}

func TestCleanupTempFiles(t *testing.T) {
	h := newHarness(t, nil)

	stale := filepath.Join(h.tempDir, "volcrypt-entropy-123.bin")
	require.NoError(t, os.WriteFile(stale, []byte("x"), 0600))
	unrelated := filepath.Join(h.tempDir, "other.bin")
	require.NoError(t, os.WriteFile(unrelated, []byte("x"), 0600))

	emptyDir := filepath.Join(h.platform.scratchRoot, platform.ScratchPrefix+"1-a")
	require.NoError(t, os.Mkdir(emptyDir, 0700))
	busyDir := filepath.Join(h.platform.scratchRoot, platform.ScratchPrefix+"2-b")
	require.NoError(t, os.Mkdir(busyDir, 0700))
	require.NoError(t, os.WriteFile(filepath.Join(busyDir, "data"), []byte("x"), 0600))

	n, err := h.orch.CleanupTempFiles(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoFileExists(t, stale)
	assert.FileExists(t, unrelated)
	assert.NoDirExists(t, emptyDir)
	assert.DirExists(t, busyDir)
}

func TestCleanupTempFilesKeepsActiveMountPoint(t *testing.T) {
	h := newHarness(t, nil)

	res := h.orch.MountVolume(context.Background(), MountParams{DevicePath: "/dev/sdb1", Password: system.SecureString("x")})
	require.True(t, res.Success)

	n, err := h.orch.CleanupTempFiles(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.DirExists(t, res.MountTarget)
}

func TestEstimatorMessage(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	e := newEstimator(start)

	assert.Equal(t, "Encrypting 0% complete", e.message(events.Encryption, 0, start))
	assert.Equal(t, "Encrypting 25% complete, about 30s remaining", e.message(events.Encryption, 25, start.Add(10*time.Second)))
	assert.Equal(t, "Mounting 100% complete", e.message(events.Mount, 100, start.Add(time.Minute)))
	assert.Equal(t, "Encrypting 42.5% complete", e.message(events.Encryption, 42.5, start))
}
