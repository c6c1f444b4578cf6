package flash

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nace/peka/internal/device"
	"github.com/nace/peka/internal/image"
	"github.com/nace/peka/internal/protocol"
)

type fakeInventory struct {
	dev *device.Device
	err error
}

func (f *fakeInventory) FindByPath(path string) (*device.Device, error) {
	return f.dev, f.err
}

type fakeUnmounter struct {
	calls int
	count int
	err   error
}

func (f *fakeUnmounter) UnmountAll(ctx context.Context, devicePath string) (int, error) {
	f.calls++
	return f.count, f.err
}

// runPlan executes a plan against fakes, returning the result and the
// decoded event stream.
func runPlan(t *testing.T, plan *Plan, inv *fakeInventory, unm *fakeUnmounter) (*protocol.Result, []*protocol.Event) {
	t.Helper()
	var buf bytes.Buffer
	res := NewRunner(inv, unm).Run(context.Background(), plan, protocol.NewEmitter(&buf))

	dec := protocol.NewDecoder(&buf)
	var events []*protocol.Event
	for {
		ev, err := dec.Next()
		if err == io.EOF {
			return res, events
		}
		require.NoError(t, err)
		events = append(events, ev)
	}
}

func TestRunnerUnmountFailureAbortsBeforeWrite(t *testing.T) {
	data := payload(16 * 1024)
	src := sourceFor(t, data)
	target := targetFile(t, len(data), 0xEE)

	inv := &fakeInventory{dev: &device.Device{Path: target, Mountpoints: []string{"/media/user/STICK"}}}
	unm := &fakeUnmounter{err: &device.UnmountError{Partition: "/dev/sdb1", Err: errors.New("target is busy")}}

	plan := &Plan{Source: src, DevicePath: target, ChunkSize: 4096}
	res, _ := runPlan(t, plan, inv, unm)

	assert.Equal(t, protocol.OutcomeFailed, res.Outcome)
	require.NotNil(t, res.Error)
	assert.Equal(t, protocol.KindUnmountFailed, res.Error.Kind)
	assert.Zero(t, res.BytesWritten)

	// Not a single byte reached the target
	got, err := os.ReadFile(target)
	require.NoError(t, err)
	for i, b := range got {
		require.Equal(t, byte(0xEE), b, "target touched at offset %d", i)
	}
}

func TestRunnerRefusesSystemDiskBeforeUnmount(t *testing.T) {
	src := sourceFor(t, payload(4096))
	target := targetFile(t, 4096, 0xEE)

	inv := &fakeInventory{dev: &device.Device{Path: target, SystemDisk: true, Mountpoints: []string{"/"}}}
	unm := &fakeUnmounter{}

	plan := &Plan{Source: src, DevicePath: target, ChunkSize: 4096}
	res, _ := runPlan(t, plan, inv, unm)

	assert.Equal(t, protocol.OutcomeFailed, res.Outcome)
	require.NotNil(t, res.Error)
	assert.Equal(t, protocol.KindSystemDisk, res.Error.Kind)
	assert.Zero(t, unm.calls, "refusal happens before any unmount attempt")
}

func TestRunnerFullSequence(t *testing.T) {
	data := payload(24 * 1024)
	src := sourceFor(t, data)
	target := targetFile(t, 0, 0)

	inv := &fakeInventory{dev: &device.Device{Path: target}}
	unm := &fakeUnmounter{count: 1}

	plan := &Plan{Source: src, DevicePath: target, ChunkSize: 8192, Verify: true}
	res, events := runPlan(t, plan, inv, unm)

	require.Equal(t, protocol.OutcomeSuccess, res.Outcome)
	assert.Equal(t, int64(len(data)), res.BytesWritten)
	require.NotNil(t, res.Verification)
	assert.Equal(t, int64(3), res.Verification.ChunksChecked)
	assert.Nil(t, res.Verification.FirstMismatchOffset)
	assert.Equal(t, 1, unm.calls)

	// Phases appear in order: unmounting, then writing, then verifying
	var phases []protocol.Phase
	for _, ev := range events {
		if ev.Type == protocol.EventProgress {
			phases = append(phases, ev.Phase)
		}
	}
	assert.Equal(t, []protocol.Phase{
		protocol.PhaseUnmounting,
		protocol.PhaseWriting, protocol.PhaseWriting, protocol.PhaseWriting,
		protocol.PhaseVerifying, protocol.PhaseVerifying, protocol.PhaseVerifying,
	}, phases)

	got, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind string
	}{
		{"device busy", fmt.Errorf("open: %w", ErrDeviceBusy), protocol.KindDeviceBusy},
		{"system disk", device.ErrSystemDiskRefused, protocol.KindSystemDisk},
		{"inventory", fmt.Errorf("%w: lsblk missing", device.ErrInventoryUnavailable), protocol.KindInventoryUnavailable},
		{"unmount", &device.UnmountError{Partition: "/dev/sdb1", Err: errors.New("busy")}, protocol.KindUnmountFailed},
		{"ambiguous archive", fmt.Errorf("%w: found 2", image.ErrAmbiguousArchive), protocol.KindAmbiguousArchive},
		{"unsupported format", image.ErrUnsupportedFormat, protocol.KindUnsupportedFormat},
		{"unreadable", fmt.Errorf("%w: eof", image.ErrSourceUnreadable), protocol.KindSourceUnreadable},
		{"unknown", errors.New("exploded"), protocol.KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wire := classify(tt.err)
			assert.Equal(t, tt.kind, wire.Kind)
			assert.NotEmpty(t, wire.Message)
		})
	}
}

func TestClassifyWriteErrorCarriesOffset(t *testing.T) {
	err := &WriteError{Offset: 8388608, Err: errors.New("input/output error")}
	wire := classify(err)
	assert.Equal(t, protocol.KindIOWrite, wire.Kind)
	require.NotNil(t, wire.Offset)
	assert.Equal(t, int64(8388608), *wire.Offset)
}

func TestFailureAndCancelledResults(t *testing.T) {
	res := Failure(ErrDeviceBusy, 1024)
	assert.Equal(t, protocol.OutcomeFailed, res.Outcome)
	assert.Equal(t, int64(1024), res.BytesWritten)
	require.NotNil(t, res.Error)
	assert.Equal(t, protocol.KindDeviceBusy, res.Error.Kind)

	res = cancelled(4096)
	assert.Equal(t, protocol.OutcomeCancelled, res.Outcome)
	assert.Equal(t, int64(4096), res.BytesWritten)
	require.NotNil(t, res.Error)
	assert.Equal(t, protocol.KindCancelled, res.Error.Kind)
}
