package flash

import (
	"context"
	"errors"
	"fmt"

	"github.com/nace/peka/internal/device"
	"github.com/nace/peka/internal/image"
	"github.com/nace/peka/internal/protocol"
)

// Inventory resolves a target path against a fresh device listing
type Inventory interface {
	FindByPath(path string) (*device.Device, error)
}

// Unmounter releases the mounted partitions of a target device
type Unmounter interface {
	UnmountAll(ctx context.Context, devicePath string) (int, error)
}

// Runner drives the privileged side of one session: re-validate the target,
// unmount, write, verify. All work is sequential; the only concurrency is
// the controller draining the event stream on the far side of the pipe.
type Runner struct {
	inventory Inventory
	unmounter Unmounter
}

// NewRunner creates a runner
func NewRunner(inventory Inventory, unmounter Unmounter) *Runner {
	return &Runner{
		inventory: inventory,
		unmounter: unmounter,
	}
}

// Run executes the plan and returns the terminal session result. It never
// returns an error: every failure is folded into the result so exactly one
// terminal record reaches the controller.
func (r *Runner) Run(ctx context.Context, plan *Plan, emit *protocol.Emitter) *protocol.Result {
	if err := plan.Validate(); err != nil {
		return Failure(err, 0)
	}

	// The controller's device listing is stale by now. Re-resolve the
	// target against a fresh snapshot before the first destructive step.
	if err := r.revalidate(plan); err != nil {
		return Failure(err, 0)
	}

	emit.Progress(protocol.PhaseUnmounting, 0, nil, 0)
	if plan.DryRun {
		emit.Log(fmt.Sprintf("dry run: skipping unmount of %s", plan.DevicePath))
	} else {
		count, err := r.unmounter.UnmountAll(ctx, plan.DevicePath)
		if errors.Is(err, context.Canceled) {
			return cancelled(0)
		}
		if err != nil {
			return Failure(err, 0)
		}
		if count > 0 {
			emit.Log(fmt.Sprintf("unmounted %d partition(s) of %s", count, plan.DevicePath))
		}
	}

	if err := ctx.Err(); err != nil {
		return cancelled(0)
	}

	written, err := WriteImage(ctx, plan.Source, plan.DevicePath, plan.ChunkSize, plan.DryRun,
		func(p Progress) {
			emit.Progress(protocol.PhaseWriting, p.BytesDone, plan.Source.Size, p.Chunk)
		})
	if errors.Is(err, context.Canceled) {
		return cancelled(written)
	}
	if err != nil {
		return Failure(err, written)
	}

	result := &protocol.Result{
		Outcome:      protocol.OutcomeSuccess,
		BytesWritten: written,
	}

	// Nothing was written on a dry run, so there is nothing to verify.
	if plan.Verify && !plan.DryRun {
		summary, err := Verify(ctx, plan.Source, plan.DevicePath, plan.ChunkSize,
			func(p Progress) {
				emit.Progress(protocol.PhaseVerifying, p.BytesDone, plan.Source.Size, p.Chunk)
			})
		if errors.Is(err, context.Canceled) {
			return cancelled(written)
		}
		if err != nil {
			return Failure(err, written)
		}
		result.Verification = summary
	}

	return result
}

// revalidate re-resolves the target device and refuses system disks and
// non-device targets unless explicitly overridden.
func (r *Runner) revalidate(plan *Plan) error {
	dev, err := r.inventory.FindByPath(plan.DevicePath)
	if err != nil {
		return err
	}
	if dev == nil {
		return fmt.Errorf("%w: %s not present in device listing", device.ErrInventoryUnavailable, plan.DevicePath)
	}
	if !dev.Writable() {
		return fmt.Errorf("refusing to write to %s: not a flashable device", dev.Path)
	}
	if dev.SystemDisk && !plan.AllowSystemDisk {
		return device.ErrSystemDiskRefused
	}
	return nil
}

func cancelled(written int64) *protocol.Result {
	return &protocol.Result{
		Outcome:      protocol.OutcomeCancelled,
		BytesWritten: written,
		Error: &protocol.WireError{
			Kind:    protocol.KindCancelled,
			Message: "operation cancelled",
		},
	}
}

// Failure folds a pipeline error into a terminal failed result
func Failure(err error, written int64) *protocol.Result {
	return &protocol.Result{
		Outcome:      protocol.OutcomeFailed,
		BytesWritten: written,
		Error:        classify(err),
	}
}

// classify maps typed pipeline errors onto wire error kinds
func classify(err error) *protocol.WireError {
	wire := &protocol.WireError{
		Kind:    protocol.KindInternal,
		Message: err.Error(),
	}

	var writeErr *WriteError
	var unmountErr *device.UnmountError

	switch {
	case errors.As(err, &writeErr):
		wire.Kind = protocol.KindIOWrite
		wire.Offset = &writeErr.Offset
	case errors.As(err, &unmountErr):
		wire.Kind = protocol.KindUnmountFailed
	case errors.Is(err, ErrDeviceBusy):
		wire.Kind = protocol.KindDeviceBusy
	case errors.Is(err, device.ErrSystemDiskRefused):
		wire.Kind = protocol.KindSystemDisk
	case errors.Is(err, device.ErrInventoryUnavailable):
		wire.Kind = protocol.KindInventoryUnavailable
	case errors.Is(err, image.ErrAmbiguousArchive):
		wire.Kind = protocol.KindAmbiguousArchive
	case errors.Is(err, image.ErrUnsupportedFormat):
		wire.Kind = protocol.KindUnsupportedFormat
	case errors.Is(err, image.ErrSourceUnreadable):
		wire.Kind = protocol.KindSourceUnreadable
	}

	return wire
}
