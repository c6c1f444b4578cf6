package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nace/peka/internal/flash"
	"github.com/nace/peka/internal/image"
	"github.com/nace/peka/internal/protocol"
	"github.com/nace/peka/internal/system"
)

// WorkerCommand is the privileged executor half of the pipeline. The
// controller launches it elevated with a serialized write plan; it runs
// unmount -> write -> verify and streams events on stdout. It is hidden
// from help output, users never invoke it directly.
type WorkerCommand struct {
	ctx *GlobalContext

	imagePath       string
	devicePath      string
	chunkSize       int64
	verify          bool
	dryRun          bool
	allowSystemDisk bool
}

// NewWorkerCommand creates the hidden worker command
func NewWorkerCommand(ctx *GlobalContext) *cobra.Command {
	cmd := &WorkerCommand{ctx: ctx}

	cobraCmd := &cobra.Command{
		Use:           "worker",
		Hidden:        true,
		RunE:          cmd.Run,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cobraCmd.Flags().StringVar(&cmd.imagePath, "image", "", "Image path")
	cobraCmd.Flags().StringVar(&cmd.devicePath, "device", "", "Target device path")
	cobraCmd.Flags().Int64Var(&cmd.chunkSize, "chunk-size", flash.DefaultChunkSize, "Chunk size in bytes")
	cobraCmd.Flags().BoolVar(&cmd.verify, "verify", false, "Verify after writing")
	cobraCmd.Flags().BoolVar(&cmd.dryRun, "dry-run", false, "Simulate without touching the device")
	cobraCmd.Flags().BoolVar(&cmd.allowSystemDisk, "allow-system-disk", false, "Allow system disk targets")
	_ = cobraCmd.MarkFlagRequired("image")
	_ = cobraCmd.MarkFlagRequired("device")

	return cobraCmd
}

// Run executes the worker. It always emits exactly one terminal result
// line; the exit code mirrors the outcome for callers that only see codes.
func (c *WorkerCommand) Run(cmd *cobra.Command, args []string) error {
	emit := protocol.NewEmitter(os.Stdout)
	emit.Start(uuid.NewString())

	// Cancellation is cooperative: the signal flips the context and the
	// engines observe it between chunk boundaries.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cleanup := system.NewCleanupStack()
	result := c.execute(ctx, emit, cleanup)
	finalize(emit, cleanup, result)

	switch result.Outcome {
	case protocol.OutcomeSuccess:
		return nil
	case protocol.OutcomeCancelled:
		return &ExitError{Code: ExitCancelled, Err: errors.New("cancelled")}
	default:
		return &ExitError{Code: ExitFailed, Err: errors.New("failed")}
	}
}

// finalize runs cleanup and then writes the terminal record. The result
// line ends the stream; nothing may be emitted after it.
func finalize(emit *protocol.Emitter, cleanup *system.CleanupStack, result *protocol.Result) {
	if err := cleanup.Execute(); err != nil {
		emit.Log("cleanup: " + err.Error())
	}
	emit.Result(result)
}

func (c *WorkerCommand) execute(ctx context.Context, emit *protocol.Emitter, cleanup *system.CleanupStack) *protocol.Result {
	// Real runs need root to open the device exclusively and to unmount.
	// Fail before side effects rather than halfway through the pipeline.
	if !c.dryRun {
		if err := system.RequireRoot(); err != nil {
			return &protocol.Result{
				Outcome: protocol.OutcomeFailed,
				Error: &protocol.WireError{
					Kind:    protocol.KindPermissionDenied,
					Message: err.Error(),
				},
			}
		}
	}

	src, err := image.Resolve(c.imagePath)
	if err != nil {
		return flash.Failure(err, 0)
	}
	cleanup.Add(src.Cleanup)

	plan := &flash.Plan{
		Source:          src,
		DevicePath:      c.devicePath,
		ChunkSize:       c.chunkSize,
		Verify:          c.verify,
		DryRun:          c.dryRun,
		AllowSystemDisk: c.allowSystemDisk,
	}

	runner := flash.NewRunner(c.ctx.Inventory, c.ctx.Unmounter)
	return runner.Run(ctx, plan, emit)
}
