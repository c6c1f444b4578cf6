package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/nace/peka/internal/config"
	"github.com/nace/peka/internal/device"
	"github.com/nace/peka/internal/flash"
	"github.com/nace/peka/internal/image"
	"github.com/nace/peka/internal/protocol"
	"github.com/nace/peka/internal/session"
	"github.com/nace/peka/internal/system"
	"github.com/nace/peka/internal/ui"
)

// errAuthTimeout marks an elevation prompt that never came back
var errAuthTimeout = errors.New("timed out waiting for authorization")

// FlashCommand drives one imaging session from the unprivileged side. It
// resolves the image, validates the target, asks for confirmation, launches
// the privileged worker and drains its event stream. It never touches the
// device itself.
type FlashCommand struct {
	ctx *GlobalContext

	chunkSize       string
	verify          bool
	dryRun          bool
	allowSystemDisk bool
	yes             bool
	configPath      string
	authTimeout     time.Duration
}

// NewFlashCommand creates the flash command
func NewFlashCommand(ctx *GlobalContext) *cobra.Command {
	cmd := &FlashCommand{ctx: ctx}

	cobraCmd := &cobra.Command{
		Use:   "flash <image> <device>",
		Short: "Write an image to a block device",
		Long: `Write a disk image to a whole block device.

Supported inputs: raw images (.img), optical images (.iso), gzip/xz/bzip2
compressed images (decompressed on the fly), and ZIP archives containing
exactly one image file (extracted before writing).

The actual device write runs in a separate privileged worker process; this
command only validates, confirms, and reports progress.`,
		Args:         cobra.ExactArgs(2),
		RunE:         cmd.Run,
		SilenceUsage: true,
	}

	cobraCmd.Flags().StringVarP(&cmd.chunkSize, "chunk-size", "c", "", "Chunk size (e.g. 4M, 64K; default 4M)")
	cobraCmd.Flags().BoolVar(&cmd.verify, "verify", false, "Re-read the device after writing and compare against the image")
	cobraCmd.Flags().BoolVar(&cmd.dryRun, "dry-run", false, "Run the full pipeline without touching the device")
	cobraCmd.Flags().BoolVar(&cmd.allowSystemDisk, "allow-system-disk", false, "Allow targeting a disk that holds the running system")
	cobraCmd.Flags().BoolVarP(&cmd.yes, "yes", "y", false, "Skip the confirmation prompt")
	cobraCmd.Flags().StringVar(&cmd.configPath, "config", "", "Config file (default ~/.config/peka/config.yaml)")
	cobraCmd.Flags().DurationVar(&cmd.authTimeout, "auth-timeout", 90*time.Second, "How long to wait for elevation to be granted")

	return cobraCmd
}

// Run executes the flash command
func (c *FlashCommand) Run(cmd *cobra.Command, args []string) error {
	if err := c.ctx.CheckDependencies(); err != nil {
		return err
	}

	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}

	chunkSize, err := c.resolveChunkSize(cfg)
	if err != nil {
		return err
	}
	verify := c.verify || cfg.Verify

	sess := session.New()
	defer sess.Reset()

	imagePath, src, err := c.selectImage(sess, args[0])
	if err != nil {
		return err
	}

	dev, err := c.selectDevice(sess, args[1], src)
	if err != nil {
		return err
	}

	if err := c.confirm(sess, src, dev); err != nil {
		return err
	}

	plan := workerArgs{
		imagePath:       imagePath,
		devicePath:      dev.Path,
		chunkSize:       chunkSize,
		verify:          verify,
		dryRun:          c.dryRun,
		allowSystemDisk: c.allowSystemDisk,
	}

	result, err := c.runWorker(sess, plan)
	if err != nil {
		return err
	}

	return c.report(result)
}

func (c *FlashCommand) resolveChunkSize(cfg *config.Config) (int64, error) {
	spec := c.chunkSize
	if spec == "" {
		spec = cfg.ChunkSize
	}
	if spec == "" {
		return flash.DefaultChunkSize, nil
	}

	size, err := system.ParseSize(spec)
	if err != nil {
		return 0, err
	}
	if size == 0 {
		return 0, fmt.Errorf("chunk size must be positive")
	}
	return int64(size), nil
}

// selectImage resolves the image source. For ZIP archives this extracts the
// payload into a session-owned temp directory and hands the worker the
// extracted file, so extraction happens once and cleanup stays with the
// unprivileged session.
func (c *FlashCommand) selectImage(sess *session.Session, arg string) (string, *image.Source, error) {
	path, err := system.ValidateImagePath(arg)
	if err != nil {
		return "", nil, err
	}

	src, err := image.Resolve(path)
	if err != nil {
		return "", nil, err
	}
	sess.Cleanup().Add(src.Cleanup)

	if err := sess.Advance(session.StateImageSelected); err != nil {
		return "", nil, err
	}

	c.ctx.Logger.Info("Image: %s (%s)", src.DisplayName(), src.Format)
	if src.Size != nil {
		c.ctx.Logger.Info("Payload size: %s", system.FormatSize(uint64(*src.Size)))
	} else if compressed, err := system.GetFileSize(path); err == nil {
		c.ctx.Logger.Info("Payload size: unknown (%s compressed)", system.FormatSize(compressed))
	} else {
		c.ctx.Logger.Info("Payload size: unknown (compressed stream)")
	}

	// src.Path is the extracted payload for archives, the original file
	// otherwise.
	return src.Path, src, nil
}

func (c *FlashCommand) selectDevice(sess *session.Session, arg string, src *image.Source) (*device.Device, error) {
	dev, err := c.ctx.FindTarget(arg)
	if err != nil {
		return nil, err
	}

	if !dev.Writable() {
		return nil, fmt.Errorf("refusing to write to %s: not a flashable device", dev.Path)
	}
	if dev.SystemDisk && !c.allowSystemDisk {
		return nil, fmt.Errorf("%w (%s)", device.ErrSystemDiskRefused, dev.Path)
	}
	if src.Size != nil && dev.SizeBytes > 0 && uint64(*src.Size) > dev.SizeBytes {
		return nil, fmt.Errorf("image (%s) does not fit on %s (%s)",
			system.FormatSize(uint64(*src.Size)), dev.Path, system.FormatSize(dev.SizeBytes))
	}

	if err := sess.Advance(session.StateDeviceSelected); err != nil {
		return nil, err
	}

	c.ctx.Logger.Info("Target: %s, %s, %s", dev.Path, system.FormatSize(dev.SizeBytes), dev.Description())
	if len(dev.Mountpoints) > 0 {
		c.ctx.Logger.Warning("Device has mounted partitions; they will be unmounted before writing")
	}
	return dev, nil
}

func (c *FlashCommand) confirm(sess *session.Session, src *image.Source, dev *device.Device) error {
	if !c.yes && !c.dryRun {
		prompt := fmt.Sprintf("About to write %s to %s. ALL DATA on the device will be destroyed. Continue?",
			src.DisplayName(), dev.Path)
		if !ui.PromptConfirm(prompt) {
			return &ExitError{Code: ExitCancelled, Err: fmt.Errorf("aborted by user")}
		}

		// An overridden system disk gets a second, typed confirmation;
		// a stray "y" must not be enough to overwrite the running system.
		if dev.SystemDisk {
			if !ui.PromptTyped("This disk holds the running system", dev.Path) {
				return &ExitError{Code: ExitCancelled, Err: fmt.Errorf("aborted by user")}
			}
		}
	}
	return sess.Advance(session.StateConfirmed)
}

// workerArgs is the serialized form of the write plan
type workerArgs struct {
	imagePath       string
	devicePath      string
	chunkSize       int64
	verify          bool
	dryRun          bool
	allowSystemDisk bool
}

func (w workerArgs) argv() []string {
	args := []string{
		"worker",
		"--image", w.imagePath,
		"--device", w.devicePath,
		"--chunk-size", strconv.FormatInt(w.chunkSize, 10),
	}
	if w.verify {
		args = append(args, "--verify")
	}
	if w.dryRun {
		args = append(args, "--dry-run")
	}
	if w.allowSystemDisk {
		args = append(args, "--allow-system-disk")
	}
	return args
}

// runWorker launches the privileged worker and consumes its event stream
// until a terminal result arrives or the stream dies.
func (c *FlashCommand) runWorker(sess *session.Session, plan workerArgs) (*protocol.Result, error) {
	cmd, err := c.buildWorkerCommand(plan)
	if err != nil {
		return nil, &ExitError{Code: ExitFailed, Err: fmt.Errorf("%w: %v", session.ErrPermissionDenied, err)}
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, &ExitError{Code: ExitFailed, Err: fmt.Errorf("%w: %v", session.ErrPermissionDenied, err)}
	}

	// Interrupts are the worker's to handle: it finishes the in-flight
	// chunk and reports a cancelled result. The controller keeps draining.
	ignore := make(chan os.Signal, 1)
	signal.Notify(ignore, os.Interrupt)
	defer signal.Stop(ignore)

	result, sawEvent, drainErr := c.drainEvents(sess, stdout)
	if errors.Is(drainErr, errAuthTimeout) {
		// The launcher is still sitting on an authorization prompt;
		// don't let Wait block on it forever.
		_ = cmd.Process.Kill()
	}
	waitErr := cmd.Wait()

	if result == nil {
		// The worker died (or its stream garbled) before a terminal
		// record: never assume success.
		if errors.Is(drainErr, errAuthTimeout) || (!sawEvent && isPermissionExit(waitErr)) {
			result = &protocol.Result{
				Outcome: protocol.OutcomeFailed,
				Error: &protocol.WireError{
					Kind:    protocol.KindPermissionDenied,
					Message: session.ErrPermissionDenied.Error(),
				},
			}
		} else {
			result = session.LostResult()
		}
		if err := sess.Finish(result); err != nil {
			c.ctx.Logger.Warning("Cleanup after lost worker failed: %v", err)
		}
	}
	if drainErr != nil {
		c.ctx.Logger.Debug("Event stream error: %v", drainErr)
	}

	return result, nil
}

func (c *FlashCommand) buildWorkerCommand(plan workerArgs) (*exec.Cmd, error) {
	// Dry runs never open the device, so they skip elevation entirely.
	if plan.dryRun && !system.IsRoot() {
		self, err := os.Executable()
		if err != nil {
			return nil, err
		}
		return exec.Command(self, plan.argv()...), nil
	}
	return system.ElevatedCommand(plan.argv()...)
}

// drainEvents consumes the worker's stdout. Only the wait for the first
// event is bounded: that is the elevation prompt window. Write and verify
// have no timeout, device throughput is unbounded a priori. sawEvent
// reports whether any line arrived at all; a silent stream means the worker
// never ran.
func (c *FlashCommand) drainEvents(sess *session.Session, stdout io.Reader) (result *protocol.Result, sawEvent bool, _ error) {
	decoder := protocol.NewDecoder(stdout)
	printer := newProgressPrinter()

	type decoded struct {
		ev  *protocol.Event
		err error
	}
	events := make(chan decoded, 1)
	go func() {
		defer close(events)
		for {
			ev, err := decoder.Next()
			events <- decoded{ev, err}
			if err != nil {
				return
			}
		}
	}()

	timeout := time.NewTimer(c.authTimeout)
	defer timeout.Stop()

	first := true
	for {
		var d decoded
		if first {
			select {
			case d = <-events:
			case <-timeout.C:
				return nil, false, fmt.Errorf("%w after %s", errAuthTimeout, c.authTimeout)
			}
			first = false
		} else {
			d = <-events
		}

		if d.err != nil {
			printer.finish()
			if d.err == io.EOF {
				return sess.Result(), sawEvent, nil
			}
			return sess.Result(), sawEvent, d.err
		}
		sawEvent = true

		ev := d.ev
		if err := sess.Observe(ev); err != nil {
			c.ctx.Logger.Debug("%v", err)
		}

		switch ev.Type {
		case protocol.EventStart:
			c.ctx.Logger.Debug("Worker session %s started", ev.Session)
		case protocol.EventLog:
			printer.finish()
			c.ctx.Logger.Info("%s", ev.Message)
		case protocol.EventProgress:
			printer.update(ev)
		case protocol.EventResult:
			printer.finish()
			return sess.Result(), true, nil
		}
	}
}

// report renders the terminal result and maps it to an exit code
func (c *FlashCommand) report(result *protocol.Result) error {
	switch result.Outcome {
	case protocol.OutcomeSuccess:
		if c.dryRun {
			c.ctx.Logger.Success("Dry run completed (%s accounted)", system.FormatSize(uint64(result.BytesWritten)))
		} else {
			c.ctx.Logger.Success("Write completed (%s)", system.FormatSize(uint64(result.BytesWritten)))
		}
		if v := result.Verification; v != nil {
			if v.FirstMismatchOffset != nil {
				c.ctx.Logger.Error("Verification FAILED: first mismatch at offset %d", *v.FirstMismatchOffset)
				c.ctx.Logger.Error("The data was written but byte accuracy could not be confirmed")
				return &ExitError{Code: ExitFailed, Err: fmt.Errorf("verification mismatch at offset %d", *v.FirstMismatchOffset)}
			}
			c.ctx.Logger.Success("Verification passed (%d chunks checked)", v.ChunksChecked)
		}
		return nil

	case protocol.OutcomeCancelled:
		c.ctx.Logger.Warning("Cancelled after writing %s; the device is partially written",
			system.FormatSize(uint64(result.BytesWritten)))
		return &ExitError{Code: ExitCancelled, Err: fmt.Errorf("operation cancelled")}

	default:
		msg := "unknown error"
		if result.Error != nil {
			msg = result.Error.Message
		}
		c.ctx.Logger.Error("%s", msg)
		return &ExitError{Code: ExitFailed, Err: errors.New(msg)}
	}
}

// isPermissionExit detects elevation refusals from the launcher's exit
// code: pkexec uses 126 (dismissed) and 127 (not authorized). Anything else
// is a worker that ran and died, which the caller reports as a lost
// executor rather than guessing at permissions.
func isPermissionExit(waitErr error) bool {
	var exitErr *exec.ExitError
	if !errors.As(waitErr, &exitErr) {
		return false
	}
	code := exitErr.ExitCode()
	return code == 126 || code == 127
}

// progressPrinter redraws a single progress line on a terminal and falls
// back to periodic plain lines otherwise.
type progressPrinter struct {
	tty      bool
	active   bool
	lastLine time.Time
}

func newProgressPrinter() *progressPrinter {
	return &progressPrinter{
		tty: term.IsTerminal(int(os.Stdout.Fd())),
	}
}

func (p *progressPrinter) update(ev *protocol.Event) {
	label := phaseLabel(ev.Phase)
	var line string
	if ev.BytesTotal != nil && *ev.BytesTotal > 0 {
		percent := float64(ev.BytesDone) / float64(*ev.BytesTotal) * 100
		line = fmt.Sprintf("%s: %5.1f%% (%s / %s)", label, percent,
			system.FormatSize(uint64(ev.BytesDone)), system.FormatSize(uint64(*ev.BytesTotal)))
	} else {
		line = fmt.Sprintf("%s: %s", label, system.FormatSize(uint64(ev.BytesDone)))
	}

	if p.tty {
		fmt.Printf("\r\033[K%s", line)
		p.active = true
		return
	}

	// Avoid flooding logs when stdout is a pipe
	if time.Since(p.lastLine) >= 2*time.Second {
		fmt.Println(line)
		p.lastLine = time.Now()
	}
}

func (p *progressPrinter) finish() {
	if p.tty && p.active {
		fmt.Println()
		p.active = false
	}
}

func phaseLabel(phase protocol.Phase) string {
	switch phase {
	case protocol.PhaseUnmounting:
		return "Unmounting"
	case protocol.PhaseVerifying:
		return "Verifying"
	default:
		return "Writing"
	}
}
