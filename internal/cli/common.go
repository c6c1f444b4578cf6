package cli

import (
	"fmt"

	"github.com/nace/peka/internal/device"
	"github.com/nace/peka/internal/system"
	"github.com/nace/peka/internal/ui"
)

// Exit codes for terminal outcomes. Zero is success; cobra handles usage
// errors with 1.
const (
	ExitFailed    = 2
	ExitCancelled = 3
)

// ExitError carries a distinct process exit code out of a command
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }

func (e *ExitError) Unwrap() error { return e.Err }

// GlobalContext holds shared resources for all commands
type GlobalContext struct {
	Executor  *system.Executor
	Logger    *ui.Logger
	Inventory *device.Inventory
	Unmounter *device.Unmounter
}

// NewGlobalContext creates a new global context
func NewGlobalContext(verbose, quiet, noColor, debug bool) *GlobalContext {
	executor := system.NewExecutor(debug)
	logger := ui.NewLogger(verbose, quiet, noColor)

	return &GlobalContext{
		Executor:  executor,
		Logger:    logger,
		Inventory: device.NewInventory(executor),
		Unmounter: device.NewUnmounter(executor),
	}
}

// Recreate rebuilds the shared components with parsed flag values while
// keeping the pointer the commands captured at registration time.
func (ctx *GlobalContext) Recreate(verbose, quiet, noColor, debug bool) {
	ctx.Executor = system.NewExecutor(debug)
	ctx.Logger = ui.NewLogger(verbose, quiet, noColor)
	ctx.Inventory = device.NewInventory(ctx.Executor)
	ctx.Unmounter = device.NewUnmounter(ctx.Executor)
}

// CheckDependencies checks for required system commands
func (ctx *GlobalContext) CheckDependencies() error {
	deps := []string{
		"lsblk",
		"umount",
	}
	return ctx.Executor.CheckDependencies(deps)
}

// FindTarget matches a device identifier against a fresh inventory snapshot
func (ctx *GlobalContext) FindTarget(identifier string) (*device.Device, error) {
	dev, err := ctx.Inventory.FindByPath(identifier)
	if err != nil {
		return nil, err
	}
	if dev == nil {
		return nil, fmt.Errorf("no block device found at %s (see `peka list`)", identifier)
	}
	return dev, nil
}
