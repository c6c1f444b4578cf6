package flash

import (
	"fmt"

	"github.com/nace/peka/internal/image"
)

// DefaultChunkSize is the unit of transfer and progress reporting
const DefaultChunkSize = 4 * 1024 * 1024

// Plan fully determines one imaging run. It is immutable once handed to
// the worker process.
type Plan struct {
	Source          *image.Source
	DevicePath      string
	ChunkSize       int64
	Verify          bool
	DryRun          bool
	AllowSystemDisk bool
}

// Validate checks the plan is internally consistent
func (p *Plan) Validate() error {
	if p.Source == nil {
		return fmt.Errorf("plan has no image source")
	}
	if p.DevicePath == "" {
		return fmt.Errorf("plan has no target device")
	}
	if p.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", p.ChunkSize)
	}
	return nil
}
