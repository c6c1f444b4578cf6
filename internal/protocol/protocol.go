// Package protocol defines the line-oriented event stream the privileged
// worker writes on stdout and the controller parses incrementally. One JSON
// object per line; the stream ends with a single result event.
package protocol

// Phase identifies which pipeline stage a progress event belongs to
type Phase string

const (
	PhaseUnmounting Phase = "unmounting"
	PhaseWriting    Phase = "writing"
	PhaseVerifying  Phase = "verifying"
)

// Outcome is the terminal status of a session
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// Error kinds carried on the wire. The controller renders these without
// needing the worker's error types.
const (
	KindInventoryUnavailable = "inventory_unavailable"
	KindSourceUnreadable     = "source_unreadable"
	KindUnsupportedFormat    = "unsupported_format"
	KindAmbiguousArchive     = "ambiguous_archive"
	KindUnmountFailed        = "unmount_failed"
	KindDeviceBusy           = "device_busy"
	KindSystemDisk           = "system_disk"
	KindPermissionDenied     = "permission_denied"
	KindIOWrite              = "io_write"
	KindExecutorLost         = "executor_lost"
	KindCancelled            = "cancelled"
	KindInternal             = "internal"
)

// EventType tags one wire line
type EventType string

const (
	EventStart    EventType = "start"
	EventProgress EventType = "progress"
	EventLog      EventType = "log"
	EventResult   EventType = "result"
)

// Event is one line of the worker's stdout stream
type Event struct {
	Type    EventType `json:"event"`
	Session string    `json:"session,omitempty"`

	Phase      Phase  `json:"phase,omitempty"`
	BytesDone  int64  `json:"bytes_done"`
	BytesTotal *int64 `json:"bytes_total,omitempty"`
	Chunk      int64  `json:"chunk"`

	Message string `json:"message,omitempty"`

	Result *Result `json:"result,omitempty"`
}

// WireError carries a typed failure across the process boundary
type WireError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Offset  *int64 `json:"offset,omitempty"`
}

// Verification summarizes a verify pass. FirstMismatchOffset is nil when
// every compared chunk matched.
type Verification struct {
	ChunksChecked       int64  `json:"chunks_checked"`
	FirstMismatchOffset *int64 `json:"first_mismatch_offset,omitempty"`
}

// Result is the terminal record of one session, created exactly once
type Result struct {
	Outcome      Outcome       `json:"outcome"`
	Error        *WireError    `json:"error,omitempty"`
	BytesWritten int64         `json:"bytes_written"`
	Verification *Verification `json:"verification,omitempty"`
}
