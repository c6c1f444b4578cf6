package protocol

import (
	"encoding/json"
	"io"
	"sync"
)

// Emitter writes wire events, one JSON line each. A single mutex keeps
// lines intact; the worker is the only producer.
type Emitter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewEmitter creates an emitter writing to w
func NewEmitter(w io.Writer) *Emitter {
	return &Emitter{enc: json.NewEncoder(w)}
}

func (e *Emitter) emit(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	// Encoding failures mean the controller is gone; there is nobody left
	// to report them to.
	_ = e.enc.Encode(ev)
}

// Start announces the session is running. The controller uses this as the
// elevation-succeeded signal.
func (e *Emitter) Start(session string) {
	e.emit(Event{Type: EventStart, Session: session})
}

// Progress reports cumulative bytes for a phase
func (e *Emitter) Progress(phase Phase, bytesDone int64, bytesTotal *int64, chunk int64) {
	e.emit(Event{
		Type:       EventProgress,
		Phase:      phase,
		BytesDone:  bytesDone,
		BytesTotal: bytesTotal,
		Chunk:      chunk,
	})
}

// Log forwards a human-readable message to the controller
func (e *Emitter) Log(message string) {
	e.emit(Event{Type: EventLog, Message: message})
}

// Result writes the terminal session record
func (e *Emitter) Result(result *Result) {
	e.emit(Event{Type: EventResult, Result: result})
}
