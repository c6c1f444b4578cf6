package protocol

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
)

// Decoder reads the worker's event stream line by line. Lines that do not
// parse as events are surfaced as raw text rather than killing the stream:
// a dying worker can leave a partial or garbled final line behind, and the
// controller must treat that as a lost executor, not a parse crash.
type Decoder struct {
	scanner *bufio.Scanner
}

// NewDecoder creates a decoder reading from r
func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Decoder{scanner: scanner}
}

// Next returns the next decoded event. Garbled lines are returned as log
// events carrying the raw text. io.EOF marks the end of the stream.
func (d *Decoder) Next() (*Event, error) {
	for d.scanner.Scan() {
		line := strings.TrimSpace(d.scanner.Text())
		if line == "" {
			continue
		}

		var ev Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil || ev.Type == "" {
			return &Event{Type: EventLog, Message: line}, nil
		}
		return &ev, nil
	}

	if err := d.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}
