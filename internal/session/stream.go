package session

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/andresmejia3/camrig/internal/faults"
	"github.com/andresmejia3/camrig/internal/supervisor"
)

// State is the lifecycle of one camera's encoder.
type State int32

const (
	NoProcess State = iota
	Encoding
	Finalizing
	Closed
)

func (s State) String() string {
	switch s {
	case NoProcess:
		return "no-process"
	case Encoding:
		return "encoding"
	case Finalizing:
		return "finalizing"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// cameraStream owns at most one encoder. mu serializes chunk writes and the
// state transitions; the atomics are for lock-free snapshots.
type cameraStream struct {
	id   string
	path string

	mu     sync.Mutex
	proc   *supervisor.Handle
	sealed bool

	state  atomic.Int32
	chunks atomic.Int64
	bytes  atomic.Int64
}

func (c *cameraStream) setState(s State) { c.state.Store(int32(s)) }
func (c *cameraStream) State() State     { return State(c.state.Load()) }

func validCameraID(id string) error {
	switch {
	case id == "":
		return faults.Invalid("camera id is empty")
	case id == "." || id == "..":
		return faults.Invalid("camera id %q is not allowed", id)
	case strings.ContainsAny(id, "/\\\x00"):
		return faults.Invalid("camera id %q contains a path separator", id)
	case len(id) > 64:
		return faults.Invalid("camera id is longer than 64 bytes")
	}
	return nil
}
