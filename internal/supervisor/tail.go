package supervisor

import (
	"bytes"
	"strings"
	"sync"

	"github.com/ixugo/goddd/pkg/queue"
)

const tailLines = 100

// tail keeps the last lines written to it, capped to limit bytes when read.
type tail struct {
	mu      sync.Mutex
	limit   int
	lines   *queue.CirQueue[string]
	partial []byte
}

func newTail(limit int) *tail {
	return &tail{limit: limit, lines: queue.NewCirQueue[string](tailLines)}
}

func (t *tail) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(p)
	for len(p) > 0 {
		i := bytes.IndexByte(p, '\n')
		if i < 0 {
			t.partial = append(t.partial, p...)
			if len(t.partial) > t.limit {
				t.partial = t.partial[len(t.partial)-t.limit:]
			}
			break
		}
		line := string(append(t.partial, p[:i]...))
		t.partial = t.partial[:0]
		t.lines.Push(strings.TrimRight(line, "\r"))
		p = p[i+1:]
	}
	return n, nil
}

// String returns the captured tail, newest line last.
func (t *tail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var b strings.Builder
	for _, line := range t.lines.Range() {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.Write(t.partial)

	s := strings.TrimRight(b.String(), "\n")
	if len(s) > t.limit {
		s = s[len(s)-t.limit:]
	}
	return s
}
