package pipeline

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"os"

	"github.com/andresmejia3/camrig/internal/types"
)

var eventLogHeader = []string{"timestamp_sec", "roi_name"}

// eventLog appends detection rows to a CSV file. Rows are written in the
// order they are appended, which is decode order.
type eventLog struct {
	f      *os.File
	buf    *bufio.Writer
	w      *csv.Writer
	events []types.DetectionEvent
}

func createEventLog(path string) (*eventLog, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create event log: %w", err)
	}
	buf := bufio.NewWriter(f)
	w := csv.NewWriter(buf)
	if err := w.Write(eventLogHeader); err != nil {
		f.Close()
		return nil, err
	}
	return &eventLog{f: f, buf: buf, w: w}, nil
}

func (l *eventLog) append(ev types.DetectionEvent) error {
	l.events = append(l.events, ev)
	return l.w.Write([]string{fmt.Sprintf("%.3f", ev.Timestamp), ev.Label})
}

func (l *eventLog) close() error {
	l.w.Flush()
	err := l.w.Error()
	if ferr := l.buf.Flush(); err == nil {
		err = ferr
	}
	if cerr := l.f.Close(); err == nil {
		err = cerr
	}
	return err
}
