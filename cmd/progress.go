package cmd

import (
	"os"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/andresmejia3/camrig/internal/logging"
	"github.com/andresmejia3/camrig/internal/pipeline"
)

// frameBar draws decoded-frame progress on stderr. The bar is created on the
// first report, once the total frame count is known from the probe.
type frameBar struct {
	desc string
	once sync.Once
	bar  *progressbar.ProgressBar
}

// newFrameBar returns nil when stderr is not a terminal.
func newFrameBar(desc string) *frameBar {
	if !logging.IsTerminal(os.Stderr) {
		return nil
	}
	return &frameBar{desc: desc}
}

// Progress is nil-safe so callers can pass it straight to a request.
func (b *frameBar) Progress() pipeline.Progress {
	if b == nil {
		return nil
	}
	return func(done, total int) {
		b.once.Do(func() {
			if total <= 0 {
				// Fallback to a spinner if the container has no frame count
				total = -1
			}
			b.bar = progressbar.NewOptions(total,
				progressbar.OptionSetDescription(b.desc),
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionShowCount(),
				progressbar.OptionThrottle(100*time.Millisecond),
			)
		})
		_ = b.bar.Set(done)
	}
}

func (b *frameBar) Finish() {
	if b == nil || b.bar == nil {
		return
	}
	_ = b.bar.Finish()
	os.Stderr.WriteString("\n")
}
