// Package pipeline drives single-decode, multi-output frame jobs: one ffmpeg
// decoder feeds raw frames to any number of sinks, each backed by its own
// encoder process.
package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/andresmejia3/camrig/internal/supervisor"
)

// DefaultQueueDepth is the number of frames buffered per sink. A full queue
// blocks the decode loop, which throttles every sink of the job.
const DefaultQueueDepth = 4

// bytesPerPixel of the rgb24 frames every pipeline decodes to.
const bytesPerPixel = 3

const pixelFormat = "rgb24"

// Progress is called after every decoded frame with the running count and
// the container's frame count (0 when unknown).
type Progress func(done, total int)

// sink consumes frames in decode order. consume is never called after it
// returns an error; close is always called exactly once.
type sink interface {
	consume(index int, frame []byte) error
	close() error
}

type frame struct {
	index int
	buf   []byte
	refs  atomic.Int32
	pool  *sync.Pool
}

func (f *frame) release() {
	if f.refs.Add(-1) == 0 {
		f.pool.Put(f.buf[:0])
	}
}

type fanoutResult struct {
	frames    int
	sinkErrs  []error
	decodeErr error
}

// fanout reads frames from dec until end of stream and hands each one to
// every sink through a bounded channel. Every sink is closed and the decoder
// reaped before it returns, including when ctx is cancelled.
func fanout(ctx context.Context, dec *supervisor.Handle, frameSize, depth int, sinks []sink, progress func(int), logger *slog.Logger) fanoutResult {
	if depth <= 0 {
		depth = DefaultQueueDepth
	}
	pool := &sync.Pool{
		New: func() interface{} { return make([]byte, 0, frameSize) },
	}

	res := fanoutResult{sinkErrs: make([]error, len(sinks))}
	queues := make([]chan *frame, len(sinks))
	var wg sync.WaitGroup
	for i, s := range sinks {
		queues[i] = make(chan *frame, depth)
		wg.Add(1)
		go func(i int, s sink, in <-chan *frame) {
			defer wg.Done()
			var err error
			for f := range in {
				// A failed sink keeps draining so the decode loop never
				// stalls on it.
				if err == nil {
					if err = s.consume(f.index, f.buf); err != nil {
						logger.Warn("sink failed, dropping its remaining frames", "sink", i, "frame", f.index, "error", err)
					}
				}
				f.release()
			}
			res.sinkErrs[i] = errors.Join(err, s.close())
		}(i, s, queues[i])
	}

	aborted := false
decode:
	for idx := 0; ; idx++ {
		if ctx.Err() != nil {
			aborted = true
			break
		}
		buf := pool.Get().([]byte)
		if cap(buf) < frameSize {
			buf = make([]byte, frameSize)
		}
		buf = buf[:frameSize]

		if err := dec.ReadFrame(buf); err != nil {
			pool.Put(buf[:0])
			switch {
			case errors.Is(err, io.EOF):
			case errors.Is(err, io.ErrUnexpectedEOF):
				logger.Warn("decoder ended mid-frame, dropping partial frame", "frame", idx)
			default:
				res.decodeErr = err
			}
			break decode
		}

		f := &frame{index: idx, buf: buf, pool: pool}
		f.refs.Store(int32(len(queues)))
		for sent, q := range queues {
			select {
			case q <- f:
			case <-ctx.Done():
				// Drop the references the remaining sinks will never see.
				for i := 0; i < len(queues)-sent; i++ {
					f.release()
				}
				aborted = true
				break decode
			}
		}
		res.frames++
		if progress != nil {
			progress(res.frames)
		}
	}

	if aborted {
		logger.Info("job cancelled, stopping decoder", "frames", res.frames)
		_ = dec.Kill()
	}
	for _, q := range queues {
		close(q)
	}
	wg.Wait()

	if _, err := dec.Finish(); err != nil && !aborted && res.decodeErr == nil {
		res.decodeErr = err
	}
	if aborted {
		res.decodeErr = ctx.Err()
	}
	return res
}
