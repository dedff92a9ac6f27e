package docent

import (
	"context"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Stream operators form a one-directional pipeline of text chunks. Every
// operator owns its output channel, closes it when the input ends, and stops
// producing promptly when ctx is cancelled, releasing any pending timer.

type chunkOptions struct {
	perChunkDelay time.Duration
	totalDelay    time.Duration
}

// ChunkOption configures ChunkString pacing.
type ChunkOption func(*chunkOptions)

// WithChunkDelay waits d before each emitted chunk.
func WithChunkDelay(d time.Duration) ChunkOption {
	return func(o *chunkOptions) {
		o.perChunkDelay = d
	}
}

// WithTotalDelay divides a total delay budget evenly across the computed chunk
// count. Overrides WithChunkDelay when both are set.
func WithTotalDelay(d time.Duration) ChunkOption {
	return func(o *chunkOptions) {
		o.totalDelay = d
	}
}

// ChunkString splits content into fixed-size slices and emits them on the
// returned channel. size below 1 is treated as 1. Splitting is by byte; chunk
// boundaries may fall inside multi-byte runes, and concatenating all chunks
// always reproduces content exactly.
func ChunkString(ctx context.Context, content string, size int, opts ...ChunkOption) <-chan string {
	var o chunkOptions
	for _, opt := range opts {
		opt(&o)
	}
	if size < 1 {
		size = 1
	}
	chunks := make([]string, 0, (len(content)+size-1)/size)
	for i := 0; i < len(content); i += size {
		end := min(i+size, len(content))
		chunks = append(chunks, content[i:end])
	}
	delay := o.perChunkDelay
	if o.totalDelay > 0 && len(chunks) > 0 {
		delay = o.totalDelay / time.Duration(len(chunks))
	}

	out := make(chan string)
	go func() {
		defer close(out)
		for _, chunk := range chunks {
			if delay > 0 {
				if !sleepCtx(ctx, delay) {
					return
				}
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Buffer accumulates chunks and emits when the buffer reaches size or, when
// flushOnNewline is set, as soon as it contains a newline. Any remainder is
// flushed when the input ends.
func Buffer(ctx context.Context, in <-chan string, size int, flushOnNewline bool) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		var buf strings.Builder
		flush := func() bool {
			if buf.Len() == 0 {
				return true
			}
			select {
			case out <- buf.String():
				buf.Reset()
				return true
			case <-ctx.Done():
				return false
			}
		}
		for {
			select {
			case chunk, ok := <-in:
				if !ok {
					flush()
					return
				}
				buf.WriteString(chunk)
				if buf.Len() >= size || (flushOnNewline && strings.Contains(buf.String(), "\n")) {
					if !flush() {
						return
					}
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Throttle enforces a minimum inter-emission interval of 1/perSecond. A
// non-positive rate disables throttling and the input is forwarded as-is.
func Throttle(ctx context.Context, in <-chan string, perSecond float64) <-chan string {
	if perSecond <= 0 {
		return in
	}
	limiter := rate.NewLimiter(rate.Limit(perSecond), 1)
	out := make(chan string)
	go func() {
		defer close(out)
		for {
			select {
			case chunk, ok := <-in:
				if !ok {
					return
				}
				if err := limiter.Wait(ctx); err != nil {
					return
				}
				select {
				case out <- chunk:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Filter forwards only chunks for which keep returns true.
func Filter(ctx context.Context, in <-chan string, keep func(string) bool) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		for {
			select {
			case chunk, ok := <-in:
				if !ok {
					return
				}
				if !keep(chunk) {
					continue
				}
				select {
				case out <- chunk:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Transform applies fn to each chunk. A failed mapping re-emits the original
// chunk unchanged instead of aborting the stream.
func Transform(ctx context.Context, in <-chan string, fn func(string) (string, error)) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		for {
			select {
			case chunk, ok := <-in:
				if !ok {
					return
				}
				mapped, err := fn(chunk)
				if err != nil {
					mapped = chunk
				}
				select {
				case out <- mapped:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Aggregate concatenates all chunks into one string. It fails with
// ErrAggregateOverflow as soon as the running total exceeds maxLength — a
// guard against unbounded growth, never a silent truncation. The caller should
// cancel ctx on error so upstream producers stop.
func Aggregate(ctx context.Context, in <-chan string, maxLength int) (string, error) {
	var sb strings.Builder
	for {
		select {
		case chunk, ok := <-in:
			if !ok {
				return sb.String(), nil
			}
			if sb.Len()+len(chunk) > maxLength {
				return "", ErrAggregateOverflow
			}
			sb.WriteString(chunk)
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// sleepCtx waits for d or until ctx is cancelled; reports whether the full
// delay elapsed. The timer is released either way.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
