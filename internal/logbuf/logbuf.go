// Package logbuf keeps a bounded in-memory ring of rendered log
// lines and fans them out to live subscribers, alongside whatever
// terminal handler the process logs through.
package logbuf

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
)

// DefaultCapacity is the number of lines the ring retains.
const DefaultCapacity = 1000

// Buffer is the shared line ring. Appends evict the oldest line
// once capacity is reached; subscribers receive every line appended
// after they attach.
type Buffer struct {
	mu       sync.Mutex
	lines    []string
	start    int
	count    int
	capacity int
	nextID   int
	subs     map[int]chan string
}

// NewBuffer returns a ring holding up to capacity lines.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		lines:    make([]string, capacity),
		capacity: capacity,
		subs:     make(map[int]chan string),
	}
}

// Append records one line and notifies subscribers. A subscriber
// that cannot keep up drops lines rather than blocking the logger.
func (b *Buffer) Append(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx := (b.start + b.count) % b.capacity
	if b.count == b.capacity {
		b.start = (b.start + 1) % b.capacity
	} else {
		b.count++
	}
	b.lines[idx] = line

	for _, ch := range b.subs {
		select {
		case ch <- line:
		default:
		}
	}
}

// Recent returns up to n of the most recent lines, oldest first.
// n <= 0 returns everything retained.
func (b *Buffer) Recent(n int) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n <= 0 || n > b.count {
		n = b.count
	}
	out := make([]string, n)
	first := b.count - n
	for i := 0; i < n; i++ {
		out[i] = b.lines[(b.start+first+i)%b.capacity]
	}
	return out
}

// Subscribe attaches a live line feed. The returned cancel func
// detaches and closes the channel; it is safe to call twice.
func (b *Buffer) Subscribe() (<-chan string, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan string, 64)
	b.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Handler tees every record into a Buffer as a rendered text line
// while forwarding it to the wrapped handler unchanged.
type Handler struct {
	next   slog.Handler
	buf    *Buffer
	render slog.Handler
	out    *lockedSink
}

type lockedSink struct {
	mu  sync.Mutex
	bb  bytes.Buffer
	buf *Buffer
}

func (s *lockedSink) Write(p []byte) (int, error) {
	return s.bb.Write(p)
}

// NewHandler wraps next so records also land in buf.
func NewHandler(next slog.Handler, buf *Buffer) *Handler {
	sink := &lockedSink{buf: buf}
	render := slog.NewTextHandler(sink, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})
	return &Handler{next: next, buf: buf, render: render, out: sink}
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	h.out.mu.Lock()
	h.out.bb.Reset()
	err := h.render.Handle(ctx, r)
	line := strings.TrimRight(h.out.bb.String(), "\n")
	h.out.mu.Unlock()
	if err == nil && line != "" {
		h.buf.Append(line)
	}
	return h.next.Handle(ctx, r)
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Handler{
		next:   h.next.WithAttrs(attrs),
		buf:    h.buf,
		render: h.render.WithAttrs(attrs),
		out:    h.out,
	}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{
		next:   h.next.WithGroup(name),
		buf:    h.buf,
		render: h.render.WithGroup(name),
		out:    h.out,
	}
}
