package api

import (
	"bytes"
	"strings"
	"sync"
	"time"

	"github.com/petervdpas/goopcall/internal/util"
)

type LogEntry struct {
	TS  time.Time `json:"ts"`
	Msg string    `json:"msg"`
}

// LogBuffer keeps the most recent process log lines and fans new ones out
// to subscribers. Install it with log.SetOutput(io.MultiWriter(os.Stderr, buf)).
type LogBuffer struct {
	mu      sync.Mutex
	entries *util.RingBuffer[LogEntry]
	subs    map[chan LogEntry]struct{}
	partial bytes.Buffer
}

func NewLogBuffer(max int) *LogBuffer {
	if max <= 0 {
		max = 500
	}
	return &LogBuffer{
		entries: util.NewRingBuffer[LogEntry](max),
		subs:    make(map[chan LogEntry]struct{}),
	}
}

// Write splits p into lines. A trailing partial line waits for the rest.
func (b *LogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.partial.Write(p)
	for {
		data := b.partial.Bytes()
		i := bytes.IndexByte(data, '\n')
		if i == -1 {
			break
		}
		line := strings.TrimRight(string(data[:i]), "\r")
		b.partial.Next(i + 1)
		if strings.TrimSpace(line) == "" {
			continue
		}

		e := LogEntry{TS: time.Now(), Msg: line}
		b.entries.Push(e)
		for ch := range b.subs {
			select {
			case ch <- e:
			default:
				// drop on slow subscriber
			}
		}
	}
	return len(p), nil
}

func (b *LogBuffer) Snapshot() []LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.entries.Snapshot()
}

// Tail returns the last n entries.
func (b *LogBuffer) Tail(n int) []LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.entries.Tail(n)
}

func (b *LogBuffer) Subscribe() (<-chan LogEntry, func()) {
	ch := make(chan LogEntry, 64)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}
