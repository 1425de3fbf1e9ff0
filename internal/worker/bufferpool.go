package worker

import (
	"bytes"
	"sync"
)

// scratchBufferPool pools the bytes.Buffer used to JSON-marshal each event
// in a batch, avoiding a fresh allocation per event on the hot path. The
// reuse-via-sync.Pool shape follows the same buffer-reuse discipline as the
// teacher's internal/audit/sink.go BatchSink, which reuses its drained
// buffer slice instead of allocating a fresh one per flush.
var scratchBufferPool = sync.Pool{
	New: func() interface{} {
		return new(bytes.Buffer)
	},
}

func getScratchBuffer() *bytes.Buffer {
	buf := scratchBufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

func putScratchBuffer(buf *bytes.Buffer) {
	if buf.Cap() > 1<<20 {
		// Don't hold on to an unusually large buffer forever.
		return
	}
	scratchBufferPool.Put(buf)
}
