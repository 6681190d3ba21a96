package handlers

import (
	"bytes"
	"io"
	"sync"
)

var sseBufferPool = sync.Pool{
	New: func() any {
		return new(bytes.Buffer)
	},
}

var (
	sseEventPrefix = []byte("event: ")
	sseDataPrefix  = []byte("\ndata: ")
	sseSuffix      = []byte("\n\n")
	ssePing        = []byte("event: ping\ndata: {\"type\": \"ping\"}\n\n")
)

// WriteSSEEvent writes one named SSE event.
func WriteSSEEvent(w io.Writer, event string, data []byte) {
	if w == nil || len(data) == 0 {
		return
	}
	buf := sseBufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	buf.Grow(len(sseEventPrefix) + len(event) + len(sseDataPrefix) + len(data) + len(sseSuffix))
	_, _ = buf.Write(sseEventPrefix)
	_, _ = buf.WriteString(event)
	_, _ = buf.Write(sseDataPrefix)
	_, _ = buf.Write(data)
	_, _ = buf.Write(sseSuffix)
	_, _ = w.Write(buf.Bytes())
	buf.Reset()
	sseBufferPool.Put(buf)
}

// WriteSSEFrame writes a frame that is already SSE-encoded.
func WriteSSEFrame(w io.Writer, frame string) {
	if w == nil || frame == "" {
		return
	}
	_, _ = io.WriteString(w, frame)
}

// WriteSSEError writes a Claude "error" event carrying an error envelope.
func WriteSSEError(w io.Writer, envelope []byte) {
	WriteSSEEvent(w, "error", envelope)
}

// WriteSSEPing writes the keep-alive event clients ignore.
func WriteSSEPing(w io.Writer) {
	if w == nil {
		return
	}
	_, _ = w.Write(ssePing)
}
