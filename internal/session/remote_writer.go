package session

import (
	"context"
	"strings"
	"sync"
	"unicode/utf8"
)

// maxChunkRunes keeps one Write payload under the size limit even when every
// rune needs a surrogate pair and the cipher adds a padding block.
const maxChunkRunes = 16000

// RemoteWriter buffers text and sends it to the peer's console as Write
// requests when flushed.
type RemoteWriter struct {
	mu  sync.Mutex
	s   *Session
	buf strings.Builder
}

// NewRemoteWriter returns a writer that prints on the peer of s.
func NewRemoteWriter(s *Session) *RemoteWriter {
	return &RemoteWriter{s: s}
}

func (w *RemoteWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

func (w *RemoteWriter) WriteString(str string) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.WriteString(str)
}

// Buffered returns the number of bytes waiting for Flush.
func (w *RemoteWriter) Buffered() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Len()
}

// Flush sends the buffered text. Long text is split over several requests.
// The buffer is emptied even when sending fails.
func (w *RemoteWriter) Flush(ctx context.Context) error {
	w.mu.Lock()
	text := w.buf.String()
	w.buf.Reset()
	w.mu.Unlock()

	for _, chunk := range splitRunes(text, maxChunkRunes) {
		if err := w.s.Write(ctx, chunk); err != nil {
			return err
		}
	}
	return nil
}

func splitRunes(text string, n int) []string {
	var chunks []string
	for text != "" {
		if utf8.RuneCountInString(text) <= n {
			chunks = append(chunks, text)
			break
		}
		i, count := 0, 0
		for i < len(text) && count < n {
			_, size := utf8.DecodeRuneInString(text[i:])
			i += size
			count++
		}
		chunks = append(chunks, text[:i])
		text = text[i:]
	}
	return chunks
}
