package session

import (
	"fmt"
	"io"
	"sync"
)

// Console receives the text of Write requests.
type Console interface {
	Write(text string) error
}

// ConsoleFunc adapts a function to the Console interface.
type ConsoleFunc func(text string) error

func (f ConsoleFunc) Write(text string) error {
	return f(text)
}

// WriterConsole prints each received text on its own line.
type WriterConsole struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterConsole returns a Console backed by w.
func NewWriterConsole(w io.Writer) *WriterConsole {
	return &WriterConsole{w: w}
}

func (c *WriterConsole) Write(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintln(c.w, text)
	return err
}

type discardConsole struct{}

func (discardConsole) Write(string) error { return nil }
