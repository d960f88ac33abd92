package rxv6

import (
	"io"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Console is the output device, standing in for the UART. Writes are queued
// on a channel and a goroutine drains them to the host writer, so a hart
// never blocks on the host while it holds the hart.
type Console struct {
	Id string

	mu     sync.Mutex
	closed bool
	output chan []byte
	done   chan struct{}
}

// ConsoleBufferSize is the number of writes the console queues before a
// writer has to wait.
const ConsoleBufferSize = 16

// NewConsole starts a console that copies everything written to w.
func NewConsole(w io.Writer) *Console {
	c := &Console{
		Id:     "console",
		output: make(chan []byte, ConsoleBufferSize),
		done:   make(chan struct{}),
	}

	go func() {
		defer close(c.done)
		for b := range c.output {
			if _, err := w.Write(b); err != nil {
				log.WithError(err).WithField("device", c.Id).Warn("[DEV] console write failed")
			}
		}
	}()

	return c
}

// Write queues a copy of b for output.
func (c *Console) Write(b []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, io.ErrClosedPipe
	}
	c.output <- append([]byte(nil), b...)
	return len(b), nil
}

// Close stops accepting writes and waits until everything queued has
// reached the host writer.
func (c *Console) Close() error {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.output)
	}
	c.mu.Unlock()
	<-c.done
	return nil
}
