package transport

import (
	"bufio"
	"context"
	"io"
	"sync"
)

// maxLineSize bounds a single newline-delimited message.
const maxLineSize = 1024 * 1024

// StdioTransport implements Transport over newline-delimited JSON on a
// reader/writer pair, normally stdin/stdout.
type StdioTransport struct {
	reader io.Reader
	writer io.Writer
	config Config

	recv    chan *InboundMessage
	send    chan *OutboundMessage
	done    chan struct{}
	readErr error
	mu      sync.Mutex
	writeMu sync.Mutex
	closed  bool
}

// NewStdioTransport creates a new stdio transport.
func NewStdioTransport(r io.Reader, w io.Writer, cfg Config) *StdioTransport {
	cfg = cfg.withDefaults()
	return &StdioTransport{
		reader: r,
		writer: w,
		config: cfg,
		recv:   make(chan *InboundMessage, cfg.RecvBufferSize),
		send:   make(chan *OutboundMessage, cfg.SendBufferSize),
		done:   make(chan struct{}),
	}
}

// Recv returns the channel for incoming messages. It is closed on EOF.
func (t *StdioTransport) Recv() <-chan *InboundMessage {
	return t.recv
}

// Send queues a message for delivery.
func (t *StdioTransport) Send(msg *OutboundMessage) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	t.mu.Unlock()

	select {
	case t.send <- msg:
		return nil
	case <-t.done:
		return ErrClosed
	}
}

// Run starts the transport, blocking until ctx is cancelled or Close is
// called. Queued sends are flushed before it returns. The read side is not
// waited for: a blocked read on stdin cannot be interrupted.
func (t *StdioTransport) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(1)

	go t.readLoop(ctx)

	go func() {
		defer wg.Done()
		t.writeLoop(ctx)
	}()

	select {
	case <-ctx.Done():
	case <-t.done:
	}

	t.Close()
	wg.Wait()

	t.mu.Lock()
	err := t.readErr
	t.mu.Unlock()
	return err
}

// Close initiates graceful shutdown.
func (t *StdioTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.done)
	return nil
}

// readLoop reads lines from input and delivers them on the recv channel.
func (t *StdioTransport) readLoop(ctx context.Context) {
	defer close(t.recv)

	scanner := bufio.NewScanner(t.reader)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		case <-t.done:
			return
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		msg, err := ParseInbound(append([]byte(nil), line...))
		if err != nil {
			t.Send(parseErrorResponse(line, err))
			continue
		}

		select {
		case t.recv <- msg:
		case <-ctx.Done():
			return
		case <-t.done:
			return
		}
	}

	if err := scanner.Err(); err != nil {
		t.mu.Lock()
		t.readErr = err
		t.mu.Unlock()
	}
}

// writeLoop reads from send channel and writes to output.
func (t *StdioTransport) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			t.drainSendQueue()
			return
		case <-t.done:
			t.drainSendQueue()
			return
		case msg := <-t.send:
			t.writeMessage(msg)
		}
	}
}

// drainSendQueue writes any remaining messages in the send queue.
func (t *StdioTransport) drainSendQueue() {
	for {
		select {
		case msg := <-t.send:
			t.writeMessage(msg)
		default:
			return
		}
	}
}

// writeMessage serializes and writes a single message as one line.
func (t *StdioTransport) writeMessage(msg *OutboundMessage) {
	data, err := MarshalOutbound(msg)
	if err != nil {
		return
	}

	t.writeMu.Lock()
	t.writer.Write(append(data, '\n'))
	t.writeMu.Unlock()
}
