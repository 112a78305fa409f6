package broadcast

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
)

const (
	writeDeadline     = 5 * time.Second
	pingInterval      = 30 * time.Second
	pongDeadline      = 60 * time.Second
	defaultBufferSize = 32
)

// Conn is the part of *websocket.Conn the registry writes through.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

type clientWriter struct {
	connection  Conn
	clock       clockwork.Clock
	sendChannel chan []byte
	doneChannel chan struct{}
	failed      chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
	observe     func(time.Duration)
}

func newClientWriter(connection Conn, clock clockwork.Clock, bufferSize int, observe func(time.Duration)) *clientWriter {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	cw := &clientWriter{
		connection:  connection,
		clock:       clock,
		sendChannel: make(chan []byte, bufferSize),
		doneChannel: make(chan struct{}),
		failed:      make(chan struct{}),
		observe:     observe,
	}
	cw.configurePongHandler()
	cw.wg.Add(1)
	go cw.run()
	return cw
}

func (cw *clientWriter) run() {
	ticker := cw.clock.NewTicker(pingInterval)
	defer ticker.Stop()
	defer cw.wg.Done()

	for {
		select {
		case msg := <-cw.sendChannel:
			start := cw.clock.Now()
			cw.updateWriteDeadline()
			if err := cw.connection.WriteMessage(websocket.TextMessage, msg); err != nil {
				close(cw.failed)
				return
			}
			if cw.observe != nil {
				cw.observe(cw.clock.Since(start))
			}
		case <-ticker.Chan():
			cw.updateWriteDeadline()
			if err := cw.connection.WriteMessage(websocket.PingMessage, nil); err != nil {
				close(cw.failed)
				return
			}
		case <-cw.doneChannel:
			return
		}
	}
}

// trySend enqueues data without blocking. It reports false when the writer has
// stopped, its transport failed, or its buffer is full.
func (cw *clientWriter) trySend(data []byte) bool {
	select {
	case <-cw.doneChannel:
		return false
	case <-cw.failed:
		return false
	default:
	}

	select {
	case cw.sendChannel <- data:
		return true
	default:
		return false
	}
}

// broken reports whether the transport already failed a write.
func (cw *clientWriter) broken() bool {
	select {
	case <-cw.failed:
		return true
	default:
		return false
	}
}

func (cw *clientWriter) stop() {
	cw.stopOnce.Do(func() {
		close(cw.doneChannel)
		_ = cw.connection.Close()
	})
	cw.wg.Wait()
}

// stopGraceful sends a close frame with reason before closing.
func (cw *clientWriter) stopGraceful(reason string) {
	cw.stopOnce.Do(func() {
		close(cw.doneChannel)

		// The run goroutine must be gone before we write, gorilla allows one writer.
		cw.wg.Wait()

		closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
		cw.updateWriteDeadline()
		_ = cw.connection.WriteMessage(websocket.CloseMessage, closeMsg)
		_ = cw.connection.Close()
	})
	cw.wg.Wait()
}

// abort closes the transport under a writer that may be blocked in a write.
// The pending write fails and the writer winds down on its own.
func (cw *clientWriter) abort() {
	_ = cw.connection.Close()
}

func (cw *clientWriter) configurePongHandler() {
	cw.updateReadDeadline()
	cw.connection.SetPongHandler(func(string) error {
		cw.updateReadDeadline()
		return nil
	})
}

func (cw *clientWriter) updateWriteDeadline() {
	_ = cw.connection.SetWriteDeadline(cw.clock.Now().Add(writeDeadline))
}

func (cw *clientWriter) updateReadDeadline() {
	_ = cw.connection.SetReadDeadline(cw.clock.Now().Add(pongDeadline))
}
