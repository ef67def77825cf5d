// Package relay forwards engine output lines to a WebSocket peer.
package relay

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

type Options struct {
	// Header is sent with the handshake.
	Header http.Header
	// QueueSize bounds the lines waiting for the writer. Default 1024.
	QueueSize int
	// WriteTimeout bounds one frame write. Default 5s.
	WriteTimeout time.Duration
	// PingInterval enables keepalive pings when positive.
	PingInterval time.Duration
	Logger       *zap.Logger
}

// WebSocket is an output.Listener that writes each line as one text frame.
// Lines are written in delivery order by a single goroutine.
type WebSocket struct {
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger

	writeTimeout time.Duration

	queue   chan string
	closing chan struct{}

	// sendMu guards closed against OnOutput.
	sendMu sync.RWMutex
	closed bool

	errMu sync.Mutex
	err   error

	writer    sync.WaitGroup
	pinger    sync.WaitGroup
	closeOnce sync.Once
}

func Dial(ctx context.Context, url string, opts Options) (*WebSocket, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, url, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
		HTTPHeader:      opts.Header,
	})
	if err != nil {
		return nil, fmt.Errorf("dial relay %s: %w", url, err)
	}

	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	rootCtx, rootCancel := context.WithCancel(context.Background())
	ws := &WebSocket{
		conn:         conn,
		cancel:       rootCancel,
		logger:       logger,
		writeTimeout: opts.WriteTimeout,
		queue:        make(chan string, opts.QueueSize),
		closing:      make(chan struct{}),
	}
	// The peer never sends data; CloseRead handles control frames.
	ws.ctx = conn.CloseRead(rootCtx)

	ws.writer.Add(1)
	go ws.writeLoop()
	if opts.PingInterval > 0 {
		ws.pinger.Add(1)
		go ws.pingLoop(opts.PingInterval)
	}
	return ws, nil
}

// OnOutput queues line for the writer. It blocks while the queue is full and
// drops the line once the relay is closed or has failed.
func (ws *WebSocket) OnOutput(line string) {
	ws.sendMu.RLock()
	defer ws.sendMu.RUnlock()
	if ws.closed || ws.failed() {
		return
	}
	select {
	case ws.queue <- line:
	case <-ws.ctx.Done():
	}
}

func (ws *WebSocket) writeLoop() {
	defer ws.writer.Done()
	for {
		select {
		case line := <-ws.queue:
			ws.write(line)
		case <-ws.closing:
			for {
				select {
				case line := <-ws.queue:
					ws.write(line)
				default:
					return
				}
			}
		}
	}
}

func (ws *WebSocket) write(line string) {
	if ws.failed() {
		return
	}
	ctx, cancel := context.WithTimeout(ws.ctx, ws.writeTimeout)
	err := ws.conn.Write(ctx, websocket.MessageText, []byte(line))
	cancel()
	if err != nil {
		ws.fail(err)
	}
}

func (ws *WebSocket) pingLoop(interval time.Duration) {
	defer ws.pinger.Done()
	t := time.NewTicker(interval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-ws.ctx.Done():
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(ws.ctx, 3*time.Second)
			err := ws.conn.Ping(ctx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			if failures >= 2 {
				ws.fail(fmt.Errorf("ping: %w", err))
				return
			}
		}
	}
}

func (ws *WebSocket) failed() bool {
	ws.errMu.Lock()
	defer ws.errMu.Unlock()
	return ws.err != nil
}

func (ws *WebSocket) fail(err error) {
	ws.errMu.Lock()
	first := ws.err == nil
	if first {
		ws.err = err
	}
	ws.errMu.Unlock()
	if first {
		ws.logger.Warn("relay write failed", zap.Error(err))
		ws.cancel()
	}
}

// Err returns the first write failure.
func (ws *WebSocket) Err() error {
	ws.errMu.Lock()
	defer ws.errMu.Unlock()
	return ws.err
}

// Close waits for queued lines to be written, then closes the connection.
func (ws *WebSocket) Close() error {
	var err error
	ws.closeOnce.Do(func() {
		ws.sendMu.Lock()
		ws.closed = true
		ws.sendMu.Unlock()

		close(ws.closing)
		ws.writer.Wait()
		err = ws.conn.Close(websocket.StatusNormalClosure, "relay closed")
		ws.cancel()
		ws.pinger.Wait()
	})
	if ws.failed() {
		return ws.Err()
	}
	return err
}
