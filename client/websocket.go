package client

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Callback interface for handling incoming WebSocket messages
type WebSocketCallback interface {
	OnMessage(message string)
}

type WebSocketConnection struct {
	WebSocketURL   string
	Conn           *websocket.Conn
	ConnectionDone chan bool
	IsConnected    bool
	MaxRetry       int
	RetryCount     int
	mu             sync.Mutex
	Callback       WebSocketCallback

	// Exponential backoff configuration
	BaseDelay time.Duration // The initial delay, e.g., 1 second
	MaxDelay  time.Duration // The maximum delay, e.g., 1 minute
	Dialer    websocket.Dialer

	log *zap.Logger
}

func NewWebSocketConnection(wsURL string, callback WebSocketCallback, logger *zap.Logger) *WebSocketConnection {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebSocketConnection{
		WebSocketURL:   wsURL,
		ConnectionDone: make(chan bool, 1),
		MaxRetry:       5,
		BaseDelay:      1 * time.Second,
		MaxDelay:       10 * time.Second,
		Dialer:         *websocket.DefaultDialer,
		Callback:       callback,
		log:            logger,
	}
}

// ConnectWithManager connects to the WebSocket using a connection manager
// timeoutSeconds is the maximum time to wait for a successful connection (0 for no wait, <0 wait forever)
func (w *WebSocketConnection) ConnectWithManager(timeoutSeconds int) error {
	// closed on success, receives an error once retries are exhausted
	connected := make(chan error, 1)
	attemptConnect := make(chan bool, 1)
	attemptConnect <- true

	go func() {
		retries := 0
		for range attemptConnect {
			err := w.connect()
			if err != nil {
				w.log.Error("Connection attempt failed", zap.Error(err))
				w.setConnected(false)

				retries++
				if retries > w.MaxRetry {
					connected <- fmt.Errorf("maximum number of retries reached (%d): %w", w.MaxRetry, err)
					return
				}

				time.AfterFunc(w.getReconnectDelay(), func() {
					attemptConnect <- true
				})
				continue
			}

			w.setConnected(true)
			close(connected)
			w.handleMessages()
			return
		}
	}()

	if timeoutSeconds > 0 {
		timeout := time.Duration(timeoutSeconds) * time.Second
		select {
		case err := <-connected:
			return err
		case <-time.After(timeout):
			return fmt.Errorf("connection timeout after %v", timeout)
		}
	} else if timeoutSeconds < 0 {
		return <-connected
	}

	return nil
}

func (w *WebSocketConnection) connect() error {
	conn, _, err := w.Dialer.Dial(w.WebSocketURL, nil)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.Conn = conn
	w.mu.Unlock()
	return nil
}

func (w *WebSocketConnection) setConnected(v bool) {
	w.mu.Lock()
	w.IsConnected = v
	w.mu.Unlock()
}

func (w *WebSocketConnection) Connected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.IsConnected
}

func (w *WebSocketConnection) Ping() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.Conn == nil {
		return fmt.Errorf("not connected")
	}
	return w.Conn.WriteMessage(websocket.PingMessage, nil)
}

// Close closes the underlying connection, which ends the read loop
func (w *WebSocketConnection) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.Conn == nil {
		return nil
	}
	return w.Conn.Close()
}

// Handle incoming WebSocket messages until the connection drops
func (w *WebSocketConnection) handleMessages() {
	defer func() {
		w.Close()
		w.setConnected(false)
		w.ConnectionDone <- true
	}()
	for {
		_, message, err := w.Conn.ReadMessage()
		if err != nil {
			w.log.Warn("Read error", zap.Error(err))
			break
		}
		if w.Callback != nil {
			w.Callback.OnMessage(string(message))
		}
	}
}

// exponential backoff calculation
func (w *WebSocketConnection) getReconnectDelay() time.Duration {
	// Calculate the delay as BaseDelay * 2^(RetryCount), capped at MaxDelay
	delay := w.BaseDelay * time.Duration(math.Pow(2, float64(w.RetryCount)))
	if delay > w.MaxDelay {
		delay = w.MaxDelay
	}
	w.RetryCount++ // Increment the retry counter for the next attempt
	return delay
}
