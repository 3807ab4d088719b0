// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package gateway

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.bug.st/serial"
)

// Conn is a byte stream to a gateway.
type Conn interface {
	io.Reader
	io.Writer
	io.Closer
}

// ErrConnectionClosed is returned when reading from a closed websocket.
var ErrConnectionClosed = errors.New("websocket connection closed")

// SerialConnection wraps a serial port.
type SerialConnection struct {
	port serial.Port
}

func (s *SerialConnection) Read(p []byte) (int, error)  { return s.port.Read(p) }
func (s *SerialConnection) Write(p []byte) (int, error) { return s.port.Write(p) }
func (s *SerialConnection) Close() error                { return s.port.Close() }

// WebSocketConnection adapts binary websocket messages to a byte stream.
type WebSocketConnection struct {
	conn      *websocket.Conn
	buf       []byte
	bufOffset int
	closed    bool
}

// NewWebSocketConnection wraps an established websocket, such as one
// accepted by an Upgrader.
func NewWebSocketConnection(c *websocket.Conn) *WebSocketConnection {
	return &WebSocketConnection{conn: c}
}

func (w *WebSocketConnection) Read(p []byte) (int, error) {
	if w.closed {
		return 0, ErrConnectionClosed
	}
	if w.bufOffset < len(w.buf) {
		n := copy(p, w.buf[w.bufOffset:])
		w.bufOffset += n
		return n, nil
	}
	for {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			w.closed = true
			return 0, err
		}
		if messageType != websocket.BinaryMessage {
			continue
		}
		w.buf = data
		n := copy(p, w.buf)
		w.bufOffset = n
		return n, nil
	}
}

func (w *WebSocketConnection) Write(p []byte) (int, error) {
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *WebSocketConnection) Close() error {
	return w.conn.Close()
}

// OpenSerialConnection opens a serial port at baudRate, 8N1. Reads return
// after readTimeout with no data; zero blocks.
func OpenSerialConnection(portName string, baudRate int, readTimeout time.Duration) (*SerialConnection, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open serial port %s", portName)
	}
	if readTimeout > 0 {
		if err := port.SetReadTimeout(readTimeout); err != nil {
			port.Close()
			return nil, errors.Wrapf(err, "failed to set read timeout on %s", portName)
		}
	}
	return &SerialConnection{port: port}, nil
}

// OpenWebSocketConnection dials a ws:// or wss:// gateway with optional HTTP
// Basic auth.
func OpenWebSocketConnection(wsURL, username, password string, skipSSLVerify bool) (*WebSocketConnection, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, errors.Wrap(err, "invalid URL")
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, errors.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: skipSSLVerify}
	}

	headers := http.Header{}
	if username != "" && password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, errors.Wrapf(err, "websocket connection failed (HTTP %d)", resp.StatusCode)
		}
		return nil, errors.Wrap(err, "websocket connection failed")
	}
	return &WebSocketConnection{conn: conn}, nil
}

// IsWebSocketURL reports whether device names a websocket gateway.
func IsWebSocketURL(device string) bool {
	return strings.HasPrefix(device, "ws://") || strings.HasPrefix(device, "wss://")
}

// DialConfig selects how devices are opened.
type DialConfig struct {
	BaudRate      int
	ReadTimeout   time.Duration
	Username      string
	Password      string
	SkipSSLVerify bool
}

// Dialer opens a connection to a device.
type Dialer func(device string) (Conn, error)

// NewDialer returns a Dialer that opens websocket URLs as websockets and
// anything else as a serial port.
func NewDialer(cfg DialConfig) Dialer {
	return func(device string) (Conn, error) {
		if IsWebSocketURL(device) {
			return OpenWebSocketConnection(device, cfg.Username, cfg.Password, cfg.SkipSSLVerify)
		}
		return OpenSerialConnection(device, cfg.BaudRate, cfg.ReadTimeout)
	}
}
