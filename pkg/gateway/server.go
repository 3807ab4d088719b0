// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package gateway

import (
	"context"
	"io"
	"net/http"
	"sync"

	"github.com/Thermoquad/argonctl/pkg/simplemotion"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Handler answers parameter requests on the gateway side of a link.
type Handler interface {
	ReadParameter(node uint8, param int16) (simplemotion.StatusCode, int32)
	WriteParameter(node uint8, param int16, value int32) simplemotion.StatusCode
}

// BusHandler serves requests from an open simplemotion.Bus.
type BusHandler struct {
	Bus    simplemotion.Bus
	Handle simplemotion.Handle
}

func (b BusHandler) ReadParameter(node uint8, param int16) (simplemotion.StatusCode, int32) {
	return b.Bus.ReadParameter(b.Handle, node, param)
}

func (b BusHandler) WriteParameter(node uint8, param int16, value int32) simplemotion.StatusCode {
	return b.Bus.WriteParameter(b.Handle, node, param, value)
}

// Serve answers requests read from conn until ctx is cancelled or the
// connection fails. Malformed requests get an ERROR response. conn is closed
// when Serve returns.
func Serve(ctx context.Context, conn Conn, handler Handler, logger *zap.SugaredLogger) error {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		conn.Close()
	}()

	decoder := NewDecoder()
	buf := make([]byte, 128)
	for {
		n, err := conn.Read(buf)
		for i := 0; i < n; i++ {
			packet, decodeErr := decoder.DecodeByte(buf[i])
			if decodeErr != nil {
				logger.Debugw("dropped frame", "error", decodeErr)
				continue
			}
			if packet == nil {
				continue
			}
			reply := respond(packet, handler)
			if reply == nil {
				continue
			}
			frame, encErr := Encode(reply)
			if encErr != nil {
				return errors.Wrap(encErr, "encode response")
			}
			if _, werr := conn.Write(frame); werr != nil {
				if ctx.Err() != nil {
					return nil
				}
				return errors.Wrap(werr, "write response")
			}
		}
		if err != nil {
			if ctx.Err() != nil || err == io.EOF {
				return nil
			}
			return errors.Wrap(err, "read request")
		}
	}
}

// respond builds the reply to a request. Responses from other gateways are
// ignored.
func respond(p *Packet, handler Handler) *Packet {
	node := p.Node()
	if err := p.ParseError(); err != nil {
		return NewErrorResponse(node, simplemotion.StatusErrCommunication)
	}
	m := p.PayloadMap()

	switch p.Type() {
	case MsgReadRequest:
		param, ok := paramFrom(m)
		if !ok {
			return NewErrorResponse(node, simplemotion.StatusErrParameter)
		}
		status, value := handler.ReadParameter(node, param)
		return NewReadResponse(node, param, status, value)

	case MsgWriteRequest:
		param, ok := paramFrom(m)
		if !ok {
			return NewErrorResponse(node, simplemotion.StatusErrParameter)
		}
		v, ok := GetMapInt(m, KeyValue)
		if !ok || v < -1<<31 || v > 1<<31-1 {
			return NewWriteResponse(node, param, simplemotion.StatusErrLength)
		}
		return NewWriteResponse(node, param, handler.WriteParameter(node, param, int32(v)))

	case MsgReadResponse, MsgWriteResponse, MsgError:
		return nil
	}
	return NewErrorResponse(node, simplemotion.StatusErrCommunication)
}

func paramFrom(m map[int]interface{}) (int16, bool) {
	v, ok := GetMapInt(m, KeyParam)
	if !ok || v < -1<<15 || v > 1<<15-1 {
		return 0, false
	}
	return int16(v), true
}

// lockedHandler serializes requests from concurrent connections.
type lockedHandler struct {
	mu sync.Mutex
	h  Handler
}

func (l *lockedHandler) ReadParameter(node uint8, param int16) (simplemotion.StatusCode, int32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.h.ReadParameter(node, param)
}

func (l *lockedHandler) WriteParameter(node uint8, param int16, value int32) simplemotion.StatusCode {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.h.WriteParameter(node, param, value)
}

// WebSocketHandler upgrades each request to a websocket and serves it until
// the client disconnects or ctx is cancelled. Requests from all clients are
// handled one at a time.
func WebSocketHandler(ctx context.Context, handler Handler, logger *zap.SugaredLogger) http.Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	locked := &lockedHandler{h: handler}
	upgrader := websocket.Upgrader{ReadBufferSize: 256, WriteBufferSize: 256}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warnw("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
			return
		}
		logger.Infow("client connected", "remote", r.RemoteAddr)
		err = Serve(ctx, NewWebSocketConnection(ws), locked, logger)
		var closeErr *websocket.CloseError
		if err != nil && !errors.As(err, &closeErr) {
			logger.Warnw("client connection failed", "remote", r.RemoteAddr, "error", err)
		}
		logger.Infow("client disconnected", "remote", r.RemoteAddr)
	})
}
