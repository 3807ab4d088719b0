// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package gateway

import (
	"sync"
	"time"

	"github.com/Thermoquad/argonctl/pkg/simplemotion"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// DefaultTimeout bounds a single request/response transaction.
const DefaultTimeout = 500 * time.Millisecond

// Client is a simplemotion.Bus that talks to drives through a gateway. Calls
// are serialised; one transaction is in flight at a time.
type Client struct {
	dial   Dialer
	logger *zap.SugaredLogger
	stats  *Statistics
	status simplemotion.StatusAccumulator

	mu         sync.Mutex
	timeout    time.Duration
	conn       Conn
	handle     simplemotion.Handle
	nextHandle simplemotion.Handle
	rx         chan *Packet
	readerDone chan struct{}
}

var _ simplemotion.Bus = (*Client)(nil)

// NewClient returns a client that opens devices with dial.
func NewClient(dial Dialer, logger *zap.SugaredLogger) *Client {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Client{
		dial:    dial,
		logger:  logger,
		stats:   NewStatistics(),
		timeout: DefaultTimeout,
		handle:  simplemotion.InvalidHandle,
	}
}

// Statistics returns the link counters.
func (c *Client) Statistics() *Statistics { return c.stats }

// SetTimeout sets the per transaction timeout.
func (c *Client) SetTimeout(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d > 0 {
		c.timeout = d
	}
}

// Open connects to the gateway at device. Only one device may be open.
func (c *Client) Open(device string) (simplemotion.Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return simplemotion.InvalidHandle, errors.Errorf("gateway client already open (handle %d)", c.handle)
	}

	conn, err := c.dial(device)
	if err != nil {
		return simplemotion.InvalidHandle, err
	}

	c.nextHandle++
	c.handle = c.nextHandle
	c.conn = conn
	c.rx = make(chan *Packet, 16)
	c.readerDone = make(chan struct{})
	c.status.Reset()
	go c.readLoop(conn, c.rx, c.readerDone)

	c.logger.Debugw("gateway link open", "device", device, "handle", c.handle)
	return c.handle, nil
}

// Close closes the link and waits for the reader to exit.
func (c *Client) Close(h simplemotion.Handle) simplemotion.StatusCode {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || h != c.handle {
		return simplemotion.StatusErrBus
	}

	err := c.conn.Close()
	<-c.readerDone
	c.conn = nil
	c.handle = simplemotion.InvalidHandle
	if err != nil {
		c.logger.Debugw("gateway close failed", "error", err)
		return simplemotion.StatusErrCommunication
	}
	return simplemotion.StatusOK
}

// ReadParameter reads one register from node.
func (c *Client) ReadParameter(h simplemotion.Handle, node uint8, param int16) (simplemotion.StatusCode, int32) {
	resp, status := c.transact(h, NewReadRequest(node, param), param)
	c.status.Add(status)
	if !status.IsOK() {
		return status, 0
	}
	return status, resp.Value
}

// WriteParameter writes one register on node.
func (c *Client) WriteParameter(h simplemotion.Handle, node uint8, param int16, value int32) simplemotion.StatusCode {
	_, status := c.transact(h, NewWriteRequest(node, param, value), param)
	c.status.Add(status)
	return status
}

// CumulativeStatus returns every status latched since the last reset.
func (c *Client) CumulativeStatus(h simplemotion.Handle) int64 {
	return c.status.Value()
}

// ResetCumulativeStatus clears the latched status.
func (c *Client) ResetCumulativeStatus(h simplemotion.Handle) simplemotion.StatusCode {
	c.mu.Lock()
	valid := c.conn != nil && h == c.handle
	c.mu.Unlock()
	if !valid {
		return simplemotion.StatusErrBus
	}
	c.status.Reset()
	return simplemotion.StatusOK
}

func (c *Client) transact(h simplemotion.Handle, req *Packet, param int16) (Response, simplemotion.StatusCode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || h != c.handle {
		return Response{}, simplemotion.StatusErrBus
	}

	select {
	case <-c.readerDone:
		return Response{}, simplemotion.StatusErrCommunication
	default:
	}

	// Responses to timed out requests may still arrive.
drain:
	for {
		select {
		case <-c.rx:
			c.stats.RecordUnexpected()
		default:
			break drain
		}
	}

	frame, err := Encode(req)
	if err != nil {
		c.logger.Debugw("gateway encode failed", "error", err)
		return Response{}, simplemotion.StatusErrCommunication
	}
	c.stats.RecordRequest()
	if _, err := c.conn.Write(frame); err != nil {
		c.logger.Debugw("gateway write failed", "error", err)
		return Response{}, simplemotion.StatusErrCommunication
	}

	want := req.Type() + 0x10
	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	for {
		select {
		case p := <-c.rx:
			if p.Node() != req.Node() {
				c.stats.RecordUnexpected()
				continue
			}
			resp, err := ParseResponse(p)
			if err != nil {
				c.stats.RecordUnexpected()
				c.logger.Debugw("gateway response rejected", "error", err)
				continue
			}
			if resp.Type == MsgError {
				c.stats.RecordErrorResponse()
				if resp.Status.IsOK() {
					return resp, simplemotion.StatusErrCommunication
				}
				return resp, resp.Status
			}
			if resp.Type != want || resp.Param != param {
				c.stats.RecordUnexpected()
				continue
			}
			return resp, resp.Status
		case <-timer.C:
			c.stats.RecordTimeout()
			return Response{}, simplemotion.StatusErrCommunication
		case <-c.readerDone:
			return Response{}, simplemotion.StatusErrCommunication
		}
	}
}

// readLoop decodes frames until the connection fails or is closed.
func (c *Client) readLoop(conn Conn, rx chan<- *Packet, done chan<- struct{}) {
	defer close(done)
	decoder := NewDecoder()
	buf := make([]byte, 128)
	for {
		n, err := conn.Read(buf)
		for i := 0; i < n; i++ {
			packet, decodeErr := decoder.DecodeByte(buf[i])
			if packet == nil && decodeErr == nil {
				continue
			}
			c.stats.RecordDecode(packet, decodeErr)
			if packet == nil {
				continue
			}
			select {
			case rx <- packet:
			default:
				c.stats.RecordUnexpected()
			}
		}
		if err != nil {
			c.logger.Debugw("gateway reader stopped", "error", err)
			return
		}
	}
}
