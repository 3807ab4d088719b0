// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package modbuslink runs the drive parameter protocol over a Modbus bridge.
// Parameter ids are holding register addresses and every value spans two
// registers, most significant word first.
package modbuslink

import (
	"encoding/binary"
	"strings"
	"sync"
	"time"

	"github.com/Thermoquad/argonctl/pkg/simplemotion"
	"github.com/goburrow/modbus"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// registersPerValue is the number of 16-bit registers holding one value.
const registersPerValue = 2

// DefaultTimeout bounds a single Modbus transaction.
const DefaultTimeout = 500 * time.Millisecond

// Client is the part of modbus.Client the link uses.
type Client interface {
	ReadHoldingRegisters(address, quantity uint16) ([]byte, error)
	WriteMultipleRegisters(address, quantity uint16, value []byte) ([]byte, error)
}

// Transport is a connectable Modbus client addressing one unit at a time.
type Transport interface {
	Connect() error
	Close() error
	SetUnit(id uint8)
	Client() Client
}

// Opener builds a transport for a device.
type Opener func(device string, timeout time.Duration) (Transport, error)

type tcpTransport struct {
	handler *modbus.TCPClientHandler
	client  modbus.Client
}

func (t *tcpTransport) Connect() error   { return t.handler.Connect() }
func (t *tcpTransport) Close() error     { return t.handler.Close() }
func (t *tcpTransport) SetUnit(id uint8) { t.handler.SlaveId = id }
func (t *tcpTransport) Client() Client   { return t.client }

type rtuTransport struct {
	handler *modbus.RTUClientHandler
	client  modbus.Client
}

func (t *rtuTransport) Connect() error   { return t.handler.Connect() }
func (t *rtuTransport) Close() error     { return t.handler.Close() }
func (t *rtuTransport) SetUnit(id uint8) { t.handler.SlaveId = id }
func (t *rtuTransport) Client() Client   { return t.client }

// NewOpener returns an Opener that uses Modbus TCP for tcp://host:port
// devices and Modbus RTU at baudRate, 8N1, for anything else.
func NewOpener(baudRate int) Opener {
	return func(device string, timeout time.Duration) (Transport, error) {
		if addr := strings.TrimPrefix(device, "tcp://"); addr != device {
			if addr == "" {
				return nil, errors.New("modbus tcp device needs host:port")
			}
			h := modbus.NewTCPClientHandler(addr)
			h.Timeout = timeout
			return &tcpTransport{handler: h, client: modbus.NewClient(h)}, nil
		}
		h := modbus.NewRTUClientHandler(device)
		h.BaudRate = baudRate
		h.DataBits = 8
		h.Parity = "N"
		h.StopBits = 1
		h.Timeout = timeout
		return &rtuTransport{handler: h, client: modbus.NewClient(h)}, nil
	}
}

// Link is a simplemotion.Bus over Modbus. It serializes requests because it
// changes the unit id per call.
type Link struct {
	open   Opener
	logger *zap.SugaredLogger
	status simplemotion.StatusAccumulator

	mu        sync.Mutex
	timeout   time.Duration
	transport Transport
	handle    simplemotion.Handle
	next      simplemotion.Handle
}

var _ simplemotion.Bus = (*Link)(nil)

// New returns a link that opens devices with open.
func New(open Opener, logger *zap.SugaredLogger) *Link {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Link{
		open:    open,
		logger:  logger,
		timeout: DefaultTimeout,
		handle:  simplemotion.InvalidHandle,
	}
}

// SetTimeout sets the per transaction timeout used by the next Open.
func (l *Link) SetTimeout(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if d > 0 {
		l.timeout = d
	}
}

// Open connects to device.
func (l *Link) Open(device string) (simplemotion.Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.transport != nil {
		return simplemotion.InvalidHandle, errors.Errorf("modbus link already open (handle %d)", l.handle)
	}

	t, err := l.open(device, l.timeout)
	if err != nil {
		return simplemotion.InvalidHandle, err
	}
	if err := t.Connect(); err != nil {
		return simplemotion.InvalidHandle, errors.Wrapf(err, "modbus connect %s", device)
	}

	l.next++
	l.handle = l.next
	l.transport = t
	l.status.Reset()
	l.logger.Debugw("modbus link open", "device", device, "handle", l.handle)
	return l.handle, nil
}

// Close disconnects the link.
func (l *Link) Close(h simplemotion.Handle) simplemotion.StatusCode {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.transport == nil || h != l.handle {
		return simplemotion.StatusErrBus
	}
	err := l.transport.Close()
	l.transport = nil
	l.handle = simplemotion.InvalidHandle
	if err != nil {
		l.logger.Debugw("modbus close failed", "error", err)
		return simplemotion.StatusErrCommunication
	}
	return simplemotion.StatusOK
}

// ReadParameter reads the two registers at param on unit node.
func (l *Link) ReadParameter(h simplemotion.Handle, node uint8, param int16) (simplemotion.StatusCode, int32) {
	status, value := l.read(h, node, param)
	l.status.Add(status)
	return status, value
}

func (l *Link) read(h simplemotion.Handle, node uint8, param int16) (simplemotion.StatusCode, int32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	client, status := l.client(h, node, param)
	if client == nil {
		return status, 0
	}
	data, err := client.ReadHoldingRegisters(uint16(param), registersPerValue)
	if err != nil {
		l.logger.Debugw("modbus read failed", "node", node, "param", param, "error", err)
		return statusFromError(err), 0
	}
	if len(data) != 2*registersPerValue {
		return simplemotion.StatusErrLength, 0
	}
	return simplemotion.StatusOK, int32(binary.BigEndian.Uint32(data))
}

// WriteParameter writes value to the two registers at param on unit node.
func (l *Link) WriteParameter(h simplemotion.Handle, node uint8, param int16, value int32) simplemotion.StatusCode {
	status := l.write(h, node, param, value)
	l.status.Add(status)
	return status
}

func (l *Link) write(h simplemotion.Handle, node uint8, param int16, value int32) simplemotion.StatusCode {
	l.mu.Lock()
	defer l.mu.Unlock()
	client, status := l.client(h, node, param)
	if client == nil {
		return status
	}
	buf := make([]byte, 2*registersPerValue)
	binary.BigEndian.PutUint32(buf, uint32(value))
	if _, err := client.WriteMultipleRegisters(uint16(param), registersPerValue, buf); err != nil {
		l.logger.Debugw("modbus write failed", "node", node, "param", param, "error", err)
		return statusFromError(err)
	}
	return simplemotion.StatusOK
}

// client selects the unit for a transaction. l.mu must be held.
func (l *Link) client(h simplemotion.Handle, node uint8, param int16) (Client, simplemotion.StatusCode) {
	if l.transport == nil || h != l.handle {
		return nil, simplemotion.StatusErrBus
	}
	if param < 0 {
		return nil, simplemotion.StatusErrParameter
	}
	l.transport.SetUnit(node)
	return l.transport.Client(), simplemotion.StatusOK
}

// CumulativeStatus returns every status latched since the last reset.
func (l *Link) CumulativeStatus(h simplemotion.Handle) int64 {
	return l.status.Value()
}

// ResetCumulativeStatus clears the latched status.
func (l *Link) ResetCumulativeStatus(h simplemotion.Handle) simplemotion.StatusCode {
	l.mu.Lock()
	valid := l.transport != nil && h == l.handle
	l.mu.Unlock()
	if !valid {
		return simplemotion.StatusErrBus
	}
	l.status.Reset()
	return simplemotion.StatusOK
}

// statusFromError maps a Modbus failure to a bus status.
func statusFromError(err error) simplemotion.StatusCode {
	var mbErr *modbus.ModbusError
	if errors.As(err, &mbErr) {
		switch mbErr.ExceptionCode {
		case modbus.ExceptionCodeIllegalDataAddress, modbus.ExceptionCodeIllegalDataValue:
			return simplemotion.StatusErrParameter
		}
	}
	return simplemotion.StatusErrCommunication
}
