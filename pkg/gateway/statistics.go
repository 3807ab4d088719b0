// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package gateway

import (
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Statistics counts link traffic and failures. It is safe for concurrent
// use; read it through Snapshot.
type Statistics struct {
	mu sync.Mutex
	Counters
}

// Counters is a point in time copy of the statistics.
type Counters struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	Requests       uint64
	TotalPackets   uint64
	ValidPackets   uint64
	CRCErrors      uint64
	DecodeErrors   uint64
	Timeouts       uint64
	Unexpected     uint64
	ErrorResponses uint64

	// Rates (calculated)
	PacketRate float64 // packets/sec
	ErrorRate  float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{Counters: Counters{StartTime: now, LastUpdateTime: now}}
}

// RecordRequest counts a request written to the link.
func (s *Statistics) RecordRequest() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Requests++
}

// RecordDecode counts the outcome of one decoded frame.
func (s *Statistics) RecordDecode(p *Packet, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.TotalPackets++
	var crcErr *CRCError
	switch {
	case errors.As(err, &crcErr):
		s.CRCErrors++
	case err != nil:
		s.DecodeErrors++
	case p != nil && p.ParseError() != nil:
		s.DecodeErrors++
	default:
		s.ValidPackets++
	}
}

// RecordTimeout counts a request that got no response in time.
func (s *Statistics) RecordTimeout() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Timeouts++
}

// RecordUnexpected counts a frame that did not answer the pending request.
func (s *Statistics) RecordUnexpected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Unexpected++
}

// RecordErrorResponse counts an ERROR frame from the gateway.
func (s *Statistics) RecordErrorResponse() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ErrorResponses++
}

// CalculateRates updates the packet and error rates since start.
func (s *Statistics) CalculateRates() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.LastUpdateTime = now
	elapsed := now.Sub(s.StartTime).Seconds()
	if elapsed <= 0 {
		return
	}
	s.PacketRate = float64(s.TotalPackets) / elapsed
	s.ErrorRate = float64(s.CRCErrors+s.DecodeErrors+s.Timeouts) / elapsed
}

// Snapshot returns a copy of the counters.
func (s *Statistics) Snapshot() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Counters
}

// String formats the counters on one line.
func (s *Statistics) String() string {
	c := s.Snapshot()
	return fmt.Sprintf("requests=%d packets=%d valid=%d crc=%d decode=%d timeouts=%d unexpected=%d errors=%d",
		c.Requests, c.TotalPackets, c.ValidPackets, c.CRCErrors, c.DecodeErrors, c.Timeouts, c.Unexpected, c.ErrorResponses)
}
