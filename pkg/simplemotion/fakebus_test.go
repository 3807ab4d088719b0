// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package simplemotion

import (
	"fmt"
	"time"
)

type write struct {
	param int16
	value int32
}

// fakeBus is a register file that records every call.
type fakeBus struct {
	timeout    time.Duration
	openErr    error
	openHandle Handle
	nextHandle Handle
	closeCode  StatusCode
	resetCode  StatusCode

	regs      map[int16]int32
	readFail  map[int16]StatusCode
	writeFail map[int16]StatusCode

	calls  []string
	reads  []int16
	writes []write
	acc    StatusAccumulator
}

func newFakeBus() *fakeBus {
	m := DefaultRegisterMap()
	return &fakeBus{
		closeCode: StatusOK,
		resetCode: StatusOK,
		regs: map[int16]int32{
			m.Address(PIDFrequency):  2500,
			m.Address(EncoderPpr):    1000,
			m.Address(VelocityLimit): 800,
			m.Address(InputMul):      1,
			m.Address(InputDiv):      1,
		},
		readFail:  map[int16]StatusCode{},
		writeFail: map[int16]StatusCode{},
	}
}

func (b *fakeBus) SetTimeout(d time.Duration) {
	b.calls = append(b.calls, "timeout")
	b.timeout = d
}

func (b *fakeBus) Open(device string) (Handle, error) {
	b.calls = append(b.calls, "open "+device)
	if b.openErr != nil {
		return InvalidHandle, b.openErr
	}
	if b.openHandle < 0 {
		return b.openHandle, nil
	}
	h := b.nextHandle
	b.nextHandle++
	return h, nil
}

func (b *fakeBus) Close(h Handle) StatusCode {
	b.calls = append(b.calls, fmt.Sprintf("close %d", h))
	return b.closeCode
}

func (b *fakeBus) ReadParameter(h Handle, node uint8, param int16) (StatusCode, int32) {
	b.calls = append(b.calls, fmt.Sprintf("read %d", param))
	b.reads = append(b.reads, param)
	if code, ok := b.readFail[param]; ok {
		b.acc.Add(code)
		return code, 0
	}
	b.acc.Add(StatusOK)
	return StatusOK, b.regs[param]
}

func (b *fakeBus) WriteParameter(h Handle, node uint8, param int16, value int32) StatusCode {
	b.calls = append(b.calls, fmt.Sprintf("write %d=%d", param, value))
	b.writes = append(b.writes, write{param, value})
	if code, ok := b.writeFail[param]; ok {
		b.acc.Add(code)
		return code
	}
	b.regs[param] = value
	b.acc.Add(StatusOK)
	return StatusOK
}

func (b *fakeBus) CumulativeStatus(h Handle) int64 {
	b.calls = append(b.calls, "status")
	return b.acc.Value()
}

func (b *fakeBus) ResetCumulativeStatus(h Handle) StatusCode {
	b.calls = append(b.calls, "reset")
	if b.resetCode.IsOK() {
		b.acc.Reset()
	}
	return b.resetCode
}
