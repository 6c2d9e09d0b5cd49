package csr_test

import (
	"testing"

	"github.com/sdmakit/sdma/core/testenv"
	"github.com/sdmakit/sdma/csr"
)

var makeAR = testenv.MakeAR

func TestMem(t *testing.T) {
	assert, _ := makeAR(t)

	m := csr.NewMem()
	assert.Zero(m.Read(0, csr.Ctrl))

	m.Write(0, csr.Ctrl, csr.CtrlEnable|csr.CtrlIntEnable)
	m.Write(1, csr.Ctrl, csr.CtrlHalt)
	assert.Equal(csr.CtrlEnable|csr.CtrlIntEnable, m.Read(0, csr.Ctrl))
	assert.Equal(csr.CtrlHalt, m.Read(1, csr.Ctrl))

	v := m.Update(1, csr.Status, func(old uint64) uint64 { return old | csr.StatusHalted })
	assert.Equal(csr.StatusHalted, v)
	assert.Equal(csr.StatusHalted, m.Read(1, csr.Status))
	assert.Zero(m.Read(0, csr.Status))

	assert.Equal("TAIL", csr.Tail.String())
	assert.Equal("0x99", csr.Offset(0x99).String())
}
