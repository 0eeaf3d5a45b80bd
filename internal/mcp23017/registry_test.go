package mcp23017_test

import (
	"errors"
	"io"
	"log/slog"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chase3718/matrix-midi/internal/bus"
	"github.com/chase3718/matrix-midi/internal/mcp23017"
	"github.com/chase3718/matrix-midi/internal/mcp23017/mcp23017test"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newRegistry(t *testing.T) *mcp23017.Registry {
	t.Helper()
	return mcp23017.NewRegistry(mcp23017.Options{Logger: quietLogger()})
}

func TestAddRunsInitSequence(t *testing.T) {
	chip := mcp23017test.NewChip(0)
	b := mcp23017test.NewBus(chip)
	r := newRegistry(t)

	id, err := r.Add(b, 0)
	require.NoError(t, err)
	assert.Equal(t, mcp23017.ChipID(0), id)

	assert.Equal(t, byte(0x00), chip.Register(mcp23017.RegIODIRA))
	assert.Equal(t, byte(0xFF), chip.Register(mcp23017.RegIODIRB))
	assert.Equal(t, byte(0x00), chip.Register(mcp23017.RegGPPUA))
	assert.Equal(t, byte(0xFF), chip.Register(mcp23017.RegGPPUB))
	assert.Equal(t, byte(0xFF), chip.Register(mcp23017.RegOLATA))
	assert.Equal(t, byte(0x00), chip.Register(mcp23017.RegIOCONA))
	assert.Equal(t, byte(0x00), chip.Register(mcp23017.RegIOCONB))
	assert.Equal(t, byte(0x00), chip.Register(mcp23017.RegGPINTENA))
	assert.Equal(t, byte(0x00), chip.Register(mcp23017.RegGPINTENB))
	assert.Equal(t, []bus.SpeedMode{bus.StandardMode}, b.Configured())
	assert.Equal(t, 0, r.ErrorCount(id))

	addr, err := r.Address(id)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x20), addr)
}

func TestAddressComputation(t *testing.T) {
	chip := mcp23017test.NewChip(5)
	r := newRegistry(t)
	id, err := r.Add(mcp23017test.NewBus(chip), 5)
	require.NoError(t, err)
	addr, err := r.Address(id)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x25), addr)
	assert.Equal(t, uint8(0x4A), mcp23017.WriteAddress(5))
	assert.Equal(t, uint8(0x40), mcp23017.WriteAddress(0))
}

func TestAddRejectsBadAddress(t *testing.T) {
	r := newRegistry(t)
	id, err := r.Add(mcp23017test.NewBus(), 8)
	assert.Equal(t, mcp23017.InvalidChip, id)
	assert.ErrorIs(t, err, mcp23017.ErrInvalidAddress)
}

func TestAddFailsWithoutDevice(t *testing.T) {
	r := newRegistry(t)
	id, err := r.Add(mcp23017test.NewBus(), 3)
	assert.Equal(t, mcp23017.InvalidChip, id)
	assert.ErrorIs(t, err, mcp23017.ErrCommunication)

	// the slot was released
	chip := mcp23017test.NewChip(3)
	id, err = r.Add(mcp23017test.NewBus(chip), 3)
	require.NoError(t, err)
	assert.Equal(t, mcp23017.ChipID(0), id)
}

func TestAddFailsOnWriteError(t *testing.T) {
	chip := mcp23017test.NewChip(0)
	chip.FailWrites(1)
	r := newRegistry(t)
	id, err := r.Add(mcp23017test.NewBus(chip), 0)
	assert.Equal(t, mcp23017.InvalidChip, id)
	assert.ErrorIs(t, err, mcp23017test.ErrInjected)
	assert.Equal(t, mcp23017.InvalidErrorCount, r.ErrorCount(0))
}

func TestAddFailsOnConfigureError(t *testing.T) {
	b := mcp23017test.NewBus(mcp23017test.NewChip(0))
	b.FailConfigure(errors.New("bus busy"))
	r := newRegistry(t)
	id, err := r.Add(b, 0)
	assert.Equal(t, mcp23017.InvalidChip, id)
	assert.ErrorContains(t, err, "bus busy")
}

func TestAddVerifiesReadBack(t *testing.T) {
	chip := mcp23017test.NewChip(0)
	chip.Stick(mcp23017.RegGPPUB, 0x0F)
	r := newRegistry(t)
	id, err := r.Add(mcp23017test.NewBus(chip), 0)
	assert.Equal(t, mcp23017.InvalidChip, id)
	assert.ErrorIs(t, err, mcp23017.ErrVerifyMismatch)
}

func TestAddCapacityExhausted(t *testing.T) {
	var chips []*mcp23017test.Chip
	for i := uint8(0); i < mcp23017.MaxChips; i++ {
		chips = append(chips, mcp23017test.NewChip(i))
	}
	b := mcp23017test.NewBus(chips...)
	r := newRegistry(t)
	for i := uint8(0); i < mcp23017.MaxChips; i++ {
		id, err := r.Add(b, i)
		require.NoError(t, err)
		assert.Equal(t, mcp23017.ChipID(i), id)
	}
	require.NoError(t, r.SetOutput(2, mcp23017.PortA, 0x01, mcp23017.Low))
	reads, writes := chips[2].Transactions()

	id, err := r.Add(b, 1)
	assert.Equal(t, mcp23017.InvalidChip, id)
	assert.ErrorIs(t, err, mcp23017.ErrNoFreeSlot)

	for i := range chips {
		addr, err := r.Address(mcp23017.ChipID(i))
		require.NoError(t, err)
		assert.Equal(t, chips[i].Addr(), addr)
		assert.Equal(t, 0, r.ErrorCount(mcp23017.ChipID(i)))
	}
	assert.Equal(t, byte(0xFE), chips[2].Register(mcp23017.RegOLATA))
	r2, w2 := chips[2].Transactions()
	assert.Equal(t, reads, r2)
	assert.Equal(t, writes, w2)
}

func TestInitResetsSlots(t *testing.T) {
	r := newRegistry(t)
	id, err := r.Add(mcp23017test.NewBus(mcp23017test.NewChip(0)), 0)
	require.NoError(t, err)
	r.Init()
	r.Init()
	_, err = r.GetPort(id, mcp23017.PortB)
	assert.ErrorIs(t, err, mcp23017.ErrUnknownChip)
	assert.Equal(t, mcp23017.InvalidErrorCount, r.ErrorCount(id))
}

func addChip(t *testing.T) (*mcp23017.Registry, *mcp23017test.Chip, mcp23017.ChipID) {
	t.Helper()
	chip := mcp23017test.NewChip(0)
	r := newRegistry(t)
	id, err := r.Add(mcp23017test.NewBus(chip), 0)
	require.NoError(t, err)
	return r, chip, id
}

func TestReadModifyWrite(t *testing.T) {
	r, chip, id := addChip(t)

	require.NoError(t, r.SetDirection(id, mcp23017.PortA, 0x81, mcp23017.Input))
	assert.Equal(t, byte(0x81), chip.Register(mcp23017.RegIODIRA))
	dir, err := r.GetDirection(id, mcp23017.PortA, 7)
	require.NoError(t, err)
	assert.Equal(t, mcp23017.Input, dir)
	dir, err = r.GetDirection(id, mcp23017.PortA, 1)
	require.NoError(t, err)
	assert.Equal(t, mcp23017.Output, dir)

	require.NoError(t, r.SetDirection(id, mcp23017.PortA, 0x01, mcp23017.Output))
	assert.Equal(t, byte(0x80), chip.Register(mcp23017.RegIODIRA))

	require.NoError(t, r.SetOutput(id, mcp23017.PortA, 0x0C, mcp23017.Low))
	assert.Equal(t, byte(0xF3), chip.Register(mcp23017.RegOLATA))
	require.NoError(t, r.SetOutput(id, mcp23017.PortA, 0x04, mcp23017.High))
	assert.Equal(t, byte(0xF7), chip.Register(mcp23017.RegOLATA))

	require.NoError(t, r.SetPullup(id, mcp23017.PortB, 0x02, false))
	assert.Equal(t, byte(0xFD), chip.Register(mcp23017.RegGPPUB))
	on, err := r.GetPullup(id, mcp23017.PortB, 1)
	require.NoError(t, err)
	assert.False(t, on)
	on, err = r.GetPullup(id, mcp23017.PortB, 0)
	require.NoError(t, err)
	assert.True(t, on)

	require.NoError(t, r.WriteLatch(id, mcp23017.PortA, 0x5A))
	assert.Equal(t, byte(0x5A), chip.Register(mcp23017.RegOLATA))
}

func TestInputReadsRows(t *testing.T) {
	r, chip, id := addChip(t)
	chip.Press(4, 2)

	v, err := r.GetPort(id, mcp23017.PortB)
	require.NoError(t, err)
	assert.Equal(t, byte(0xFF), v, "columns idle high, nothing pulls rows")

	require.NoError(t, r.SetOutput(id, mcp23017.PortA, 1<<2, mcp23017.Low))
	v, err = r.GetPort(id, mcp23017.PortB)
	require.NoError(t, err)
	assert.Equal(t, byte(0xEF), v)

	lvl, err := r.GetInput(id, mcp23017.PortB, 4)
	require.NoError(t, err)
	assert.Equal(t, mcp23017.Low, lvl)
	lvl, err = r.GetInput(id, mcp23017.PortB, 3)
	require.NoError(t, err)
	assert.Equal(t, mcp23017.High, lvl)
}

func TestInvalidArgumentsDoNotCount(t *testing.T) {
	r, chip, id := addChip(t)
	_, writes := chip.Transactions()

	assert.ErrorIs(t, r.SetOutput(id, mcp23017.Port(2), 0x01, mcp23017.Low), mcp23017.ErrInvalidPort)
	assert.ErrorIs(t, r.SetOutput(id, mcp23017.PortA, 0x00, mcp23017.Low), mcp23017.ErrInvalidPin)
	_, err := r.GetInput(id, mcp23017.PortB, 8)
	assert.ErrorIs(t, err, mcp23017.ErrInvalidPin)
	assert.ErrorIs(t, r.SetOutput(mcp23017.ChipID(5), mcp23017.PortA, 0x01, mcp23017.Low), mcp23017.ErrUnknownChip)
	assert.ErrorIs(t, r.SetOutput(mcp23017.ChipID(-3), mcp23017.PortA, 0x01, mcp23017.Low), mcp23017.ErrUnknownChip)

	assert.Equal(t, 0, r.ErrorCount(id))
	_, w := chip.Transactions()
	assert.Equal(t, writes, w)
}

func TestBusFailureCountsAndLeavesState(t *testing.T) {
	r, chip, id := addChip(t)

	chip.FailReads(1)
	err := r.SetOutput(id, mcp23017.PortA, 0x01, mcp23017.Low)
	assert.ErrorIs(t, err, mcp23017test.ErrInjected)
	assert.Equal(t, byte(0xFF), chip.Register(mcp23017.RegOLATA))
	assert.Equal(t, 1, r.ErrorCount(id))

	chip.FailWrites(1)
	err = r.SetOutput(id, mcp23017.PortA, 0x01, mcp23017.Low)
	assert.ErrorIs(t, err, mcp23017test.ErrInjected)
	assert.Equal(t, byte(0xFF), chip.Register(mcp23017.RegOLATA))
	assert.Equal(t, 2, r.ErrorCount(id))

	require.NoError(t, r.ResetErrorCount(id))
	assert.Equal(t, 0, r.ErrorCount(id))
	assert.ErrorIs(t, r.ResetErrorCount(7), mcp23017.ErrUnknownChip)
}

func TestTransactionTimeout(t *testing.T) {
	chip := mcp23017test.NewChip(0)
	r := mcp23017.NewRegistry(mcp23017.Options{Timeout: 10 * time.Millisecond, Logger: quietLogger()})
	id, err := r.Add(mcp23017test.NewBus(chip), 0)
	require.NoError(t, err)

	chip.Hang()
	t.Cleanup(chip.Unhang)

	start := time.Now()
	_, err = r.GetPort(id, mcp23017.PortB)
	assert.ErrorIs(t, err, mcp23017.ErrTimeout)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 1, r.ErrorCount(id))
}

func TestHungChipFailsFastWithoutPilingUp(t *testing.T) {
	chip := mcp23017test.NewChip(0)
	r := mcp23017.NewRegistry(mcp23017.Options{Timeout: 2 * time.Millisecond, Logger: quietLogger()})
	id, err := r.Add(mcp23017test.NewBus(chip), 0)
	require.NoError(t, err)

	chip.Hang()
	t.Cleanup(chip.Unhang)
	before := runtime.NumGoroutine()

	for i := 0; i < 50; i++ {
		_, err := r.GetPort(id, mcp23017.PortB)
		require.ErrorIs(t, err, mcp23017.ErrTimeout)
	}
	assert.LessOrEqual(t, runtime.NumGoroutine(), before+2)
	assert.Equal(t, 50, r.ErrorCount(id))

	chip.Unhang()
	assert.Eventually(t, func() bool {
		_, err := r.GetPort(id, mcp23017.PortB)
		return err == nil
	}, time.Second, 5*time.Millisecond)
}

func TestSessionHoldsChip(t *testing.T) {
	r, chip, id := addChip(t)
	done := make(chan struct{})

	err := r.Session(id, func(s *mcp23017.Session) error {
		assert.Equal(t, id, s.ID())
		go func() {
			_ = r.WriteLatch(id, mcp23017.PortA, 0x00)
			close(done)
		}()
		for _, v := range []byte{0xFE, 0xFD, 0xFF} {
			if err := s.WriteLatch(mcp23017.PortA, v); err != nil {
				return err
			}
			time.Sleep(time.Millisecond)
		}
		return nil
	})
	require.NoError(t, err)
	<-done
	assert.Equal(t, []byte{0xFF, 0xFE, 0xFD, 0xFF, 0x00}, chip.LatchLog())
}

func TestIOCONRoundTrip(t *testing.T) {
	assert.Equal(t, byte(0x00), mcp23017.IOCON{}.Byte())

	all := mcp23017.IOCON{
		Bank: true, Mirror: true, SeqOpDisabled: true, SlewRateDisabled: true,
		HardwareAddress: true, OpenDrain: true, IntActiveHigh: true,
	}
	assert.Equal(t, byte(0xFE), all.Byte())
	assert.Equal(t, all, mcp23017.ParseIOCON(0xFF))

	assert.Equal(t, byte(0x80), mcp23017.IOCON{Bank: true}.Byte())
	assert.Equal(t, byte(0x20), mcp23017.IOCON{SeqOpDisabled: true}.Byte())
	assert.Equal(t, byte(0x02), mcp23017.IOCON{IntActiveHigh: true}.Byte())
	assert.Equal(t, mcp23017.IOCON{HardwareAddress: true}, mcp23017.ParseIOCON(0x08))
}
