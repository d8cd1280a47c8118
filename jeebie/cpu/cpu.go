package cpu

import (
	"github.com/valerio/go-jeebie/jeebie/addr"
	"github.com/valerio/go-jeebie/jeebie/bit"
)

type flag = uint8

// The four CPU flags live in the high nibble of F.
const (
	zeroFlag      flag = 0x80
	subFlag       flag = 0x40
	halfCarryFlag flag = 0x20
	carryFlag     flag = 0x10
)

// Bus is the interface the CPU needs from the rest of the system: memory
// access, cycle accounting and interrupt signalling.
type Bus interface {
	Read(address uint16) byte
	Write(address uint16, value byte)
	Tick(cycles int)
	RequestInterrupt(interrupt addr.Interrupt)
}

// interruptVectors maps an interrupt's bit index (IF/IE) to its ISR address,
// in priority order (lowest bit serviced first).
var interruptVectors = [5]uint16{0x40, 0x48, 0x50, 0x58, 0x60}

// CPU emulates the Sharp SM83 core: registers, flags and the fetch/decode/
// execute loop, including interrupt dispatch and the HALT/STOP quirks.
type CPU struct {
	bus Bus

	a, f          uint8
	b, c          uint8
	d, e          uint8
	h, l          uint8
	sp, pc        uint16
	currentOpcode uint16

	interruptsEnabled bool
	eiPending         bool
	halted            bool
	haltBug           bool
	stopped           bool

	// doubleSpeed tracks the CGB KEY1 double-speed mode. The GPU and APU
	// are ticked by the caller at half the CPU's T-cycle rate while this is
	// set; the timer and serial port are not.
	doubleSpeed      bool
	speedSwitchArmed bool

	cycles uint64
}

// New returns a CPU in the post-bootrom DMG state, ready to run a cartridge
// starting at 0x0100.
func New(bus Bus) *CPU {
	return &CPU{
		bus: bus,
		a:   0x01,
		f:   0xB0,
		b:   0x00,
		c:   0x13,
		d:   0x00,
		e:   0xD8,
		h:   0x01,
		l:   0x4D,
		sp:  0xFFFE,
		pc:  0x0100,
	}
}

// GetPC returns the current program counter, mainly for debugging/tracing.
func (c *CPU) GetPC() uint16 {
	return c.pc
}

// SetPC forces the program counter.
func (c *CPU) SetPC(pc uint16) {
	c.pc = pc
}

// IsDoubleSpeed reports whether the CGB double-speed mode is currently active.
func (c *CPU) IsDoubleSpeed() bool {
	return c.doubleSpeed
}

// Registers returns the raw register file and IME state, mainly for debugging/tracing.
func (c *CPU) Registers() (a, f, b, cc, d, e, h, l uint8, sp, pc uint16, ime bool, cycles uint64) {
	return c.a, c.f, c.b, c.c, c.d, c.e, c.h, c.l, c.sp, c.pc, c.interruptsEnabled, c.cycles
}

// ArmSpeedSwitch is called when KEY1 bit 0 is written, requesting a speed
// switch on the next STOP instruction.
func (c *CPU) ArmSpeedSwitch() {
	c.speedSwitchArmed = true
}

// Exec runs exactly one instruction (servicing a pending interrupt, or
// waking from HALT/STOP if applicable) and returns the T-cycles spent.
func (c *CPU) Exec() int {
	start := c.cycles

	if c.eiPending {
		c.eiPending = false
		c.interruptsEnabled = true
	}

	if c.stopped {
		if c.handleInterrupts() {
			c.stopped = false
		} else {
			c.cycles += 4
			return int(c.cycles - start)
		}
	}

	if c.halted {
		pending := c.handleInterrupts()
		if !pending {
			c.cycles += 4
			return int(c.cycles - start)
		}

		c.halted = false
		if !c.interruptsEnabled {
			c.haltBug = true
		}
	} else {
		c.handleInterrupts()
	}

	opcode := Decode(c)
	if c.currentOpcode > 0xFF {
		c.pc += 2
	} else {
		c.pc++
	}
	cycles := opcode(c)
	c.cycles += uint64(cycles)

	return int(c.cycles - start)
}

// handleInterrupts checks IF&IE for a pending, enabled interrupt. It returns
// true whenever an interrupt is pending (even with IME off, so HALT/STOP can
// still wake up), and only pushes PC/jumps to the ISR when IME is set.
func (c *CPU) handleInterrupts() bool {
	ifReg := c.bus.Read(addr.IF)
	ieReg := c.bus.Read(addr.IE)
	pending := ifReg & ieReg & 0x1F

	if pending == 0 {
		return false
	}

	if !c.interruptsEnabled {
		return true
	}

	for i := uint8(0); i < 5; i++ {
		mask := uint8(1) << i
		if pending&mask == 0 {
			continue
		}

		c.interruptsEnabled = false
		c.bus.Write(addr.IF, ifReg&^mask)
		c.pushStack(c.pc)
		c.pc = interruptVectors[i]
		c.cycles += 20
		return true
	}

	return false
}

func (c *CPU) setFlag(f flag) {
	c.f |= f
}

func (c *CPU) resetFlag(f flag) {
	c.f &^= f
}

func (c *CPU) isSetFlag(f flag) bool {
	return c.f&f != 0
}

func (c *CPU) setFlagToCondition(f flag, condition bool) {
	if condition {
		c.setFlag(f)
	} else {
		c.resetFlag(f)
	}
}

func (c *CPU) flagToBit(f flag) uint8 {
	if c.isSetFlag(f) {
		return 1
	}
	return 0
}

func (c *CPU) getAF() uint16 {
	return bit.Combine(c.a, c.f&0xF0)
}

func (c *CPU) setAF(value uint16) {
	c.a = bit.High(value)
	c.f = bit.Low(value) & 0xF0
}

func (c *CPU) getBC() uint16 {
	return bit.Combine(c.b, c.c)
}

func (c *CPU) setBC(value uint16) {
	c.b = bit.High(value)
	c.c = bit.Low(value)
}

func (c *CPU) getDE() uint16 {
	return bit.Combine(c.d, c.e)
}

func (c *CPU) setDE(value uint16) {
	c.d = bit.High(value)
	c.e = bit.Low(value)
}

func (c *CPU) getHL() uint16 {
	return bit.Combine(c.h, c.l)
}

func (c *CPU) setHL(value uint16) {
	c.h = bit.High(value)
	c.l = bit.Low(value)
}

// readImmediate consumes the byte at PC and advances it.
func (c *CPU) readImmediate() uint8 {
	value := c.bus.Read(c.pc)
	c.pc++
	return value
}

// peekImmediate reads the byte at PC without advancing it.
func (c *CPU) peekImmediate() uint8 {
	return c.bus.Read(c.pc)
}

func (c *CPU) readSignedImmediate() int8 {
	return int8(c.readImmediate())
}

// readImmediateWord consumes the two bytes at PC (little-endian) and
// advances PC past both.
func (c *CPU) readImmediateWord() uint16 {
	low := c.readImmediate()
	high := c.readImmediate()
	return bit.Combine(high, low)
}

func (c *CPU) peekImmediateWord() uint16 {
	low := c.bus.Read(c.pc)
	high := c.bus.Read(c.pc + 1)
	return bit.Combine(high, low)
}
