package jeebie

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/valerio/go-jeebie/jeebie/addr"
	"github.com/valerio/go-jeebie/jeebie/debug"
	"github.com/valerio/go-jeebie/jeebie/input/action"
	"github.com/valerio/go-jeebie/jeebie/memory"
	"github.com/valerio/go-jeebie/jeebie/timing"
	"github.com/valerio/go-jeebie/jeebie/video"
)

const debugSnapshotWindow = 200

// DMG is the root struct and entry point for running the emulation: a Bus
// (CPU, MMU, GPU) driven by a frame limiter, with a small debugger state
// machine layered on top.
type DMG struct {
	bus     *Bus
	limiter timing.Limiter

	debuggerMutex    sync.RWMutex
	debuggerState    debug.DebuggerState
	stepRequested    bool
	frameRequested   bool
	instructionCount uint64
	frameCount       uint64
}

// New creates a new emulator instance with no cartridge loaded.
func New() *DMG {
	d := &DMG{
		bus:     NewBus(memory.NewCartridge()),
		limiter: timing.NewNoOpLimiter(),
	}

	return d
}

// NewWithFile creates a new emulator instance and loads the ROM at path into it.
func NewWithFile(path string) (*DMG, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	slog.Debug("loaded ROM data", "size", len(data))

	d := &DMG{
		bus:     NewBus(memory.NewCartridgeWithData(data)),
		limiter: timing.NewNoOpLimiter(),
	}

	return d, nil
}

// RunUntilFrame runs the emulation until a full frame has been produced,
// honoring the current debugger state and frame limiter.
func (d *DMG) RunUntilFrame() error {
	if d.bus == nil {
		return fmt.Errorf("jeebie: DMG has no bus wired")
	}

	d.debuggerMutex.RLock()
	state := d.debuggerState
	d.debuggerMutex.RUnlock()

	switch state {
	case debug.DebuggerPaused:
		return nil
	case debug.DebuggerStepInstruction:
		d.debuggerMutex.Lock()
		requested := d.stepRequested
		d.stepRequested = false
		d.debuggerMutex.Unlock()

		if requested {
			oldPC := d.bus.CPU.GetPC()
			d.bus.TickInstruction()
			d.instructionCount++
			slog.Debug("step executed", "pc", fmt.Sprintf("0x%04X", oldPC), "new_pc", fmt.Sprintf("0x%04X", d.bus.CPU.GetPC()))
			d.SetDebuggerState(debug.DebuggerPaused)
		}
		return nil
	case debug.DebuggerStepFrame:
		d.debuggerMutex.Lock()
		requested := d.frameRequested
		d.frameRequested = false
		d.debuggerMutex.Unlock()

		if requested {
			d.runFrame()
			d.SetDebuggerState(debug.DebuggerPaused)
		}
		return nil
	default:
		d.runFrame()
		return nil
	}
}

// runFrame executes instructions until a full frame's worth of cycles has
// elapsed, then blocks on the frame limiter.
func (d *DMG) runFrame() {
	total := 0
	for total < timing.CyclesPerFrame {
		cycles := d.bus.TickInstruction()
		d.instructionCount++
		total += cycles
	}

	d.frameCount++
	if d.frameCount%60 == 0 {
		slog.Debug("frame completed", "frame", d.frameCount, "pc", fmt.Sprintf("0x%04X", d.bus.CPU.GetPC()))
	}

	d.limiter.WaitForNextFrame()
}

// GetCurrentFrame returns the most recently rendered frame buffer.
func (d *DMG) GetCurrentFrame() *video.FrameBuffer {
	if d.bus == nil {
		return nil
	}

	return d.bus.GPU.GetFrameBuffer()
}

// HandleAction dispatches an emulator or joypad action on press/release.
func (d *DMG) HandleAction(act action.Action, pressed bool) {
	if d.bus == nil {
		return
	}

	key, ok := gbJoypadKey(act)
	if !ok {
		return
	}

	if pressed {
		d.bus.MMU.HandleKeyPress(key)
	} else {
		d.bus.MMU.HandleKeyRelease(key)
	}
}

func gbJoypadKey(act action.Action) (memory.JoypadKey, bool) {
	switch act {
	case action.GBButtonA:
		return memory.JoypadA, true
	case action.GBButtonB:
		return memory.JoypadB, true
	case action.GBButtonStart:
		return memory.JoypadStart, true
	case action.GBButtonSelect:
		return memory.JoypadSelect, true
	case action.GBDPadUp:
		return memory.JoypadUp, true
	case action.GBDPadDown:
		return memory.JoypadDown, true
	case action.GBDPadLeft:
		return memory.JoypadLeft, true
	case action.GBDPadRight:
		return memory.JoypadRight, true
	default:
		return 0, false
	}
}

// SetFrameLimiter installs the limiter used to pace RunUntilFrame.
func (d *DMG) SetFrameLimiter(limiter timing.Limiter) {
	d.limiter = limiter
}

// ResetFrameTiming resets the installed frame limiter's internal clock.
func (d *DMG) ResetFrameTiming() {
	d.limiter.Reset()
}

// ExtractDebugData builds a full snapshot of CPU/memory/OAM/VRAM state for
// debug tooling. Returns nil if the emulator has no bus wired yet.
func (d *DMG) ExtractDebugData() *debug.CompleteDebugData {
	if d.bus == nil || d.bus.MMU == nil || d.bus.CPU == nil {
		return nil
	}

	mem := d.bus.MMU

	a, f, b, c, de, e, h, l, sp, pc, ime, cycles := d.bus.CPU.Registers()
	cpuState := &debug.CPUState{
		A: a, F: f, B: b, C: c, D: de, E: e, H: h, L: l,
		SP:     sp,
		PC:     pc,
		IME:    ime,
		Cycles: cycles,
	}

	startAddr := pc
	size := debugSnapshotWindow
	if remaining := int(0x10000) - int(startAddr); remaining < size {
		size = remaining
	}
	snapshot := &debug.MemorySnapshot{
		StartAddr: startAddr,
		Bytes:     make([]uint8, size),
	}
	for i := 0; i < size; i++ {
		snapshot.Bytes[i] = mem.Read(startAddr + uint16(i))
	}

	currentLine := int(mem.Read(addr.LY))
	spriteHeight := 8
	if mem.ReadBit(2, addr.LCDC) {
		spriteHeight = 16
	}

	return &debug.CompleteDebugData{
		OAM:             debug.ExtractOAMDataFromReader(mem, currentLine, spriteHeight),
		VRAM:            debug.ExtractVRAMDataFromReader(mem),
		CPU:             cpuState,
		Memory:          snapshot,
		DebuggerState:   d.GetDebuggerState(),
		InterruptEnable: mem.Read(addr.IE),
		InterruptFlags:  mem.Read(addr.IF),
	}
}

func (d *DMG) GetMMU() *memory.MMU {
	if d.bus == nil {
		return nil
	}
	return d.bus.MMU
}

// Debugger control

func (d *DMG) SetDebuggerState(state debug.DebuggerState) {
	d.debuggerMutex.Lock()
	defer d.debuggerMutex.Unlock()
	d.debuggerState = state
	slog.Debug("debugger state changed", "state", state)
}

func (d *DMG) GetDebuggerState() debug.DebuggerState {
	d.debuggerMutex.RLock()
	defer d.debuggerMutex.RUnlock()
	return d.debuggerState
}

func (d *DMG) DebuggerPause() {
	d.SetDebuggerState(debug.DebuggerPaused)
	slog.Info("emulator paused")
}

func (d *DMG) DebuggerResume() {
	d.SetDebuggerState(debug.DebuggerRunning)
	slog.Info("emulator resumed")
}

func (d *DMG) DebuggerStepInstruction() {
	d.debuggerMutex.Lock()
	defer d.debuggerMutex.Unlock()
	d.stepRequested = true
	d.debuggerState = debug.DebuggerStepInstruction
	slog.Info("step instruction requested")
}

func (d *DMG) DebuggerStepFrame() {
	d.debuggerMutex.Lock()
	defer d.debuggerMutex.Unlock()
	d.frameRequested = true
	d.debuggerState = debug.DebuggerStepFrame
	slog.Info("step frame requested")
}

func (d *DMG) GetInstructionCount() uint64 {
	return d.instructionCount
}

func (d *DMG) GetFrameCount() uint64 {
	return d.frameCount
}
