package emu

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-logr/logr"

	"github.com/sarchlab/vsynth/insts"
	"github.com/sarchlab/vsynth/verify"
)

// StepResult represents the result of executing a single instruction.
type StepResult struct {
	// Exited is true if the program terminated, by the exit syscall or by
	// reaching a jump to itself.
	Exited bool

	// ExitCode is the exit status if Exited is true.
	ExitCode int64

	// Err is set if an error occurred during execution.
	Err error
}

// Exit codes of programs that end in a self-loop.
const (
	ExitPassed  int64 = 0
	ExitFailed  int64 = 1
	ExitStopped int64 = 2
)

// Emulator executes RISC-V test programs functionally.
type Emulator struct {
	regFile        *RegFile
	memory         *Memory
	program        *Program
	syscallHandler SyscallHandler

	// Execution units
	alu        *ALU
	lsu        *LoadStoreUnit
	branchUnit *BranchUnit
	fpu        *FPU
	vpu        *VPU

	// I/O
	stdout io.Writer
	stderr io.Writer
	log    logr.Logger

	vlen      int
	dataBase  uint64
	passLabel string
	failLabel string

	watches  map[int]*watch
	reports  map[string]verify.Report
	endLabel string

	// Execution state
	instructionCount uint64
	maxInstructions  uint64 // 0 means no limit
}

// EmulatorOption is a functional option for configuring the Emulator.
type EmulatorOption func(*Emulator)

// WithStdout sets a custom stdout writer.
func WithStdout(w io.Writer) EmulatorOption {
	return func(e *Emulator) {
		e.stdout = w
	}
}

// WithStderr sets a custom stderr writer.
func WithStderr(w io.Writer) EmulatorOption {
	return func(e *Emulator) {
		e.stderr = w
	}
}

// WithSyscallHandler sets a custom syscall handler.
func WithSyscallHandler(handler SyscallHandler) EmulatorOption {
	return func(e *Emulator) {
		e.syscallHandler = handler
	}
}

// WithMaxInstructions sets the maximum number of instructions to execute.
// A value of 0 means no limit.
func WithMaxInstructions(n uint64) EmulatorOption {
	return func(e *Emulator) {
		e.maxInstructions = n
	}
}

// WithVLEN sets the vector register width in bits.
func WithVLEN(vlen int) EmulatorOption {
	return func(e *Emulator) {
		e.vlen = vlen
	}
}

// WithDataBase sets the address the data section is loaded at.
func WithDataBase(base uint64) EmulatorOption {
	return func(e *Emulator) {
		e.dataBase = base
	}
}

// WithTargets names the labels whose self-loops end a passing and a
// failing program.
func WithTargets(pass, fail string) EmulatorOption {
	return func(e *Emulator) {
		e.passLabel, e.failLabel = pass, fail
	}
}

// WithLogger sets the logger.
func WithLogger(log logr.Logger) EmulatorOption {
	return func(e *Emulator) {
		e.log = log
	}
}

// NewEmulator creates a new RISC-V emulator.
func NewEmulator(opts ...EmulatorOption) *Emulator {
	e := &Emulator{
		regFile:   &RegFile{},
		stdout:    os.Stdout,
		stderr:    os.Stderr,
		log:       logr.Discard(),
		vlen:      128,
		dataBase:  0x80100000,
		passLabel: "test_passed",
		failLabel: "test_failed",
		watches:   map[int]*watch{},
		reports:   map[string]verify.Report{},
	}
	for _, opt := range opts {
		opt(e)
	}
	e.attach(NewMemory(e.dataBase, 0))
	return e
}

// attach connects the execution units to memory.
func (e *Emulator) attach(memory *Memory) {
	custom := e.syscallHandler != nil
	if _, ok := e.syscallHandler.(*DefaultSyscallHandler); ok {
		custom = false
	}

	e.memory = memory
	e.alu = NewALU(e.regFile)
	e.lsu = NewLoadStoreUnit(e.regFile, memory)
	e.branchUnit = NewBranchUnit(e.regFile)
	e.fpu = NewFPU(e.regFile)
	e.vpu = NewVPU(e.regFile, memory, e.vlen)
	if !custom {
		e.syscallHandler = NewDefaultSyscallHandler(e.regFile, memory, e.stdout, e.stderr)
	}
}

// RegFile returns the emulator's register file.
func (e *Emulator) RegFile() *RegFile {
	return e.regFile
}

// Memory returns the emulator's memory.
func (e *Emulator) Memory() *Memory {
	return e.memory
}

// VPU returns the emulator's vector unit.
func (e *Emulator) VPU() *VPU {
	return e.vpu
}

// InstructionCount returns the number of instructions executed.
func (e *Emulator) InstructionCount() uint64 {
	return e.instructionCount
}

// Symbol resolves a data symbol, optionally with an offset such as
// "page_0+0x40", against the loaded program.
func (e *Emulator) Symbol(s string) (uint64, error) {
	if e.program == nil {
		return 0, errors.New("no program loaded")
	}
	return e.program.symbol(s)
}

// Load assembles program text and resets the machine to run it from the
// first instruction.
func (e *Emulator) Load(text string) error {
	p, err := Assemble(text, e.dataBase)
	if err != nil {
		return fmt.Errorf("failed to assemble program: %w", err)
	}
	e.regFile = &RegFile{}
	e.program = p
	e.instructionCount = 0
	e.watches = map[int]*watch{}
	e.reports = map[string]verify.Report{}
	e.endLabel = ""
	e.attach(p.Memory)

	e.log.V(1).Info("program loaded", "instructions", len(p.Text),
		"data", p.Memory.Size(), "symbols", len(p.Symbols))
	return nil
}

// Step executes a single instruction.
func (e *Emulator) Step() StepResult {
	if e.program == nil {
		return StepResult{Err: errors.New("no program loaded")}
	}
	if e.maxInstructions > 0 && e.instructionCount >= e.maxInstructions {
		return StepResult{Err: fmt.Errorf("max instructions reached")}
	}

	pc := e.regFile.PC
	if pc < 0 || pc >= len(e.program.Text) {
		return StepResult{Err: fmt.Errorf("execution ran past the program at instruction %d", pc)}
	}
	in := e.program.Text[pc]

	result := e.execute(in)
	e.instructionCount++
	if result.Err != nil {
		result.Err = fmt.Errorf("line %d: %s: %w", in.Line, in, result.Err)
		return result
	}
	if w, ok := e.watches[pc]; ok && !result.Exited {
		e.record(w)
	}
	return result
}

// Run executes instructions until the program exits or an error occurs.
// Returns the exit code (-1 if error).
func (e *Emulator) Run() int64 {
	for {
		result := e.Step()
		if result.Exited {
			return result.ExitCode
		}
		if result.Err != nil {
			_, _ = fmt.Fprintf(e.stderr, "Emulation error: %v\n", result.Err)
			return -1
		}
	}
}

// execute runs one instruction and moves the program counter.
func (e *Emulator) execute(in Instruction) StepResult {
	rf := e.regFile
	op, args := in.Op, in.Args

	switch {
	case op == "j":
		name := arg(args, 0)
		t, err := e.program.target(name)
		if err != nil {
			return StepResult{Err: err}
		}
		if t == rf.PC {
			return e.halt(name, t)
		}
		e.branchUnit.Jump(t)
		return StepResult{}

	case op == "bnez" || op == "beqz":
		rs, err := xreg(arg(args, 0))
		if err != nil {
			return StepResult{Err: err}
		}
		t, err := e.program.target(arg(args, 1))
		if err != nil {
			return StepResult{Err: err}
		}
		cond := "bne"
		if op == "beqz" {
			cond = "beq"
		}
		e.branchUnit.Branch(cond, rs, 0, t)
		return StepResult{}

	case branchConds[op] != nil:
		rs1, err := xreg(arg(args, 0))
		if err != nil {
			return StepResult{Err: err}
		}
		rs2, err := xreg(arg(args, 1))
		if err != nil {
			return StepResult{Err: err}
		}
		t, err := e.program.target(arg(args, 2))
		if err != nil {
			return StepResult{Err: err}
		}
		e.branchUnit.Branch(op, rs1, rs2, t)
		return StepResult{}

	case op == "ecall":
		rf.PC++
		sr := e.syscallHandler.Handle()
		return StepResult{Exited: sr.Exited, ExitCode: sr.ExitCode}
	}

	if err := e.exec(op, args); err != nil {
		return StepResult{Err: err}
	}
	rf.PC++
	return StepResult{}
}

// EndLabel returns the label of the self-loop the program ended in, or ""
// while it has not.
func (e *Emulator) EndLabel() string {
	return e.endLabel
}

// halt ends a program caught in a jump to itself. The end label is the
// one the jump names, whatever other labels alias the same instruction.
func (e *Emulator) halt(name string, target int) StepResult {
	e.endLabel = name

	code := ExitStopped
	switch target {
	case e.labelIndex(e.passLabel):
		code = ExitPassed
	case e.labelIndex(e.failLabel):
		code = ExitFailed
	}
	return StepResult{Exited: true, ExitCode: code}
}

func (e *Emulator) labelIndex(label string) int {
	if idx, ok := e.program.Labels[label]; ok {
		return idx
	}
	return -1
}

var immOps = map[string]string{
	"addi": "add", "andi": "and", "ori": "or", "xori": "xor",
	"slli": "sll", "srli": "srl", "srai": "sra",
	"slti": "slt", "sltiu": "sltu",
	"addiw": "addw", "slliw": "sllw", "srliw": "srlw", "sraiw": "sraw",
}

// exec runs a non-control-flow instruction.
func (e *Emulator) exec(op string, args []string) error {
	switch {
	case op == "nop" || op == "fence":
		return nil

	case op == "li":
		rd, err := xreg(arg(args, 0))
		if err != nil {
			return err
		}
		v, err := parseImm(arg(args, 1))
		if err != nil {
			return err
		}
		e.alu.LoadImm(rd, uint64(v))
		return nil

	case op == "la":
		rd, err := xreg(arg(args, 0))
		if err != nil {
			return err
		}
		addr, err := e.program.symbol(arg(args, 1))
		if err != nil {
			return err
		}
		e.alu.LoadImm(rd, addr)
		return nil

	case op == "mv" || op == "neg" || op == "snez" || op == "seqz":
		rd, err := xreg(arg(args, 0))
		if err != nil {
			return err
		}
		rs, err := xreg(arg(args, 1))
		if err != nil {
			return err
		}
		switch op {
		case "mv":
			return e.alu.OpImm("add", rd, rs, 0)
		case "neg":
			return e.alu.Op("sub", rd, 0, rs)
		case "snez":
			e.alu.Snez(rd, rs)
		default:
			e.alu.Seqz(rd, rs)
		}
		return nil

	case aluOps[op] != nil:
		regs, err := xregs(args, 3)
		if err != nil {
			return err
		}
		return e.alu.Op(op, regs[0], regs[1], regs[2])

	case immOps[op] != "":
		regs, err := xregs(args[:min(len(args), 2)], 2)
		if err != nil {
			return err
		}
		imm, err := parseImm(arg(args, 2))
		if err != nil {
			return err
		}
		return e.alu.OpImm(immOps[op], regs[0], regs[1], imm)

	case strings.HasPrefix(op, "csr"):
		return e.csr(op, args)

	case IsAccess(op):
		parse := xreg
		if accesses[op].float {
			parse = freg
		}
		reg, err := parse(arg(args, 0))
		if err != nil {
			return err
		}
		addr, err := addrOperand(e.regFile, arg(args, 1))
		if err != nil {
			return err
		}
		return e.lsu.Access(op, reg, addr)

	case strings.HasPrefix(op, "fmv."):
		return e.fmv(op, args)

	case IsFP(op):
		regs, err := fpRegs(op, args)
		if err != nil {
			return err
		}
		return e.fpu.Exec(op, regs)

	case strings.HasPrefix(op, "v"):
		return e.vpu.Exec(op, args)
	}
	return fmt.Errorf("unsupported instruction %s", op)
}

func (e *Emulator) csr(op string, args []string) error {
	rf := e.regFile
	if op == "csrr" {
		rd, err := xreg(arg(args, 0))
		if err != nil {
			return err
		}
		v, err := rf.ReadCSR(arg(args, 1))
		if err != nil {
			return err
		}
		rf.WriteReg(rd, v)
		return nil
	}

	name := arg(args, 0)
	var v uint64
	if strings.HasSuffix(op, "i") {
		imm, err := parseUint(arg(args, 1))
		if err != nil {
			return err
		}
		v = imm
	} else {
		rs, err := xreg(arg(args, 1))
		if err != nil {
			return err
		}
		v = rf.ReadReg(rs)
	}

	old, err := rf.ReadCSR(name)
	if err != nil {
		return err
	}
	switch strings.TrimSuffix(op, "i") {
	case "csrw":
	case "csrs":
		v = old | v
	case "csrc":
		v = old &^ v
	default:
		return fmt.Errorf("unsupported instruction %s", op)
	}
	return rf.WriteCSR(name, v)
}

func (e *Emulator) fmv(op string, args []string) error {
	parts := strings.Split(op, ".")
	if len(parts) != 3 {
		return fmt.Errorf("unsupported move %s", op)
	}
	parseD, parseS := freg, xreg
	if parts[1] == "x" {
		parseD, parseS = xreg, freg
	}
	rd, err := parseD(arg(args, 0))
	if err != nil {
		return err
	}
	rs, err := parseS(arg(args, 1))
	if err != nil {
		return err
	}
	return e.fpu.Move(op, rd, rs)
}

var roundingModes = map[string]bool{"rne": true, "rtz": true, "rdn": true, "rup": true, "rmm": true, "dyn": true}

// fpRegs parses the register operands of a floating-point operation.
// Comparisons write an integer register; a trailing rounding mode is
// dropped.
func fpRegs(op string, args []string) ([]int, error) {
	if n := len(args); n > 0 && roundingModes[args[n-1]] {
		args = args[:n-1]
	}
	regs := make([]int, len(args))
	for i, a := range args {
		parse := freg
		if i == 0 && (strings.HasPrefix(op, "feq") || strings.HasPrefix(op, "flt") || strings.HasPrefix(op, "fle")) {
			parse = xreg
		}
		r, err := parse(a)
		if err != nil {
			return nil, err
		}
		regs[i] = r
	}
	return regs, nil
}

func xreg(s string) (int, error) {
	r, ok := insts.ParseXReg(s)
	if !ok {
		return 0, fmt.Errorf("bad register %q", s)
	}
	return r, nil
}

func freg(s string) (int, error) {
	r, ok := insts.ParseFReg(s)
	if !ok {
		return 0, fmt.Errorf("bad floating-point register %q", s)
	}
	return r, nil
}

func xregs(args []string, n int) ([]int, error) {
	if len(args) != n {
		return nil, fmt.Errorf("expected %d register operands, got %d", n, len(args))
	}
	out := make([]int, n)
	for i, a := range args {
		r, err := xreg(a)
		if err != nil {
			return nil, err
		}
		out[i] = r
	}
	return out, nil
}
