package emu

import "io"

// RISC-V Linux syscall numbers.
const (
	SyscallWrite uint64 = 64
	SyscallExit  uint64 = 93
)

// Linux error codes.
const (
	EBADF  = 9
	EIO    = 5
	EFAULT = 14
	ENOSYS = 38
)

// Argument registers of the syscall convention.
const (
	regA0 = 10
	regA1 = 11
	regA2 = 12
	regA7 = 17
)

// SyscallResult represents the result of a syscall execution.
type SyscallResult struct {
	// Exited is true if the syscall caused program termination.
	Exited bool

	// ExitCode is the exit status if Exited is true.
	ExitCode int64
}

// SyscallHandler handles ecall. The syscall number is in a7, the
// arguments in a0-a5 and the return value goes to a0.
type SyscallHandler interface {
	Handle() SyscallResult
}

// DefaultSyscallHandler supports exit and write.
type DefaultSyscallHandler struct {
	regFile *RegFile
	memory  *Memory
	stdout  io.Writer
	stderr  io.Writer
}

// NewDefaultSyscallHandler creates a default syscall handler.
func NewDefaultSyscallHandler(regFile *RegFile, memory *Memory, stdout, stderr io.Writer) *DefaultSyscallHandler {
	return &DefaultSyscallHandler{
		regFile: regFile,
		memory:  memory,
		stdout:  stdout,
		stderr:  stderr,
	}
}

// Handle executes the syscall indicated by the register file state.
func (h *DefaultSyscallHandler) Handle() SyscallResult {
	switch h.regFile.ReadReg(regA7) {
	case SyscallWrite:
		return h.handleWrite()
	case SyscallExit:
		return SyscallResult{Exited: true, ExitCode: int64(h.regFile.ReadReg(regA0))}
	}
	h.setError(ENOSYS)
	return SyscallResult{}
}

func (h *DefaultSyscallHandler) handleWrite() SyscallResult {
	var writer io.Writer
	switch h.regFile.ReadReg(regA0) {
	case 1:
		writer = h.stdout
	case 2:
		writer = h.stderr
	default:
		h.setError(EBADF)
		return SyscallResult{}
	}

	buf, err := h.memory.Read(h.regFile.ReadReg(regA1), h.regFile.ReadReg(regA2))
	if err != nil {
		h.setError(EFAULT)
		return SyscallResult{}
	}
	n, err := writer.Write(buf)
	if err != nil {
		h.setError(EIO)
		return SyscallResult{}
	}
	h.regFile.WriteReg(regA0, uint64(n))
	return SyscallResult{}
}

// setError sets a0 to -errno.
func (h *DefaultSyscallHandler) setError(errno int) {
	h.regFile.WriteReg(regA0, uint64(-int64(errno)))
}
