//go:build linux && arm64

package sandbox

// arm64 has no IOPL/IOPERM/MODIFY_LDT syscalls (those are x86-only I/O
// privilege APIs), so there is nothing arch-specific to add to the deny list.
var deniedSyscallsArch = []uint32{}
