//go:build linux && !amd64 && !arm64

package sandbox

// No known arch-specific dangerous syscalls cataloged for this architecture yet.
var deniedSyscallsArch = []uint32{}
