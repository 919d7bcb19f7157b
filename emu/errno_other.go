//go:build !unix

package emu

// hostErrno has no raw errno to inspect off unix; TargetErrno falls back to
// the io/fs sentinel errors.
func hostErrno(error) (int, bool) {
	return 0, false
}
