package mtree

import (
	"io/fs"
	"strconv"
)

// FormatMode renders the permission bits of m, including setuid,
// setgid and sticky, as unprefixed octal ("755", "4755").
func FormatMode(m fs.FileMode) string {
	bits := uint64(m.Perm())
	if m&fs.ModeSetuid != 0 {
		bits |= 0o4000
	}
	if m&fs.ModeSetgid != 0 {
		bits |= 0o2000
	}
	if m&fs.ModeSticky != 0 {
		bits |= 0o1000
	}
	return strconv.FormatUint(bits, 8)
}
