//go:build linux

package chunk

import (
	"os"

	"golang.org/x/sys/unix"
)

// Advise tells the kernel the range [off, off+n) of f will be read
// sequentially soon. n == 0 means to the end of the file.
func Advise(f *os.File, off, n int64) error {
	fd := int(f.Fd())
	if err := unix.Fadvise(fd, off, n, unix.FADV_SEQUENTIAL); err != nil {
		return err
	}
	return unix.Fadvise(fd, off, n, unix.FADV_WILLNEED)
}
