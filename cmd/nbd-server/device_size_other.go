//go:build !linux

package main

import (
	"fmt"
	"os"
)

// deviceSize returns the exact byte size of f. Outside Linux there's no
// portable ioctl for a block device's capacity, so only regular files are
// supported.
func deviceSize(f *os.File) (uint64, error) {
	fi, err := f.Stat()
	if err != nil {
		return 0, err
	}
	if fi.Mode()&os.ModeDevice != 0 {
		return 0, fmt.Errorf("%s: block device export is only supported on linux", f.Name())
	}
	return uint64(fi.Size()), nil
}
