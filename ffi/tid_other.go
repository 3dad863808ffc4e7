//go:build !linux && !windows

package ffi

import (
	"bytes"
	"runtime"
	"strconv"
)

// tid returns the goroutine id. Without a portable thread id syscall the
// error state follows the goroutine, which is at least as narrow as a
// pinned thread.
func tid() int {
	var buf [64]byte
	b := buf[:runtime.Stack(buf[:], false)]
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i > 0 {
		b = b[:i]
	}
	id, _ := strconv.Atoi(string(b))
	return id
}
