package ffi

import "golang.org/x/sys/unix"

func tid() int { return unix.Gettid() }
