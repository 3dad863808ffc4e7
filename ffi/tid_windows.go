package ffi

import "golang.org/x/sys/windows"

func tid() int { return int(windows.GetCurrentThreadId()) }
