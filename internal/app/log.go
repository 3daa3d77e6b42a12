// Copyright 2025 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package app

import "log"

// Errorf logs a non-fatal error.
func Errorf(format string, args ...interface{}) {
	log.Printf("ERROR: "+format, args...)
}

// Fatalf logs and terminates the process, for configuration errors that
// must fail fast at startup.
func Fatalf(format string, args ...interface{}) {
	log.Fatalf("FATAL: "+format, args...)
}
