// Copyright 2018 Bull S.A.S. Atos Technologies - Bull, Rue Jean Jaures, B.P.68, 78340, Les Clayes-sous-Bois, France.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package log provides the leveled logger used across raysub.
//
// Debug traces are disabled by default and enabled either programmatically
// with SetDebug or by setting the RAYSUB_LOG environment variable to "debug"
// or "1".
package log

import (
	"io"
	slog "log"
	"os"
	"strings"
	"sync"
)

var (
	std   = slog.New(os.Stdout, "", slog.LstdFlags)
	debug = false
	mutex sync.Mutex
)

func init() {
	switch strings.ToUpper(os.Getenv("RAYSUB_LOG")) {
	case "DEBUG":
		debug = true
	case "1":
		debug = true
	}
}

// SetDebug enables or disables the debug level.
func SetDebug(d bool) {
	mutex.Lock()
	defer mutex.Unlock()
	debug = d
}

// SetOutput sets the output destination for the standard logger.
func SetOutput(w io.Writer) {
	std.SetOutput(w)
}

// Print calls Output to print to the standard logger.
// Arguments are handled in the manner of fmt.Print.
func Print(v ...interface{}) {
	a := make([]interface{}, len(v)+1)
	a[0] = "[INFO] "
	std.Print(append(a, v...))
}

// Printf calls Output to print to the standard logger.
// Arguments are handled in the manner of fmt.Printf.
func Printf(format string, v ...interface{}) {
	std.Printf("[INFO]  "+format, v...)
}

// Println calls Output to print to the standard logger.
// Arguments are handled in the manner of fmt.Println.
func Println(v ...interface{}) {
	a := make([]interface{}, len(v)+1)
	a[0] = "[INFO] "
	std.Println(append(a, v...))
}

// Fatal is equivalent to Print() followed by a call to os.Exit(1).
func Fatal(v ...interface{}) {
	a := make([]interface{}, len(v)+1)
	a[0] = "[FATAL]"
	std.Fatal(append(a, v...))
}

// Fatalf is equivalent to Printf() followed by a call to os.Exit(1).
func Fatalf(format string, v ...interface{}) {
	std.Fatalf("[FATAL] "+format, v...)
}

// Debug calls Output to print to the standard logger if debug is enabled.
// Arguments are handled in the manner of fmt.Print.
func Debug(v ...interface{}) {
	if debug {
		a := make([]interface{}, len(v)+1)
		a[0] = "[DEBUG]"
		std.Print(append(a, v...))
	}
}

// Debugf calls Output to print to the standard logger if debug is enabled.
// Arguments are handled in the manner of fmt.Printf.
func Debugf(format string, v ...interface{}) {
	if debug {
		std.Printf("[DEBUG] "+format, v...)
	}
}

// Debugln calls Output to print to the standard logger if debug is enabled.
// Arguments are handled in the manner of fmt.Println.
func Debugln(v ...interface{}) {
	if debug {
		a := make([]interface{}, len(v)+1)
		a[0] = "[DEBUG]"
		std.Println(append(a, v...))
	}
}

// IsDebug reports whether the debug level is enabled.
func IsDebug() bool {
	mutex.Lock()
	defer mutex.Unlock()
	return debug
}
