package logging

import (
	"fmt"
	"hash/fnv"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

// locationPrefix renders the caller at the given depth as either
// "Type::Method: " when the function has a receiver, or
// "<filestem>.<function>: " for plain functions.
func locationPrefix(depth int) string {
	pc, file, _, ok := runtime.Caller(depth)
	if !ok {
		return ""
	}

	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return ""
	}

	// fn.Name() is "pkg/path.(*Type).Method", "pkg/path.Type.Method"
	// or "pkg/path.function".
	name := fn.Name()
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	parts := strings.Split(name, ".")

	if len(parts) >= 3 {
		typ := parts[len(parts)-2]
		method := parts[len(parts)-1]
		typ = strings.TrimSuffix(strings.TrimPrefix(typ, "(*"), ")")
		if typ != "" && !strings.HasPrefix(method, "func") {
			return typ + "::" + method + ": "
		}
	}

	stem := strings.TrimSuffix(filepath.Base(file), ".go")
	return stem + "." + parts[len(parts)-1] + ": "
}

// goroutinePrefix renders a stable 32-bit hash of the calling
// goroutine's identifier, as "xxxxxxxx: ".
func goroutinePrefix() string {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	// The stack header reads "goroutine 123 [running]:".
	fields := strings.Fields(string(buf[:n]))
	id := ""
	if len(fields) >= 2 {
		id = fields[1]
	}
	h := fnv.New32a()
	h.Write([]byte(id))
	return fmt.Sprintf("%08x: ", h.Sum32())
}

// goroutineID returns the numeric goroutine id, for tests.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	fields := strings.Fields(string(buf[:n]))
	if len(fields) < 2 {
		return 0
	}
	id, _ := strconv.ParseUint(fields[1], 10, 64)
	return id
}
