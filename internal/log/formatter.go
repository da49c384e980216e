package log

import (
	"fmt"
	"path"
	"runtime"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

type formatter struct {
	pattern string
	time    string
}

// Format renders entry through the pattern. Supported placeholders are
// %time, %level, %field, %msg, %caller, %func, %goroutine and %n.
func (f *formatter) Format(entry *logrus.Entry) ([]byte, error) {
	pairs := []string{
		"%time", entry.Time.Format(f.time),
		"%level", strings.ToUpper(entry.Level.String()),
		"%field", buildFields(entry),
		"%msg", entry.Message,
		"%n", "\n",
	}
	if strings.Contains(f.pattern, "%caller") {
		pairs = append(pairs, "%caller", getCaller())
	}
	if strings.Contains(f.pattern, "%func") {
		pairs = append(pairs, "%func", getFunc())
	}
	if strings.Contains(f.pattern, "%goroutine") {
		pairs = append(pairs, "%goroutine", getGoroutineID())
	}
	output := strings.NewReplacer(pairs...).Replace(f.pattern)
	if !strings.HasSuffix(output, "\n") {
		output += "\n"
	}
	return []byte(output), nil
}

// callerFrame finds the first frame outside logrus and this package's
// adapter and formatter, i.e. the code that issued the log call.
func callerFrame() (runtime.Frame, bool) {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		f, more := frames.Next()
		if !isLoggingFrame(f.Function) {
			return f, true
		}
		if !more {
			return runtime.Frame{}, false
		}
	}
}

func isLoggingFrame(fn string) bool {
	return strings.HasPrefix(fn, "github.com/sirupsen/logrus.") ||
		strings.Contains(fn, ".(*logrusAdapter).") ||
		strings.Contains(fn, ".(*formatter).") ||
		strings.HasSuffix(fn, ".callerFrame")
}

// getCaller returns package/file:line of the logging call site.
func getCaller() string {
	f, ok := callerFrame()
	if !ok {
		return "unknown"
	}
	pkg := path.Base(f.Function)
	if dot := strings.Index(pkg, "."); dot != -1 {
		pkg = pkg[:dot]
	}
	return fmt.Sprintf("%s/%s:%d", pkg, path.Base(f.File), f.Line)
}

// getFunc returns the bare function or method name of the call site.
func getFunc() string {
	f, ok := callerFrame()
	if !ok {
		return "unknown"
	}
	name := f.Function
	if dot := strings.LastIndex(name, "."); dot != -1 && dot+1 < len(name) {
		return name[dot+1:]
	}
	return name
}

func getGoroutineID() string {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	stack := strings.TrimPrefix(string(buf[:n]), "goroutine ")
	if idField := strings.Fields(stack); len(idField) > 0 {
		return idField[0]
	}
	return "unknown"
}

// buildFields renders entry data as " k=v,k=v" in key order, or "" when the
// entry carries no fields.
func buildFields(entry *logrus.Entry) string {
	if len(entry.Data) == 0 {
		return ""
	}
	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]string, 0, len(keys))
	for _, k := range keys {
		val := entry.Data[k]
		if err, ok := val.(error); ok {
			val = err.Error()
		}
		fields = append(fields, k+"="+fmt.Sprint(val))
	}
	return " " + strings.Join(fields, ",")
}
