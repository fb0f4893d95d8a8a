// Package telemetry is the ambient logging and metrics layer shared by
// every component of the virtual memory subsystem. It replaces the
// teacher's compile-time-toggled stats.Counter_t/printk idiom
// (stats/stats.go, every printk call in on_demand.c) with always-on
// atomic counters and structured zerolog events, since this module is
// a teaching tool rather than a hot kernel path and its whole purpose
// is to make the state of the allocator observable.
package telemetry

import (
	"os"
	"reflect"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Log is the process-wide structured logger. Every component logs
// through it rather than through fmt.Printf, mirroring the teacher's
// single global logging surface (biscuit routes everything through
// its console device) but with levels and structured fields.
var Log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
	With().Timestamp().Logger()

// Counter_t is an always-on atomic counter, the always-enabled twin of
// the teacher's stats.Counter_t (which only counts when the package
// constant Stats is true).
type Counter_t int64

// / Inc increments the counter by one.
func (c *Counter_t) Inc() {
	atomic.AddInt64((*int64)(c), 1)
}

// / Add adds delta to the counter.
func (c *Counter_t) Add(delta int64) {
	atomic.AddInt64((*int64)(c), delta)
}

// / Get returns the current value.
func (c *Counter_t) Get() int64 {
	return atomic.LoadInt64((*int64)(c))
}

// Counters2String formats every Counter_t field of st into a
// human-readable report, the same reflect-driven approach as the
// teacher's stats.Stats2String but always active.
func Counters2String(st interface{}) string {
	v := reflect.ValueOf(st)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	var b strings.Builder
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		if !strings.HasSuffix(t.Field(i).Type.String(), "Counter_t") {
			continue
		}
		n := v.Field(i).Addr().Interface().(*Counter_t)
		b.WriteString("\n\t")
		b.WriteString(t.Field(i).Name)
		b.WriteString(": ")
		b.WriteString(strconv.FormatInt(n.Get(), 10))
	}
	return b.String()
}
