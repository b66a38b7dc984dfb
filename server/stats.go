/******************************************************************************
 *
 *  Description :
 *
 *    Logic related to run-time metrics, exposed over expvar and Prometheus.
 *
 *****************************************************************************/

package main

import (
	"encoding/json"
	"expvar"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flyrr/flyrr/server/logs"
)

// A simple implementation of histogram expvar.Var.
// `Bounds` specifies the histogram buckets as follows (length = len(bounds)+1):
//
//	(-inf, Bounds[i]) for i = 0
//	[Bounds[i-1], Bounds[i]) for 0 < i < length
//	[Bounds[i-1], +inf) for i = length-1
type histogram struct {
	Count          int64     `json:"count"`
	Sum            float64   `json:"sum"`
	CountPerBucket []int64   `json:"count_per_bucket"`
	Bounds         []float64 `json:"bounds"`
}

func (h *histogram) addSample(v float64) {
	h.Count++
	h.Sum += v
	idx := len(h.Bounds)
	for i, b := range h.Bounds {
		if v < b {
			idx = i
			break
		}
	}
	h.CountPerBucket[idx]++
}

func (h *histogram) String() string {
	if r, err := json.Marshal(h); err == nil {
		return string(r)
	}
	return ""
}

type varUpdate struct {
	// Name of the variable to update.
	varname string
	// Value to publish, int64 for counters, float64 for histogram samples.
	value any
	// Treat the count as an increment as opposite to the final value.
	inc bool
}

// Initialize the metrics reporting endpoints. `expvarPath` serves the raw
// expvar dump, `metricsPath` the Prometheus scrape view of the same counters.
func statsInit(mux *http.ServeMux, expvarPath, metricsPath string) {
	if expvarPath == "-" {
		expvarPath = ""
	}
	if metricsPath == "-" {
		metricsPath = ""
	}
	if expvarPath == "" && metricsPath == "" {
		return
	}

	if expvarPath != "" {
		mux.Handle(expvarPath, expvar.Handler())
	}
	if metricsPath != "" {
		mux.Handle(metricsPath, promhttp.Handler())
	}

	globals.statsUpdate = make(chan *varUpdate, 1024)

	start := time.Now()
	expvar.Publish("Uptime", expvar.Func(func() any {
		return time.Since(start).Seconds()
	}))
	expvar.Publish("NumGoroutines", expvar.Func(func() any {
		return runtime.NumGoroutine()
	}))

	go statsUpdater()

	logs.Info.Println("stats: variables exposed at", expvarPath, metricsPath)
}

// Register integer variable. Don't check for initialization.
func statsRegisterInt(name string) {
	expvar.Publish(name, new(expvar.Int))

	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Namespace: "flyrr", Name: toSnakeCase(name)},
		func() float64 {
			if v, ok := expvar.Get(name).(*expvar.Int); ok {
				return float64(v.Value())
			}
			return 0
		}))
}

// Register histogram variable. `bounds` specifies histogram buckets.
func statsRegisterHistogram(name string, bounds []float64) {
	expvar.Publish(name, &histogram{
		CountPerBucket: make([]int64, len(bounds)+1),
		Bounds:         bounds,
	})
}

// Async publish int variable.
func statsSet(name string, val int64) {
	if globals.statsUpdate != nil {
		select {
		case globals.statsUpdate <- &varUpdate{name, val, false}:
		default:
		}
	}
}

// Async publish an increment (decrement) to int variable.
func statsInc(name string, val int) {
	if globals.statsUpdate != nil {
		select {
		case globals.statsUpdate <- &varUpdate{name, int64(val), true}:
		default:
		}
	}
}

// Async publish a value (add a sample) to a histogram variable.
func statsAddHistSample(name string, val float64) {
	if globals.statsUpdate != nil {
		select {
		case globals.statsUpdate <- &varUpdate{varname: name, value: val}:
		default:
		}
	}
}

// Stop publishing stats.
func statsShutdown() {
	if globals.statsUpdate != nil {
		globals.statsUpdate <- nil
	}
}

// The go routine which actually publishes stats updates.
func statsUpdater() {
	for upd := range globals.statsUpdate {
		if upd == nil {
			globals.statsUpdate = nil
			// Dont' care to close the channel.
			break
		}

		// Handle var update
		if ev := expvar.Get(upd.varname); ev != nil {
			switch v := ev.(type) {
			case *expvar.Int:
				count := upd.value.(int64)
				if upd.inc {
					v.Add(count)
				} else {
					v.Set(count)
				}
			case *histogram:
				val := upd.value.(float64)
				v.addSample(val)
			}
		} else {
			// The variable doesn't exist. Publish a new var.
			v := new(expvar.Int)
			v.Set(upd.value.(int64))
			expvar.Publish(upd.varname, v)
		}
	}

	logs.Info.Println("stats: shutdown")
}

// toSnakeCase converts CamelCase metric names to the snake_case convention
// used by Prometheus.
func toSnakeCase(s string) string {
	var out []byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			if i > 0 {
				out = append(out, '_')
			}
			c += 'a' - 'A'
		}
		out = append(out, c)
	}
	return string(out)
}
