package sdma

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "sdma"

var (
	descEngineState = prometheus.NewDesc(metricsNamespace+"_engine_state",
		"Engine state, 1 for the current state.", []string{"engine", "state"}, nil)
	descFreeSlots = prometheus.NewDesc(metricsNamespace+"_free_slots",
		"Descriptor slots available for submission.", []string{"engine"}, nil)
	descActive = prometheus.NewDesc(metricsNamespace+"_active_requests",
		"Requests owned by the engine.", []string{"engine"}, nil)
	descParked = prometheus.NewDesc(metricsNamespace+"_parked_producers",
		"Producers waiting for descriptor slots.", []string{"engine"}, nil)
	descAHG = prometheus.NewDesc(metricsNamespace+"_ahg_in_use",
		"Allocated header compression entries.", []string{"engine"}, nil)
	descRequests = prometheus.NewDesc(metricsNamespace+"_requests_total",
		"Requests by outcome.", []string{"engine", "outcome"}, nil)
	descInterrupts = prometheus.NewDesc(metricsNamespace+"_interrupts_total",
		"Interrupts by kind.", []string{"engine", "kind"}, nil)
	descBadHead = prometheus.NewDesc(metricsNamespace+"_bad_head_total",
		"Hardware head readings outside the software window.", []string{"engine"}, nil)
	descPollTimeouts = prometheus.NewDesc(metricsNamespace+"_poll_timeouts_total",
		"Hardware status polls that timed out.", []string{"engine"}, nil)
	descRetiredMean = prometheus.NewDesc(metricsNamespace+"_retired_per_pass_mean",
		"Mean descriptors retired per progress pass.", []string{"engine"}, nil)
)

// Collector exports device metrics to Prometheus.
type Collector struct {
	dev *Device
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector creates a Collector for a device.
func NewCollector(dev *Device) *Collector {
	return &Collector{dev: dev}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, desc := range []*prometheus.Desc{
		descEngineState, descFreeSlots, descActive, descParked, descAHG,
		descRequests, descInterrupts, descBadHead, descPollTimeouts, descRetiredMean,
	} {
		ch <- desc
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	gauge := func(desc *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, v, labels...)
	}
	counter := func(desc *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(v), labels...)
	}

	for _, eng := range c.dev.engines {
		id := strconv.Itoa(eng.ID())
		st := eng.State()
		for s, name := range stateNames {
			v := 0.0
			if State(s) == st {
				v = 1
			}
			gauge(descEngineState, v, id, name)
		}
		gauge(descFreeSlots, float64(eng.FreeSlots()), id)
		gauge(descActive, float64(eng.NumActive()), id)
		gauge(descParked, float64(eng.NumParked()), id)
		gauge(descAHG, float64(eng.AHGInUse()), id)

		cnt := eng.Counters()
		counter(descRequests, cnt.Submitted, id, "submitted")
		counter(descRequests, cnt.Completed, id, "completed")
		counter(descRequests, cnt.Aborted, id, "aborted")
		counter(descRequests, cnt.NotConnected, id, "not-connected")
		counter(descRequests, cnt.DescqFull, id, "descq-full")
		counter(descInterrupts, cnt.ProgressInts, id, "progress")
		counter(descInterrupts, cnt.IdleInts, id, "idle")
		counter(descInterrupts, cnt.ErrorInts, id, "error")
		counter(descBadHead, cnt.BadHead, id)
		counter(descPollTimeouts, cnt.PollTimeouts, id)
		gauge(descRetiredMean, cnt.Retired.Mean, id)
	}
}
