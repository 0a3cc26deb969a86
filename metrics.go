package utk

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the scheduling-latency histogram buckets in
// nanoseconds: the gap between a thread becoming READY and actually
// landing in a CPU's current slot. Buckets cover from 1us to 10s with
// logarithmic spacing, the same spread the teacher used for I/O latency.
var LatencyBuckets = []uint64{
	1_000,          // 1us
	10_000,         // 10us
	100_000,        // 100us
	1_000_000,      // 1ms
	10_000_000,     // 10ms
	100_000_000,    // 100ms
	1_000_000_000,  // 1s
	10_000_000_000, // 10s
}

const numLatencyBuckets = 8

// Metrics tracks core-wide scheduling and interrupt statistics.
type Metrics struct {
	// Thread lifecycle counters
	ThreadsCreated atomic.Uint64
	ThreadsExited  atomic.Uint64

	// Dispatch counters
	TicksServed   atomic.Uint64 // Tick calls across all CPUs
	Preemptions   atomic.Uint64 // times Tick actually switched cpu.current
	ContextSwitch atomic.Uint64 // alias tracked separately from Preemptions: voluntary (Sleep/Park) switches

	// Blocking-operation counters
	SleepsStarted atomic.Uint64
	SleepsWoken   atomic.Uint64
	ParksStarted  atomic.Uint64
	Wakes         atomic.Uint64

	// Signal/interrupt counters
	SignalsRaised   atomic.Uint64
	SignalsHandled  atomic.Uint64
	InterruptsTaken atomic.Uint64
	SpuriousIRQs    atomic.Uint64

	// Scheduling-latency tracking (ready -> running)
	TotalLatencyNs atomic.Uint64
	LatencyCount   atomic.Uint64

	// Latency histogram buckets (cumulative counts); bucket[i] holds the
	// count of samples with latency <= LatencyBuckets[i].
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	// Core lifecycle
	StartTime atomic.Int64 // Boot timestamp (UnixNano)
	StopTime  atomic.Int64 // Shutdown timestamp (UnixNano), 0 while running
}

// NewMetrics creates a new metrics instance, stamped with the current time
// as its start time.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordThreadCreated records a successful CreateKernelThread call.
func (m *Metrics) RecordThreadCreated() {
	m.ThreadsCreated.Add(1)
}

// RecordThreadExited records a thread reaching ZOMBIE.
func (m *Metrics) RecordThreadExited() {
	m.ThreadsExited.Add(1)
}

// RecordTick records one Tick call, and whether it actually switched the
// CPU's current thread.
func (m *Metrics) RecordTick(preempted bool) {
	m.TicksServed.Add(1)
	if preempted {
		m.Preemptions.Add(1)
	}
}

// RecordSleep records a Sleep call entering the sleep queue.
func (m *Metrics) RecordSleep() {
	m.SleepsStarted.Add(1)
}

// RecordSleepWake records a sleeper drained by drainSleepQueue.
func (m *Metrics) RecordSleepWake() {
	m.SleepsWoken.Add(1)
}

// RecordPark records a thread entering Park.
func (m *Metrics) RecordPark() {
	m.ParksStarted.Add(1)
}

// RecordWake records a Wake call, and the latency between the thread
// becoming ready and this call if known (0 if not tracked).
func (m *Metrics) RecordWake(latencyNs uint64) {
	m.Wakes.Add(1)
	if latencyNs > 0 {
		m.recordLatency(latencyNs)
	}
}

// RecordSignal records a raised signal and, separately, whether it was
// actually dispatched to a handler.
func (m *Metrics) RecordSignal(handled bool) {
	m.SignalsRaised.Add(1)
	if handled {
		m.SignalsHandled.Add(1)
	}
}

// RecordInterrupt records one interrupt routed through the dispatcher,
// and whether the controller classified it as spurious.
func (m *Metrics) RecordInterrupt(spurious bool) {
	m.InterruptsTaken.Add(1)
	if spurious {
		m.SpuriousIRQs.Add(1)
	}
}

// recordLatency records a scheduling-latency sample and updates the
// cumulative histogram.
func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.LatencyCount.Add(1)

	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the core as shut down.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time, race-free copy of Metrics.
type MetricsSnapshot struct {
	ThreadsCreated uint64
	ThreadsExited  uint64
	LiveThreads    uint64

	TicksServed uint64
	Preemptions uint64

	SleepsStarted uint64
	SleepsWoken   uint64
	ParksStarted  uint64
	Wakes         uint64

	SignalsRaised   uint64
	SignalsHandled  uint64
	InterruptsTaken uint64
	SpuriousIRQs    uint64

	AvgLatencyNs uint64
	UptimeNs     uint64

	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64

	LatencyHistogram [numLatencyBuckets]uint64

	TickRate float64 // ticks per second since boot
}

// Snapshot creates a point-in-time snapshot of metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		ThreadsCreated:  m.ThreadsCreated.Load(),
		ThreadsExited:   m.ThreadsExited.Load(),
		TicksServed:     m.TicksServed.Load(),
		Preemptions:     m.Preemptions.Load(),
		SleepsStarted:   m.SleepsStarted.Load(),
		SleepsWoken:     m.SleepsWoken.Load(),
		ParksStarted:    m.ParksStarted.Load(),
		Wakes:           m.Wakes.Load(),
		SignalsRaised:   m.SignalsRaised.Load(),
		SignalsHandled:  m.SignalsHandled.Load(),
		InterruptsTaken: m.InterruptsTaken.Load(),
		SpuriousIRQs:    m.SpuriousIRQs.Load(),
	}

	if snap.ThreadsCreated > snap.ThreadsExited {
		snap.LiveThreads = snap.ThreadsCreated - snap.ThreadsExited
	}

	latencyCount := m.LatencyCount.Load()
	if latencyCount > 0 {
		snap.AvgLatencyNs = m.TotalLatencyNs.Load() / latencyCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	if snap.UptimeNs > 0 {
		uptimeSeconds := float64(snap.UptimeNs) / 1e9
		snap.TickRate = float64(snap.TicksServed) / uptimeSeconds
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	if latencyCount > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
		snap.LatencyP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

// calculatePercentile estimates the latency at the given percentile
// (0.0-1.0) using linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	total := m.LatencyCount.Load()
	if total == 0 {
		return 0
	}

	targetCount := uint64(float64(total) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}

	return LatencyBuckets[numLatencyBuckets-1]
}

// Reset resets all metrics counters. Useful for testing.
func (m *Metrics) Reset() {
	m.ThreadsCreated.Store(0)
	m.ThreadsExited.Store(0)
	m.TicksServed.Store(0)
	m.Preemptions.Store(0)
	m.SleepsStarted.Store(0)
	m.SleepsWoken.Store(0)
	m.ParksStarted.Store(0)
	m.Wakes.Store(0)
	m.SignalsRaised.Store(0)
	m.SignalsHandled.Store(0)
	m.InterruptsTaken.Store(0)
	m.SpuriousIRQs.Store(0)
	m.TotalLatencyNs.Store(0)
	m.LatencyCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// Observer allows pluggable collection of core events, independent of the
// built-in Metrics accumulator.
type Observer interface {
	ObserveThreadCreated(name string, priority int)
	ObserveThreadExited(name string, cause string)
	ObserveTick(cpu int, preempted bool)
	ObserveSleep(started bool) // true=Sleep entered, false=Sleep woken
	ObserveSignal(kind int, handled bool)
	ObserveInterrupt(line int, spurious bool)
}

// NoOpObserver is a no-op implementation of Observer.
type NoOpObserver struct{}

func (NoOpObserver) ObserveThreadCreated(string, int)  {}
func (NoOpObserver) ObserveThreadExited(string, string) {}
func (NoOpObserver) ObserveTick(int, bool)              {}
func (NoOpObserver) ObserveSleep(bool)                  {}
func (NoOpObserver) ObserveSignal(int, bool)            {}
func (NoOpObserver) ObserveInterrupt(int, bool)         {}

// MetricsObserver implements Observer by recording into a Metrics
// accumulator.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records to the given
// metrics.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveThreadCreated(string, int) {
	o.metrics.RecordThreadCreated()
}

func (o *MetricsObserver) ObserveThreadExited(string, string) {
	o.metrics.RecordThreadExited()
}

func (o *MetricsObserver) ObserveTick(_ int, preempted bool) {
	o.metrics.RecordTick(preempted)
}

func (o *MetricsObserver) ObserveSleep(started bool) {
	if started {
		o.metrics.RecordSleep()
		return
	}
	o.metrics.RecordSleepWake()
}

func (o *MetricsObserver) ObserveSignal(_ int, handled bool) {
	o.metrics.RecordSignal(handled)
}

func (o *MetricsObserver) ObserveInterrupt(_ int, spurious bool) {
	o.metrics.RecordInterrupt(spurious)
}

// Compile-time interface checks
var _ Observer = (*MetricsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)
