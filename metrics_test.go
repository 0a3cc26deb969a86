package utk

import (
	"testing"
	"time"
)

func TestMetrics(t *testing.T) {
	m := NewMetrics()

	snap := m.Snapshot()
	if snap.TicksServed != 0 {
		t.Errorf("Expected 0 initial ticks, got %d", snap.TicksServed)
	}

	m.RecordTick(false)
	m.RecordTick(true)
	m.RecordTick(true)

	snap = m.Snapshot()
	if snap.TicksServed != 3 {
		t.Errorf("Expected 3 ticks, got %d", snap.TicksServed)
	}
	if snap.Preemptions != 2 {
		t.Errorf("Expected 2 preemptions, got %d", snap.Preemptions)
	}
}

func TestMetricsThreadLifecycle(t *testing.T) {
	m := NewMetrics()

	m.RecordThreadCreated()
	m.RecordThreadCreated()
	m.RecordThreadExited()

	snap := m.Snapshot()
	if snap.ThreadsCreated != 2 {
		t.Errorf("Expected 2 threads created, got %d", snap.ThreadsCreated)
	}
	if snap.ThreadsExited != 1 {
		t.Errorf("Expected 1 thread exited, got %d", snap.ThreadsExited)
	}
	if snap.LiveThreads != 1 {
		t.Errorf("Expected 1 live thread, got %d", snap.LiveThreads)
	}
}

func TestMetricsSleepAndPark(t *testing.T) {
	m := NewMetrics()

	m.RecordSleep()
	m.RecordSleep()
	m.RecordSleepWake()
	m.RecordPark()
	m.RecordWake(0)

	snap := m.Snapshot()
	if snap.SleepsStarted != 2 {
		t.Errorf("Expected 2 sleeps started, got %d", snap.SleepsStarted)
	}
	if snap.SleepsWoken != 1 {
		t.Errorf("Expected 1 sleep woken, got %d", snap.SleepsWoken)
	}
	if snap.ParksStarted != 1 {
		t.Errorf("Expected 1 park started, got %d", snap.ParksStarted)
	}
	if snap.Wakes != 1 {
		t.Errorf("Expected 1 wake, got %d", snap.Wakes)
	}
}

func TestMetricsSignalsAndInterrupts(t *testing.T) {
	m := NewMetrics()

	m.RecordSignal(true)
	m.RecordSignal(false)
	m.RecordInterrupt(false)
	m.RecordInterrupt(true)

	snap := m.Snapshot()
	if snap.SignalsRaised != 2 {
		t.Errorf("Expected 2 signals raised, got %d", snap.SignalsRaised)
	}
	if snap.SignalsHandled != 1 {
		t.Errorf("Expected 1 signal handled, got %d", snap.SignalsHandled)
	}
	if snap.InterruptsTaken != 2 {
		t.Errorf("Expected 2 interrupts taken, got %d", snap.InterruptsTaken)
	}
	if snap.SpuriousIRQs != 1 {
		t.Errorf("Expected 1 spurious IRQ, got %d", snap.SpuriousIRQs)
	}
}

func TestMetricsLatency(t *testing.T) {
	m := NewMetrics()

	m.RecordWake(1_000_000) // 1ms
	m.RecordWake(2_000_000) // 2ms

	snap := m.Snapshot()

	expectedAvgNs := uint64(1_500_000)
	if snap.AvgLatencyNs != expectedAvgNs {
		t.Errorf("Expected avg latency %d ns, got %d ns", expectedAvgNs, snap.AvgLatencyNs)
	}
}

func TestMetricsUptime(t *testing.T) {
	m := NewMetrics()

	time.Sleep(10 * time.Millisecond)

	snap := m.Snapshot()
	if snap.UptimeNs < 10*1_000_000 {
		t.Errorf("Expected uptime >= 10ms, got %d ns", snap.UptimeNs)
	}

	m.Stop()
	time.Sleep(5 * time.Millisecond)

	snap2 := m.Snapshot()
	if snap2.UptimeNs > snap.UptimeNs+2*1_000_000 {
		t.Errorf("Uptime increased too much after stop: %d -> %d", snap.UptimeNs, snap2.UptimeNs)
	}
}

func TestMetricsReset(t *testing.T) {
	m := NewMetrics()

	m.RecordThreadCreated()
	m.RecordTick(true)
	m.RecordWake(1_000_000)

	snap := m.Snapshot()
	if snap.TicksServed == 0 {
		t.Error("Expected some ticks before reset")
	}

	m.Reset()

	snap = m.Snapshot()
	if snap.TicksServed != 0 {
		t.Errorf("Expected 0 ticks after reset, got %d", snap.TicksServed)
	}
	if snap.ThreadsCreated != 0 {
		t.Errorf("Expected 0 threads created after reset, got %d", snap.ThreadsCreated)
	}
	if snap.AvgLatencyNs != 0 {
		t.Errorf("Expected 0 avg latency after reset, got %d", snap.AvgLatencyNs)
	}
}

func TestObserver(t *testing.T) {
	observer := &NoOpObserver{}
	observer.ObserveThreadCreated("t", 10)
	observer.ObserveThreadExited("t", "normal")
	observer.ObserveTick(0, true)
	observer.ObserveSleep(true)
	observer.ObserveSignal(1, true)
	observer.ObserveInterrupt(0, false)

	m := NewMetrics()
	metricsObserver := NewMetricsObserver(m)

	metricsObserver.ObserveThreadCreated("t1", 10)
	metricsObserver.ObserveTick(0, true)

	snap := m.Snapshot()
	if snap.ThreadsCreated != 1 {
		t.Errorf("Expected 1 thread created from observer, got %d", snap.ThreadsCreated)
	}
	if snap.TicksServed != 1 {
		t.Errorf("Expected 1 tick served from observer, got %d", snap.TicksServed)
	}
	if snap.Preemptions != 1 {
		t.Errorf("Expected 1 preemption from observer, got %d", snap.Preemptions)
	}
}

func TestMetricsTickRate(t *testing.T) {
	m := NewMetrics()

	startTime := time.Now()
	m.StartTime.Store(startTime.UnixNano())

	for i := 0; i < 10; i++ {
		m.RecordTick(false)
	}

	stopTime := startTime.Add(1 * time.Second)
	m.StopTime.Store(stopTime.UnixNano())

	snap := m.Snapshot()
	if snap.TickRate < 9 || snap.TickRate > 11 {
		t.Errorf("Expected TickRate ~10, got %.2f", snap.TickRate)
	}
}

func TestMetricsHistogram(t *testing.T) {
	m := NewMetrics()

	for i := 0; i < 50; i++ {
		m.RecordWake(500_000) // 500us
	}
	for i := 0; i < 49; i++ {
		m.RecordWake(5_000_000) // 5ms
	}
	m.RecordWake(50_000_000) // 50ms, the P99

	snap := m.Snapshot()

	if snap.LatencyP50Ns < 100_000 || snap.LatencyP50Ns > 1_000_000 {
		t.Errorf("Expected P50 in 100us-1ms range, got %d ns", snap.LatencyP50Ns)
	}
	if snap.LatencyP99Ns < 5_000_000 || snap.LatencyP99Ns > 100_000_000 {
		t.Errorf("Expected P99 in 5ms-100ms range, got %d ns", snap.LatencyP99Ns)
	}

	totalInBuckets := uint64(0)
	for i := 0; i < len(snap.LatencyHistogram); i++ {
		totalInBuckets += snap.LatencyHistogram[i]
	}
	if totalInBuckets == 0 {
		t.Error("Expected histogram buckets to be populated")
	}
}
