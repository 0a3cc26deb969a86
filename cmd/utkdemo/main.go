// Command utkdemo boots the core with the reference PIC/PIT drivers
// attached and idles, the same smoke-test role the teacher's ublk-mem
// command played for a real block device.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/roos-kernel/utk"
	"github.com/roos-kernel/utk/internal/logging"
	"github.com/roos-kernel/utk/internal/sched"
	utksyscall "github.com/roos-kernel/utk/internal/syscall"
)

func main() {
	var (
		numCPUs = flag.Int("cpus", 4, "number of simulated CPUs")
		verbose = flag.Bool("v", false, "verbose output")
	)
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)

	params := sched.DefaultBootParams()
	params.NumCPUs = *numCPUs

	tree := utk.BuildSampleDeviceTree()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	kernel, err := utk.Boot(ctx, params, tree, &utk.Options{
		Context: ctx,
		Logger:  logger,
		Interrupts: utk.InterruptConfig{
			MinLine: 0, MaxLine: 63,
			MinException: 0, MaxException: 3,
		},
	})
	if err != nil {
		logger.Error("boot failed", "error", err)
		os.Exit(1)
	}

	for _, result := range kernel.AttachResults() {
		if result.Matched {
			logger.Info("driver attached", "compatible", result.Compatible, "driver", result.DriverName, "error", result.Err)
		}
	}

	fmt.Printf("core booted with %d CPUs\n", params.NumCPUs)
	fmt.Printf("press Ctrl+C to shut down\n")

	done := make(chan struct{})
	_, err = kernel.Scheduler.CreateKernelThread(10, "demo-sleeper", sched.PageSize, sched.NewCPUSet(0),
		func(arg any) {
			_, _ = kernel.Syscalls.Perform(kernel.Scheduler, utksyscall.Sleep, utksyscall.SleepParams{
				Ctx:      ctx,
				Duration: 200 * time.Millisecond,
			})
			logger.Info("demo thread woke up", "uptime_ns", kernel.Timer.UptimeNs())
			close(done)
		}, nil)
	if err != nil {
		logger.Error("failed to start demo thread", "error", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-done:
		fmt.Printf("demo thread finished; idling until interrupted\n")
		<-sigCh
	case <-sigCh:
	}

	logger.Info("received shutdown signal")
	if err := utk.Shutdown(context.Background(), kernel); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
