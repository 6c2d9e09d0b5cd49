package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sdmakit/sdma/core/nnduration"
	"github.com/sdmakit/sdma/core/subtract"
	"github.com/sdmakit/sdma/core/yamlflag"
	"github.com/sdmakit/sdma/dmamap"
	"github.com/sdmakit/sdma/sdma"
	"github.com/sdmakit/sdma/sdma/sdmasim"
)

// runConfig is the document accepted by --config.
type runConfig struct {
	Device sdma.DeviceConfig `json:"device"`

	// Flows is the number of producers.
	Flows int `json:"flows"`
	// Frames is the number of frames per flow.
	Frames int `json:"frames"`
	// PayloadLen is the UDP payload length.
	PayloadLen int `json:"payloadLen"`
	// AHG enables header compression for flows that can allocate an AHG entry.
	AHG bool `json:"ahg,omitempty"`

	// WireBurst is the number of descriptors consumed per engine per wire iteration.
	WireBurst int `json:"wireBurst"`
	// WireInterval is the pause between wire iterations that consume nothing.
	WireInterval nnduration.Microseconds `json:"wireInterval"`
	// InterruptEveryPacket raises a progress interrupt after every packet.
	InterruptEveryPacket bool `json:"interruptEveryPacket,omitempty"`
}

var defaultRunConfig = runConfig{
	Device: sdma.DeviceConfig{
		Engines: 4,
		NumVLs:  2,
		Engine:  sdma.Config{DescCount: 256},
	},
	Flows:        8,
	Frames:       1000,
	PayloadLen:   512,
	WireBurst:    32,
	WireInterval: 50,
}

// wireStats counts frames captured from the wire.
type wireStats struct {
	mu      sync.Mutex
	frames  []int
	bytes   []int
	bad     int
	lastSeq map[uint32]uint64
	reorder int
}

func (ws *wireStats) receive(engine int, frame []byte) {
	flow, seq, e := parseFrame(frame)

	ws.mu.Lock()
	defer ws.mu.Unlock()
	if e != nil {
		ws.bad++
		logger.Warn("undecodable frame", zap.Int("engine", engine), zap.Error(e))
		return
	}
	ws.frames[engine]++
	ws.bytes[engine] += len(frame)
	if last, ok := ws.lastSeq[flow]; ok && seq != last+1 {
		ws.reorder++
	}
	ws.lastSeq[flow] = seq
}

// runWire consumes descriptors on every engine until ctx is canceled.
func runWire(ctx context.Context, hw *sdmasim.Hardware, nEngines int, cfg runConfig) error {
	idle := time.NewTicker(cfg.WireInterval.DurationOr(50))
	defer idle.Stop()
	for {
		n := 0
		for i := range nEngines {
			n += hw.Consume(i, cfg.WireBurst)
		}
		if n > 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-idle.C:
		}
	}
}

func serveMetrics(listen string, dev *sdma.Device) *http.Server {
	reg := prometheus.NewRegistry()
	reg.MustRegister(sdma.NewCollector(dev))
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{ErrorLog: zap.NewStdLog(logger)}))
	srv := &http.Server{Addr: listen, Handler: mux}
	go func() {
		if e := srv.ListenAndServe(); e != nil && !errors.Is(e, http.ErrServerClosed) {
			logger.Error("metrics listener failed", zap.Error(e))
		}
	}()
	return srv
}

// reportProgress logs per-engine counter increments every interval until ctx is canceled.
func reportProgress(ctx context.Context, dev *sdma.Device, interval time.Duration) {
	prev := make([]sdma.Counters, dev.CountEngines())
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		for i, eng := range dev.Engines() {
			curr := eng.Counters()
			diff := subtract.Sub(curr, prev[i])
			prev[i] = curr
			logger.Info("progress",
				zap.Int("engine", i),
				zap.Stringer("state", eng.State()),
				zap.Uint64("submitted", diff.Submitted),
				zap.Uint64("completed", diff.Completed),
				zap.Uint64("descq-full", diff.DescqFull),
				zap.Float64("retired-per-pass", diff.Retired.Mean),
			)
		}
	}
}

func printCounters(dev *sdma.Device, ws *wireStats, producers []*producer) {
	tw := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintln(tw, "ENGINE\tSTATE\tSUBMITTED\tCOMPLETED\tABORTED\tDESCQ-FULL\tPARKED\tWOKEN\tINTS\tRETIRED/PASS\tFRAMES\tBYTES")
	ws.mu.Lock()
	defer ws.mu.Unlock()
	for i, eng := range dev.Engines() {
		cnt := eng.Counters()
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%.1f\t%d\t%d\n",
			i, eng.State(), cnt.Submitted, cnt.Completed, cnt.Aborted, cnt.DescqFull, cnt.Parked, cnt.Woken,
			cnt.ProgressInts+cnt.IdleInts+cnt.ErrorInts, cnt.Retired.Mean, ws.frames[i], ws.bytes[i])
	}

	var nOK, nError int64
	for _, p := range producers {
		nOK += p.nOK.Load()
		nError += p.nError.Load()
	}
	fmt.Fprintf(tw, "\ncompleted %d, failed %d, undecodable %d, out-of-order %d\n", nOK, nError, ws.bad, ws.reorder)
}

func init() {
	cfg := defaultRunConfig
	var metricsListen string
	var reportInterval time.Duration
	defineCommand(&cli.Command{
		Name:  "run",
		Usage: "Submit UDP frames through simulated send DMA engines.",
		Flags: []cli.Flag{
			&cli.GenericFlag{
				Name:  "config",
				Usage: "Run configuration `document` in YAML, or @file.",
				Value: yamlflag.New(&cfg),
			},
			&cli.IntFlag{
				Name:  "flows",
				Usage: "Number of flows (overrides config).",
			},
			&cli.IntFlag{
				Name:  "frames",
				Usage: "Number of frames per flow (overrides config).",
			},
			&cli.BoolFlag{
				Name:  "ahg",
				Usage: "Enable header compression (overrides config).",
			},
			&cli.DurationFlag{
				Name:        "interval",
				Usage:       "Progress report `interval` (0 disables).",
				Destination: &reportInterval,
			},
			&cli.StringFlag{
				Name:        "metrics",
				Usage:       "Prometheus metrics listen `address`.",
				Destination: &metricsListen,
			},
		},
		Action: func(c *cli.Context) error {
			if c.IsSet("flows") {
				cfg.Flows = c.Int("flows")
			}
			if c.IsSet("frames") {
				cfg.Frames = c.Int("frames")
			}
			if c.IsSet("ahg") {
				cfg.AHG = c.Bool("ahg")
			}
			return run(c.Context, cfg, metricsListen, reportInterval)
		},
	})
}

func run(ctx context.Context, cfg runConfig, metricsListen string, reportInterval time.Duration) (e error) {
	if cfg.Flows <= 0 || cfg.Frames <= 0 || cfg.WireBurst <= 0 {
		return errors.New("flows, frames, and wireBurst must be positive")
	}

	iommu := dmamap.NewIOMMU(dmamap.IOMMUConfig{})
	hw := sdmasim.New(sdmasim.Config{
		IOMMU:                iommu,
		InterruptEveryPacket: cfg.InterruptEveryPacket,
		CheckGeneration:      true,
	})
	dev, e := sdma.NewDevice(cfg.Device, hw)
	if e != nil {
		return e
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if e1 := dev.Close(closeCtx); e == nil {
			e = e1
		}
	}()
	hw.OnInterrupt(dev.Interrupt)

	ws := &wireStats{
		frames:  make([]int, dev.CountEngines()),
		bytes:   make([]int, dev.CountEngines()),
		lastSeq: map[uint32]uint64{},
	}
	hw.OnWire(ws.receive)

	if metricsListen != "" {
		srv := serveMetrics(metricsListen, dev)
		defer srv.Close()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-interrupt:
			logger.Info("interrupted")
			cancel()
		case <-ctx.Done():
		}
	}()

	if e = dev.Start(ctx); e != nil {
		return e
	}
	if e = dev.AllRunning(ctx); e != nil {
		return e
	}
	logger.Info("engines running", zap.Int("engines", dev.CountEngines()), zap.Int("flows", cfg.Flows))

	wireCtx, stopWire := context.WithCancel(ctx)
	if reportInterval > 0 {
		go reportProgress(wireCtx, dev, reportInterval)
	}
	var wire errgroup.Group
	wire.Go(func() error { return runWire(wireCtx, hw, dev.CountEngines(), cfg) })

	producers := make([]*producer, cfg.Flows)
	numVLs := max(cfg.Device.NumVLs, 1)
	prod, prodCtx := errgroup.WithContext(ctx)
	t0 := time.Now()
	for i := range producers {
		eng := dev.SelectEngineVL(uint32(i/numVLs), uint8(i%numVLs))
		p := newProducer(i, eng, iommu, cfg)
		producers[i] = p
		prod.Go(func() error { return p.Run(prodCtx) })
	}
	e = prod.Wait()
	elapsed := time.Since(t0)
	stopWire()
	if e1 := wire.Wait(); e == nil {
		e = e1
	}

	idleCtx, cancelIdle := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelIdle()
	if e1 := dev.AllIdle(idleCtx); e == nil {
		e = e1
	}
	printCounters(dev, ws, producers)
	logger.Info("run finished", zap.Duration("elapsed", elapsed),
		zap.Int("iommu-outstanding", iommu.Outstanding()), zap.Error(e))
	return e
}
