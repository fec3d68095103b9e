package main

import (
	"context"
	"runtime"
	"time"

	"fieldnode-go/services/scheduler"
	"fieldnode-go/types"
)

// Set with -ldflags "-X main.device=fieldnode-water -X main.sector=water".
var (
	device = "fieldnode"
	sector = "energy"
)

func sectorOf(s string) types.Sector {
	if s == "water" {
		return types.SectorWater
	}
	return types.SectorEnergy
}

func main() {
	// Allow USB CDC to enumerate before we print.
	time.Sleep(2 * time.Second)
	println("[main] boot", device)

	sec := sectorOf(sector)
	p, err := board(sec)
	if err != nil {
		println("[main] board init failed:", err.Error())
	}

	ctx := context.Background()
	n := scheduler.New(device, sec, p, nil)
	go memStats(ctx)
	if err := n.Run(ctx); err != nil {
		println("[main] node stopped:", err.Error())
	}
	for {
		time.Sleep(time.Hour)
	}
}

// memStats prints a compact runtime memory snapshot every minute.
func memStats(ctx context.Context) {
	tick := time.NewTicker(time.Minute)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		println(
			"[mem]",
			"alloc:", uint32(ms.Alloc),
			"heapInuse:", uint32(ms.HeapInuse),
			"mallocs:", uint32(ms.Mallocs),
			"frees:", uint32(ms.Frees),
		)
	}
}
