// Command demo drives a four-machine seeded fleet through NORMAL /
// NORMAL_NOISY / FAILING / MANUAL behavior and feeds the generated samples
// through the real pipeline against a SQLite-backed store. Sample
// generation is simulation only; nothing here is part of the alert core
// itself, only its output shape matters to it. Loop shape is a sequence of
// synthetic records driven through the core on a fixed tick.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/predmaint/alertcore/internal/config"
	"github.com/predmaint/alertcore/internal/model"
	"github.com/predmaint/alertcore/internal/pipeline"
	"github.com/predmaint/alertcore/internal/store"
)

// runtimeHours tracks each machine's simulated elapsed runtime for the
// FAILING mode's degradation-phase lookup.
type machineClock struct {
	runtimeHours float64
}

func main() {
	dbPath := flag.String("db", "data/demo.db", "path to the demo SQLite database")
	ticks := flag.Int("ticks", 0, "number of one-second ticks to run (0 = run until interrupted)")
	flag.Parse()

	cfg := config.Default()
	cfg.Store.Path = *dbPath

	backend, err := store.Open(cfg.Store.Path)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer backend.Close()

	pl := pipeline.New(cfg, backend)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pl.Run(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	clocks := make(map[string]*machineClock)
	for machineID := range cfg.MachineAssignments {
		clocks[machineID] = &machineClock{}
	}

	rng := rand.New(rand.NewSource(42))
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	tickCount := 0
	fmt.Println("Predictive maintenance demo fleet running. Press Ctrl+C to stop.")
	for {
		select {
		case <-sigCh:
			fmt.Println("\nShutting down demo fleet.")
			return
		case <-ticker.C:
			tickCount++
			for machineID, equipType := range cfg.MachineAssignments {
				mode := cfg.MachineModes[machineID]
				sample := generateSample(cfg, rng, machineID, equipType, mode, clocks[machineID])
				alertIDs, err := pl.Submit(ctx, sample)
				if err != nil {
					log.Printf("submit error for %s: %v", machineID, err)
					continue
				}
				for _, id := range alertIDs {
					fmt.Printf("[%s] alert emitted: %s\n", machineID, id)
				}
			}
			if *ticks > 0 && tickCount >= *ticks {
				return
			}
		}
	}
}

// generateSample produces one sensor sample for machineID per its
// equipment-type baseline and simulation mode.
func generateSample(cfg config.Root, rng *rand.Rand, machineID, equipType, mode string, clock *machineClock) model.Sample {
	profile, ok := cfg.MachineTypes[equipType]
	if !ok {
		profile = config.MachineType{
			Baselines: map[string]float64{"vibration_x": 0.5, "vibration_y": 0.5, "temperature": 60, "pressure": 100, "rpm": 1500},
			Variance:  map[string]float64{"vibration": 0.05, "temperature": 2, "pressure": 3, "rpm": 10},
		}
	}

	clock.runtimeHours += 1.0 / 3600.0
	degradation := 1.0
	if mode == "FAILING" {
		degradation = degradationFactor(cfg, clock.runtimeHours)
	}

	noiseScale := 1.0
	if mode == "NORMAL_NOISY" {
		noiseScale = 3.0
	}

	sample := model.Sample{
		MachineID: machineID,
		Timestamp: time.Now(),
		Sensors:   make(map[string]float64),
	}

	sample.Sensors["vibration_x"] = gauss(rng, profile.Baselines["vibration_x"]*degradation, profile.Variance["vibration"]*noiseScale)
	sample.Sensors["vibration_y"] = gauss(rng, profile.Baselines["vibration_y"]*degradation, profile.Variance["vibration"]*noiseScale)
	sample.Sensors["temperature"] = gauss(rng, profile.Baselines["temperature"]*degradation, profile.Variance["temperature"]*noiseScale)
	sample.Sensors["pressure"] = gauss(rng, profile.Baselines["pressure"], profile.Variance["pressure"]*noiseScale)
	sample.Sensors["rpm"] = gauss(rng, profile.Baselines["rpm"]/math.Max(degradation, 1.0), profile.Variance["rpm"]*noiseScale)

	if mode == "NORMAL_NOISY" && rng.Float64() < 0.05 {
		sample.Sensors["vibration_x"] *= 1.8
	}

	return sample
}

func degradationFactor(cfg config.Root, runtimeHours float64) float64 {
	for phaseName, phase := range cfg.DegradationPhases {
		if runtimeHours >= float64(phase.MinHours) && runtimeHours < float64(phase.MaxHours) {
			return cfg.DegradationFactors[phaseName]
		}
	}
	return cfg.DegradationFactors["FAILURE"]
}

func gauss(rng *rand.Rand, mean, stddev float64) float64 {
	if stddev <= 0 {
		return mean
	}
	return mean + rng.NormFloat64()*stddev
}
