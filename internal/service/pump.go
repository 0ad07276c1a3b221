package service

import (
	"log"
	"sync"
	"time"
)

// PumpConfig holds configuration for the drain pump.
type PumpConfig struct {
	// Interval is how often an unsolicited drain pass runs.
	// Default: 30 seconds
	Interval time.Duration
}

// DefaultPumpConfig returns default pump configuration.
func DefaultPumpConfig() PumpConfig {
	return PumpConfig{
		Interval: 30 * time.Second,
	}
}

// DrainPump periodically kicks the economy drain loop. Submitters kick a
// drain on every enqueue, so in steady state the pump finds an empty queue;
// its job is picking up work stranded by a crashed lease holder.
type DrainPump struct {
	economy   *EconomyService
	config    PumpConfig
	ticker    *time.Ticker
	stopCh    chan struct{}
	stopOnce  sync.Once
	isRunning bool
	mu        sync.Mutex
}

// NewDrainPump creates a new drain pump.
func NewDrainPump(economy *EconomyService, config PumpConfig) *DrainPump {
	if config.Interval == 0 {
		config.Interval = 30 * time.Second
	}
	return &DrainPump{
		economy: economy,
		config:  config,
		stopCh:  make(chan struct{}),
	}
}

// Start begins the pump.
func (p *DrainPump) Start() {
	p.mu.Lock()
	if p.isRunning {
		p.mu.Unlock()
		return
	}
	p.isRunning = true
	p.ticker = time.NewTicker(p.config.Interval)
	p.mu.Unlock()

	log.Printf("[DrainPump] Started - Interval: %v", p.config.Interval)

	go p.run()
}

func (p *DrainPump) run() {
	for {
		select {
		case <-p.ticker.C:
			p.economy.KickDrain()
		case <-p.stopCh:
			log.Printf("[DrainPump] Stopped")
			return
		}
	}
}

// Stop stops the pump.
func (p *DrainPump) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		defer p.mu.Unlock()

		if p.ticker != nil {
			p.ticker.Stop()
		}
		close(p.stopCh)
		p.isRunning = false
	})
}
