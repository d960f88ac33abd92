package rxv6

import (
	"fmt"

	"github.com/BurntSushi/toml"
	log "github.com/sirupsen/logrus"
)

// Config describes the simulated machine.
type Config struct {
	// Harts is the number of hardware threads, each running a scheduler.
	Harts int `toml:"harts"`
	// NProc is the size of the process table.
	NProc int `toml:"nproc"`
	// MemPages is the amount of RAM after the kernel image, in pages.
	MemPages int `toml:"mem_pages"`
	// Timeslice is the number of user instructions between timer
	// interrupts.
	Timeslice uint64 `toml:"timeslice"`
	// TicksPerSecond paces every hart's clock in wall time. Zero runs
	// unthrottled.
	TicksPerSecond float64 `toml:"ticks_per_second"`
	// LogLevel is a logrus level name.
	LogLevel string `toml:"log_level"`
}

const (
	maxHarts = 8
	maxProc  = 64
)

// DefaultConfig is a four-hart machine with room for eight processes.
func DefaultConfig() Config {
	return Config{
		Harts:     4,
		NProc:     8,
		MemPages:  1024,
		Timeslice: 100,
		LogLevel:  "info",
	}
}

// LoadConfig reads a TOML machine description. Keys missing from the file
// keep their default values.
func LoadConfig(path string) (Config, error) {
	c := DefaultConfig()
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return c, fmt.Errorf("load config %s: %w", path, err)
	}
	return c, c.Validate()
}

// Validate checks that the machine can be built.
func (c Config) Validate() error {
	if c.Harts < 1 || c.Harts > maxHarts {
		return fmt.Errorf("config: harts must be in [1, %d], got %d", maxHarts, c.Harts)
	}
	if c.NProc < 1 || c.NProc > maxProc {
		return fmt.Errorf("config: nproc must be in [1, %d], got %d", maxProc, c.NProc)
	}
	if c.Timeslice == 0 {
		return fmt.Errorf("config: timeslice must be positive")
	}
	if c.TicksPerSecond < 0 {
		return fmt.Errorf("config: ticks_per_second must not be negative")
	}
	// every slot needs a kernel stack, a trap frame, five page-table pages
	// and two user pages; the kernel page table needs a few more.
	if need := c.NProc*10 + 32; c.MemPages < need {
		return fmt.Errorf("config: mem_pages %d too small for %d processes, need %d", c.MemPages, c.NProc, need)
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}
