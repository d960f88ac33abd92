package rxv6

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "machine.toml")
	data := `
harts = 2
nproc = 16
timeslice = 50
ticks_per_second = 250.0
log_level = "debug"
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	got, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	want := Config{
		Harts:          2,
		NProc:          16,
		MemPages:       DefaultConfig().MemPages,
		Timeslice:      50,
		TicksPerSecond: 250,
		LogLevel:       "debug",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("LoadConfig (-want +got):\n%s", diff)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		data string
	}{
		{name: "syntax", data: "harts = "},
		{name: "type", data: `harts = "four"`},
		{name: "invalid", data: "harts = 9"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(dir, tc.name+".toml")
			if err := os.WriteFile(path, []byte(tc.data), 0644); err != nil {
				t.Fatal(err)
			}
			if _, err := LoadConfig(path); err == nil {
				t.Error("LoadConfig accepted a bad file")
			}
		})
	}
	if _, err := LoadConfig(filepath.Join(dir, "missing.toml")); err == nil {
		t.Error("LoadConfig accepted a missing file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		edit func(c *Config)
		ok   bool
	}{
		{name: "default", edit: func(c *Config) {}, ok: true},
		{name: "one hart", edit: func(c *Config) { c.Harts = 1 }, ok: true},
		{name: "no harts", edit: func(c *Config) { c.Harts = 0 }},
		{name: "too many harts", edit: func(c *Config) { c.Harts = maxHarts + 1 }},
		{name: "no slots", edit: func(c *Config) { c.NProc = 0 }},
		{name: "too many slots", edit: func(c *Config) { c.NProc = maxProc + 1 }},
		{name: "zero timeslice", edit: func(c *Config) { c.Timeslice = 0 }},
		{name: "negative rate", edit: func(c *Config) { c.TicksPerSecond = -1 }},
		{name: "small memory", edit: func(c *Config) { c.MemPages = 10 }},
		{name: "bad level", edit: func(c *Config) { c.LogLevel = "loud" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := DefaultConfig()
			tc.edit(&c)
			if err := c.Validate(); (err == nil) != tc.ok {
				t.Errorf("Validate() = %v, want ok %v", err, tc.ok)
			}
		})
	}
}
