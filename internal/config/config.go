package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Expanders struct {
	Addresses []uint16 `yaml:"addresses"` // MCP23017s in chip order, pairs first
	LocoChip  int      `yaml:"loco_chip"` // -1 disables locomotive indicators
	Console   bool     `yaml:"console"`   // render simulated LEDs to the terminal
}

type Keypad struct {
	Rows []string `yaml:"rows"` // GPIO names, e.g. GPIO5
	Cols []string `yaml:"cols"`
}

type Display struct {
	Enabled bool   `yaml:"enabled"`
	Addr    uint16 `yaml:"addr"`
}

type Throttle struct {
	Enabled bool  `yaml:"enabled"`
	Min     int32 `yaml:"min"`
	Max     int32 `yaml:"max"`
}

type LocoNet struct {
	Port string `yaml:"port"` // empty logs commands instead
	Baud int    `yaml:"baud"`
}

type Storage struct {
	Driver     string `yaml:"driver"` // "file" | "eeprom"
	Path       string `yaml:"path"`
	Size       int64  `yaml:"size"`
	EEPROMAddr uint16 `yaml:"eeprom_addr"`
	EEPROMSize int64  `yaml:"eeprom_size"`
	PageSize   int    `yaml:"page_size"`
}

type Config struct {
	LogLevel   string `yaml:"log_level"`
	Addr       string `yaml:"addr"`
	SimOnly    bool   `yaml:"sim_only"`
	I2CBus     string `yaml:"i2c_bus"`
	PowerPin   string `yaml:"power_pin"`
	IntervalMs int    `yaml:"interval_ms"`

	Expanders Expanders `yaml:"expanders"`
	Keypad    Keypad    `yaml:"keypad"`
	Display   Display   `yaml:"display"`
	Throttle  Throttle  `yaml:"throttle"`
	LocoNet   LocoNet   `yaml:"loconet"`
	Storage   Storage   `yaml:"storage"`
}

// Default matches the panel as wired: five expanders at 0x20-0x24, the
// keypad on the header's free GPIOs and a LocoBuffer on the first USB port.
func Default() *Config {
	return &Config{
		LogLevel:   "info",
		Addr:       ":8080",
		PowerPin:   "GPIO17",
		IntervalMs: 20,
		Expanders: Expanders{
			Addresses: []uint16{0x20, 0x21, 0x22, 0x23, 0x24},
			LocoChip:  4,
		},
		Keypad: Keypad{
			Rows: []string{"GPIO5", "GPIO6", "GPIO13", "GPIO19", "GPIO26", "GPIO16", "GPIO20", "GPIO21"},
			Cols: []string{"GPIO4", "GPIO18", "GPIO22", "GPIO23", "GPIO24", "GPIO25", "GPIO12", "GPIO27"},
		},
		Display:  Display{Enabled: true, Addr: 0x27},
		Throttle: Throttle{Enabled: true, Min: 400, Max: 32367},
		LocoNet:  LocoNet{Port: "/dev/ttyUSB0", Baud: 57600},
		Storage: Storage{
			Driver:     "file",
			Path:       "railpanel.state",
			Size:       1024,
			EEPROMAddr: 0x50,
			EEPROMSize: 32 * 1024,
			PageSize:   64,
		},
	}
}

// Load reads path over the defaults; fields missing from the file keep
// their default value.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c := Default()
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return c, nil
}

func Save(path string, c *Config) error {
	b, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0644)
}

func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "file", "eeprom":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if len(c.Expanders.Addresses) == 0 {
		return fmt.Errorf("no expander addresses")
	}
	if c.Throttle.Max <= c.Throttle.Min {
		return fmt.Errorf("throttle max %d not above min %d", c.Throttle.Max, c.Throttle.Min)
	}
	if c.IntervalMs <= 0 {
		return fmt.Errorf("interval_ms must be positive")
	}
	return nil
}
