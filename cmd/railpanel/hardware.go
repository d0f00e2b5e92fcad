package main

import (
	"io"

	"github.com/rs/zerolog/log"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/coreman2200/funtimes-railpanel/internal/bus"
	"github.com/coreman2200/funtimes-railpanel/internal/config"
	"github.com/coreman2200/funtimes-railpanel/internal/display"
	"github.com/coreman2200/funtimes-railpanel/internal/keypad"
	"github.com/coreman2200/funtimes-railpanel/internal/led"
	"github.com/coreman2200/funtimes-railpanel/internal/loconet"
	"github.com/coreman2200/funtimes-railpanel/internal/speed"
	"github.com/coreman2200/funtimes-railpanel/internal/storage"
)

// devices is the panel hardware as found at startup. Anything that cannot
// be opened is replaced by its simulated counterpart.
type devices struct {
	i2c       i2c.BusCloser
	expanders []led.Expander
	power     led.OutputLine
	matrix    *keypad.Matrix
	display   display.Display
	throttle  speed.Input
	simSpeed  *speed.Sim
	transport bus.Transport
	closers   []io.Closer
	driver    string
}

func openDevices(cfg *config.Config) *devices {
	d := &devices{driver: "sim"}
	d.openBus(cfg)
	d.openExpanders(cfg)
	d.openPower(cfg)
	d.openKeypad(cfg)
	d.openDisplay(cfg)
	d.openThrottle(cfg)
	d.openTransport(cfg)
	return d
}

// openBus opens the I2C bus unless running simulated.
func (d *devices) openBus(cfg *config.Config) {
	if cfg.SimOnly {
		return
	}
	if _, err := host.Init(); err != nil {
		log.Warn().Err(err).Msg("periph host init failed; falling back to SIM")
		return
	}
	b, err := i2creg.Open(cfg.I2CBus)
	if err != nil {
		log.Warn().Err(err).Str("bus", cfg.I2CBus).Msg("I2C bus unavailable; falling back to SIM")
		return
	}
	d.i2c = b
	d.closers = append(d.closers, b)
	d.driver = "i2c"
}

func (d *devices) openExpanders(cfg *config.Config) {
	if d.i2c == nil {
		bank := led.NewSimBank(len(cfg.Expanders.Addresses))
		if cfg.Expanders.Console {
			bank.WithConsole()
		}
		d.expanders = bank.Expanders()
		return
	}
	for _, a := range cfg.Expanders.Addresses {
		d.expanders = append(d.expanders, led.NewMCP23017(d.i2c, a))
	}
}

func (d *devices) openPower(cfg *config.Config) {
	d.power = &led.Line{}
	if d.i2c == nil || cfg.PowerPin == "" {
		return
	}
	if p := gpioreg.ByName(cfg.PowerPin); p != nil {
		d.power = p
		return
	}
	log.Warn().Str("pin", cfg.PowerPin).Msg("power indicator pin not found; using SIM line")
}

func (d *devices) openKeypad(cfg *config.Config) {
	if d.i2c == nil {
		return
	}
	var rows []keypad.RowLine
	var cols []keypad.ColLine
	for _, n := range cfg.Keypad.Rows {
		p := gpioreg.ByName(n)
		if p == nil {
			log.Warn().Str("pin", n).Msg("keypad row pin not found; keypad disabled")
			return
		}
		rows = append(rows, p)
	}
	for _, n := range cfg.Keypad.Cols {
		p := gpioreg.ByName(n)
		if p == nil {
			log.Warn().Str("pin", n).Msg("keypad column pin not found; keypad disabled")
			return
		}
		cols = append(cols, p)
	}
	m, err := keypad.NewMatrix(rows, cols, log.Logger)
	if err != nil {
		log.Warn().Err(err).Msg("keypad init failed; remote panel only")
		return
	}
	d.matrix = m
}

func (d *devices) openDisplay(cfg *config.Config) {
	if d.i2c != nil && cfg.Display.Enabled {
		lcd, err := display.NewLCD(d.i2c, cfg.Display.Addr)
		if err == nil {
			d.display = lcd
			return
		}
		log.Warn().Err(err).Msg("LCD init failed; logging display lines instead")
	}
	d.display = display.NewLog(log.Logger)
}

func (d *devices) openThrottle(cfg *config.Config) {
	if d.i2c != nil && cfg.Throttle.Enabled {
		in, err := speed.NewADS1115(d.i2c)
		if err == nil {
			d.throttle = in
			return
		}
		log.Warn().Err(err).Msg("throttle ADC init failed; throttle set from the remote panel")
	}
	d.simSpeed = &speed.Sim{}
	d.throttle = d.simSpeed
}

func (d *devices) openTransport(cfg *config.Config) {
	if !cfg.SimOnly && cfg.LocoNet.Port != "" {
		tr, err := loconet.Open(cfg.LocoNet.Port, cfg.LocoNet.Baud, log.Logger)
		if err == nil {
			d.transport = tr
			return
		}
		log.Warn().Err(err).Str("port", cfg.LocoNet.Port).Msg("LocoNet interface unavailable; logging commands instead")
	}
	d.transport = bus.NewSim(log.Logger)
}

// openRegion opens the persistence region named by the config. An EEPROM
// needs the I2C bus; without it the file region is used.
func (d *devices) openRegion(cfg *config.Config) (storage.Region, error) {
	if cfg.Storage.Driver == "eeprom" {
		if d.i2c != nil {
			return storage.NewEEPROM(d.i2c, cfg.Storage.EEPROMAddr, storage.EEPROMOpts{
				Size:       cfg.Storage.EEPROMSize,
				PageSize:   cfg.Storage.PageSize,
				WriteCycle: storage.DefaultEEPROMOpts.WriteCycle,
			})
		}
		log.Warn().Msg("EEPROM storage needs the I2C bus; using file storage")
	}
	r, err := storage.OpenFile(cfg.Storage.Path, cfg.Storage.Size)
	if err != nil {
		return nil, err
	}
	d.closers = append(d.closers, r)
	return r, nil
}

func (d *devices) Close() {
	if d.transport != nil {
		_ = d.transport.Close()
	}
	for i := len(d.closers) - 1; i >= 0; i-- {
		_ = d.closers[i].Close()
	}
}
