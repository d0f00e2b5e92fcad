package main

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/coreman2200/funtimes-railpanel/internal/element"
	"github.com/coreman2200/funtimes-railpanel/internal/storage"
)

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Print the stored panel state",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(table *element.Table, store *storage.Adapter) error {
			err := store.Restore(table)
			if errors.Is(err, storage.ErrNoSnapshot) {
				fmt.Fprintln(cmd.OutOrStdout(), "no stored state")
				return nil
			}
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			table.Each(func(i int, e element.Element) {
				fmt.Fprintf(out, "%3d  %s\n", i, element.Describe(e))
			})
			return nil
		})
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Erase the stored panel state",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(_ *element.Table, store *storage.Adapter) error {
			if err := store.Erase(); err != nil {
				return err
			}
			log.Info().Msg("stored state erased")
			return nil
		})
	},
}

// withStore opens only the persistence region, without touching the rest
// of the panel hardware.
func withStore(f func(*element.Table, *storage.Adapter) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	d := &devices{driver: "sim"}
	defer d.Close()
	if cfg.Storage.Driver == "eeprom" {
		d.openBus(cfg)
	}
	region, err := d.openRegion(cfg)
	if err != nil {
		return err
	}
	table := element.MustDefault()
	return f(table, storage.NewAdapter(region, table.Len()))
}
