package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli"

	"github.com/ardnew/udmx/host/udmx"
	"github.com/ardnew/udmx/pkg/usbid"
)

var listCmd = cli.Command{
	Name:    "list",
	Aliases: []string{"l"},
	Usage:   "Lists the devices on the bus and marks every uDMX (matching --serial)",
	Flags: []cli.Flag{
		cli.BoolFlag{
			Name:  "all, a",
			Usage: "Also list devices that are not a uDMX",
		},
	},
	Action: func(c *cli.Context) error {
		s, err := openSession(context.Background(), c)
		if err != nil {
			return cli.NewExitError(err, 1)
		}
		defer s.close()

		ids := usbid.New()
		if c.Bool("all") {
			ids.Load()
		}
		found := 0
		for _, dev := range s.devs {
			isUDMX := udmx.IsUDMX(dev)
			if serial := s.cfg.Host.Serial; isUDMX && serial != "" && dev.SerialNumber() != serial {
				isUDMX = false
			}
			if !isUDMX && !c.Bool("all") {
				continue
			}
			mark := " "
			if isUDMX {
				mark = "*"
				found++
			}
			fmt.Printf("%s %03d port %d  %04x:%04x  %s / %s  serial %q\n",
				mark, dev.Address(), dev.Port(),
				dev.VendorID(), dev.ProductID(),
				name(dev.Manufacturer(), ids.LookupVendor(dev.VendorID())),
				name(dev.Product(), ids.LookupProduct(dev.VendorID(), dev.ProductID())),
				dev.SerialNumber())
		}
		if found == 0 {
			return cli.NewExitError(fmt.Sprintf("Could not find USB device %s/%s", usbid.Manufacturer, usbid.Product), 1)
		}
		return nil
	},
}

// name prefers the string the device reports over the database entry.
func name(reported, known string) string {
	if reported != "" {
		return reported
	}
	if known != "" {
		return known
	}
	return "?"
}
