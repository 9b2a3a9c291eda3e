package main

import (
	"context"
	"strconv"

	"github.com/urfave/cli"

	"github.com/ardnew/udmx/host/udmx"
	"github.com/ardnew/udmx/pkg"
)

var midiCmd = cli.Command{
	Name:  "midi",
	Usage: "Sends MIDI events to a uDMX-midi",
	Subcommands: []cli.Command{
		{
			Name:      "note",
			Usage:     "Note on: sets channel <key> to 2*<velocity>",
			ArgsUsage: "<key> <velocity>",
			Action: midiAction(2, func(ctx context.Context, m *udmx.MIDISender, a []uint8) error {
				return m.NoteOn(ctx, a[0], a[1])
			}),
		},
		{
			Name:      "off",
			Usage:     "Note off: sets channel <key> to zero",
			ArgsUsage: "<key>",
			Action: midiAction(1, func(ctx context.Context, m *udmx.MIDISender, a []uint8) error {
				return m.NoteOff(ctx, a[0])
			}),
		},
		{
			Name:      "cc",
			Usage:     "Control change: sets channel <controller> to 2*<value>",
			ArgsUsage: "<controller> <value>",
			Action: midiAction(2, func(ctx context.Context, m *udmx.MIDISender, a []uint8) error {
				return m.ControlChange(ctx, a[0], a[1])
			}),
		},
	},
}

// midiAction parses n 7-bit arguments and runs send on the bound device.
func midiAction(n int, send func(context.Context, *udmx.MIDISender, []uint8) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		if c.NArg() != n {
			cli.ShowSubcommandHelp(c)
			return cli.NewExitError("", 1)
		}
		args := make([]uint8, n)
		for i, a := range c.Args() {
			v, err := strconv.ParseUint(a, 10, 7)
			if err != nil {
				return cli.NewExitError(pkg.Wrapf(pkg.ErrInvalidParameter, "%q is not a 7-bit number", a), 1)
			}
			args[i] = uint8(v)
		}

		ctx := context.Background()
		s, err := openSession(ctx, c)
		if err != nil {
			return cli.NewExitError(err, 1)
		}
		defer s.close()

		client, err := s.client(c)
		if err != nil {
			return err
		}
		m, err := udmx.NewMIDISender(client.Device())
		if err != nil {
			return cli.NewExitError(err, 1)
		}
		ctx, cancel := context.WithTimeout(ctx, c.GlobalDuration("timeout"))
		defer cancel()
		if err := send(ctx, m, args); err != nil {
			return cli.NewExitError(err, 1)
		}
		return nil
	}
}
