// Command udmx sets DMX channels on a uDMX interface.
//
//	udmx <channel> <value> [<value> ...]
//	udmx -bootloader
//	udmx list
//	udmx midi note <key> <velocity>
//
// A single value is sent with SetSingleChannel, several values with one
// SetChannelRange starting at channel.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/ardnew/udmx/config"
	"github.com/ardnew/udmx/host"
	"github.com/ardnew/udmx/host/hal/fifo"
	"github.com/ardnew/udmx/host/udmx"
	"github.com/ardnew/udmx/pkg"
	"github.com/ardnew/udmx/pkg/usbid"
)

var version string

func init() {
	if version == "" {
		version = "unknown"
	}
}

var globalFlags = []cli.Flag{
	cli.StringFlag{
		Name:  "config, c",
		Usage: "TOML configuration file",
	},
	cli.StringFlag{
		Name:  "bus, b",
		Usage: "Directory of the named-pipe bus (default from config)",
	},
	cli.StringFlag{
		Name:  "serial, s",
		Usage: "Only talk to the uDMX with this serial number",
	},
	cli.DurationFlag{
		Name:  "settle",
		Usage: "How long the bus must be quiet before devices are listed",
		Value: 300 * time.Millisecond,
	},
	cli.DurationFlag{
		Name:  "timeout, t",
		Usage: "Timeout for each request",
		Value: udmx.DefaultTimeout,
	},
	cli.BoolFlag{
		Name:  "bootloader",
		Usage: "Start the firmware updater",
	},
	cli.BoolFlag{
		Name:  "debug, d",
		Usage: "Show debug messages",
	},
	cli.BoolFlag{
		Name:  "json",
		Usage: "Log in JSON format",
	},
}

func main() {
	app := cli.NewApp()
	app.Name = "udmx"
	app.HelpName = "udmx"
	app.Version = version
	app.Usage = "Sets DMX channels on a uDMX interface"
	app.ArgsUsage = "<channel> <value> [<value> ...]"
	app.Flags = globalFlags
	app.Before = setup

	app.Commands = []cli.Command{
		listCmd,
		midiCmd,
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup applies the logger configuration before any command runs.
func setup(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	if err := cfg.Logger.Apply(); err != nil {
		return cli.NewExitError(err, 1)
	}
	if ctx.GlobalBool("json") {
		pkg.SetLogFormat(pkg.LogFormatJSON)
	}
	if ctx.GlobalBool("debug") {
		pkg.SetLogLevel(logrus.DebugLevel)
	}
	return nil
}

func loadConfig(ctx *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(ctx.GlobalString("config"))
	if err != nil {
		return nil, err
	}
	if bus := ctx.GlobalString("bus"); bus != "" {
		cfg.Device.BusDir = bus
	}
	if serial := ctx.GlobalString("serial"); serial != "" {
		cfg.Host.Serial = serial
	}
	return cfg, nil
}

// session is a running host on the bus.
type session struct {
	cfg  *config.Config
	host *host.Host
	devs []*host.Device
}

func openSession(ctx context.Context, c *cli.Context) (*session, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	h := host.New(fifo.NewHostHAL(cfg.Device.BusDir))
	if err := h.Start(ctx); err != nil {
		return nil, pkg.Wrapf(err, "bus %s", cfg.Device.BusDir)
	}
	devs, err := h.Settle(ctx, c.GlobalDuration("settle"))
	if err != nil {
		h.Stop()
		return nil, err
	}
	return &session{cfg: cfg, host: h, devs: devs}, nil
}

func (s *session) close() {
	if err := s.host.Stop(); err != nil {
		pkg.LogWarn(pkg.ComponentCLI, "host stop failed", "error", err)
	}
}

// client returns a client for the configured uDMX, or an exit error with
// the classic message when there is none.
func (s *session) client(c *cli.Context) (*udmx.Client, error) {
	dev, err := udmx.Find(s.devs, s.cfg.Host.Serial)
	if err != nil {
		pkg.LogDebug(pkg.ComponentCLI, "no device", "error", err)
		return nil, cli.NewExitError(fmt.Sprintf("Could not find USB device %s/%s", usbid.Manufacturer, usbid.Product), 1)
	}
	client := udmx.NewClient(dev)
	client.Timeout = c.GlobalDuration("timeout")
	return client, nil
}

func run(c *cli.Context) error {
	if !c.Bool("bootloader") && c.NArg() < 2 {
		cli.ShowAppHelp(c)
		return cli.NewExitError("", 1)
	}

	var (
		channel uint16
		values  []uint16
	)
	if !c.Bool("bootloader") {
		var err error
		if channel, values, err = parseArgs(c.Args()); err != nil {
			return cli.NewExitError(err, 1)
		}
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
	defer client.Close()

	if c.Bool("bootloader") {
		if _, err := client.StartBootloader(ctx); err != nil {
			return cli.NewExitError(fmt.Sprintf("USB error: %v", err), 1)
		}
		fmt.Println("Starting bootloader...")
		fmt.Println("Please use the ./uboot utility to update firmware.")
		return nil
	}

	if len(values) == 1 {
		r, err := client.SetSingleChannel(ctx, channel, values[0])
		fmt.Fprintf(os.Stderr, "bytes returned: %d\n", r.Bytes)
		if r.Bytes > 0 {
			fmt.Printf("returned: %d\n", r.Code)
		}
		if err != nil {
			return cli.NewExitError(fmt.Sprintf("USB error: %v", err), 1)
		}
		return nil
	}

	buf := make([]byte, len(values))
	for i, v := range values {
		buf[i] = byte(v)
	}
	n, err := client.SetChannelRange(ctx, channel, buf)
	fmt.Fprintf(os.Stderr, "bytes returned: %d\n", n)
	if err != nil {
		return cli.NewExitError(fmt.Sprintf("USB error: %v", err), 1)
	}
	if n > 0 {
		fmt.Printf("returned: %d\n", buf[0])
	}
	return nil
}

// parseArgs reads <channel> <value>... A single value is passed on as is
// so the device can reject it; range values must fit in a byte.
func parseArgs(args cli.Args) (uint16, []uint16, error) {
	if len(args) < 2 {
		return 0, nil, pkg.Wrap(pkg.ErrInvalidParameter, "need a channel and at least one value")
	}
	channel, err := strconv.ParseUint(args[0], 10, 16)
	if err != nil {
		return 0, nil, pkg.Wrapf(pkg.ErrInvalidParameter, "channel %q", args[0])
	}
	values := make([]uint16, 0, len(args)-1)
	for _, a := range args[1:] {
		v, err := strconv.ParseUint(a, 10, 16)
		if err != nil {
			return 0, nil, pkg.Wrapf(pkg.ErrInvalidParameter, "value %q", a)
		}
		values = append(values, uint16(v))
	}
	if len(values) > 1 {
		for i, v := range values {
			if v > 0xFF {
				return 0, nil, pkg.Wrapf(pkg.ErrBadValue, "value %d at channel %d", v, int(channel)+i)
			}
		}
	}
	return uint16(channel), values, nil
}
