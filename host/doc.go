// Package host implements the USB host side used to reach uDMX interfaces.
//
// It interacts with the bus through the [hal.HostHAL] interface defined in
// [github.com/ardnew/udmx/host/hal].
//
// # Enumeration
//
// Every port that connects is enumerated in turn: port reset, the first
// 8 bytes of the device descriptor, SET_ADDRESS, the full device and
// configuration descriptors, the manufacturer, product and serial strings,
// and SET_CONFIGURATION. Strings are decoded to Latin-1; other characters
// read as '?'.
//
// # Example
//
//	h := host.New(fifo.NewHostHAL("/tmp/udmx-bus"))
//	if err := h.Start(ctx); err != nil {
//	    return err
//	}
//	defer h.Stop()
//
//	devs, err := h.Settle(ctx, 200*time.Millisecond)
//	for _, dev := range devs {
//	    fmt.Println(dev.Product(), dev.SerialNumber())
//	}
package host
