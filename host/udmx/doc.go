// Package udmx talks to uDMX interfaces from the host.
//
// [Find] picks a uDMX among the enumerated devices of a [host.Host]. A
// [Client] issues the vendor requests: SetSingleChannel, SetChannelRange
// and StartBootloader. [Limiter] adds the speed limit of the Max/MSP and
// PureData externals on top of a Client, and [MIDISender] drives the MIDI
// variant through its streaming endpoint.
//
//	devs, _ := h.Settle(ctx, 200*time.Millisecond)
//	dev, err := udmx.Find(devs, "")
//	if err != nil {
//	    return err
//	}
//	c := udmx.NewClient(dev)
//	_, err = c.SetChannelRange(ctx, 0, []byte{255, 128, 0})
package udmx
