// Package usbid holds the USB identity of uDMX interfaces and a small
// vendor/product name database.
//
// All uDMX units share the V-USB VID/PID pair 0x16C0/0x05DC (0x05E4 for the
// MIDI firmware), so host software must also compare the manufacturer and
// product strings before talking to a device:
//
//	if usbid.IsUDMX(vid, pid, dev.Manufacturer(), dev.Product()) {
//	    // ours
//	}
//
// The database knows the uDMX identities out of the box and merges a
// system usb.ids file when [Database.Load] finds one:
//
//   - /usr/share/hwdata/usb.ids
//   - /var/lib/usbutils/usb.ids
//   - /usr/share/misc/usb.ids
package usbid
