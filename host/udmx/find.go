package udmx

import (
	"github.com/ardnew/udmx/host"
	"github.com/ardnew/udmx/pkg"
	"github.com/ardnew/udmx/pkg/usbid"
)

// IsUDMX reports whether dev identifies as a uDMX of either variant.
func IsUDMX(dev *host.Device) bool {
	return usbid.IsUDMX(dev.VendorID(), dev.ProductID(), dev.Manufacturer(), dev.Product())
}

// FindAll returns every uDMX among devs.
func FindAll(devs []*host.Device) []*host.Device {
	var out []*host.Device
	for _, dev := range devs {
		if IsUDMX(dev) {
			out = append(out, dev)
		}
	}
	return out
}

// Find returns the first uDMX among devs. With a non-empty serial, only
// the unit with that serial number matches. It returns pkg.ErrNotFound
// when nothing matches.
func Find(devs []*host.Device, serial string) (*host.Device, error) {
	for _, dev := range FindAll(devs) {
		if serial != "" && dev.SerialNumber() != serial {
			pkg.LogInfo(pkg.ComponentClient, "found device for another serial number",
				"serial", dev.SerialNumber(),
				"want", serial)
			continue
		}
		pkg.LogDebug(pkg.ComponentClient, "found device",
			"product", dev.Product(),
			"serial", dev.SerialNumber(),
			"address", dev.Address())
		return dev, nil
	}
	if serial != "" {
		return nil, pkg.Wrapf(pkg.ErrNotFound, "%s/%s with serial %s", usbid.Manufacturer, usbid.Product, serial)
	}
	return nil, pkg.Wrapf(pkg.ErrNotFound, "%s/%s", usbid.Manufacturer, usbid.Product)
}
