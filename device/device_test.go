package device

import (
	"bytes"
	"context"
	"testing"

	"github.com/ardnew/udmx/pkg"
)

func buildTestDevice(t *testing.T) *Device {
	t.Helper()
	dev, err := NewDeviceBuilder().
		WithVendorProduct(0x16C0, 0x05DC).
		WithDeviceVersion(0x0100).
		WithStrings("www.anyma.ch", "uDMX", "100209N0050").
		AddConfiguration(1).
		AddInterface(ClassVendor, 0, 0).
		Build(context.Background())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	return dev
}

func TestBuilderDefaults(t *testing.T) {
	dev := buildTestDevice(t)
	desc := dev.Descriptor

	if desc.USBVersion != USBVersion11 {
		t.Errorf("USBVersion = 0x%04X, want 0x%04X", desc.USBVersion, USBVersion11)
	}
	if desc.MaxPacketSize0 != 8 || dev.ControlEndpoint().MaxPacketSize != 8 {
		t.Errorf("MaxPacketSize0 = %d, ep0 = %d, want 8", desc.MaxPacketSize0, dev.ControlEndpoint().MaxPacketSize)
	}
	if desc.ManufacturerIndex != 1 || desc.ProductIndex != 2 || desc.SerialNumberIndex != 3 {
		t.Errorf("string indexes = %d/%d/%d", desc.ManufacturerIndex, desc.ProductIndex, desc.SerialNumberIndex)
	}
	if desc.NumConfigurations != 1 {
		t.Errorf("NumConfigurations = %d, want 1", desc.NumConfigurations)
	}
	if dev.State() != StateAttached {
		t.Errorf("State() = %v, want %v", dev.State(), StateAttached)
	}
}

func TestBuilderNoSerial(t *testing.T) {
	dev, err := NewDeviceBuilder().
		WithVendorProduct(0x16C0, 0x05E4).
		WithStrings("www.anyma.ch", "uDMX-midi", "").
		Build(context.Background())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if dev.Descriptor.SerialNumberIndex != 0 {
		t.Errorf("SerialNumberIndex = %d, want 0", dev.Descriptor.SerialNumberIndex)
	}
	if dev.GetString(3) != nil {
		t.Error("string 3 should be unset")
	}
}

func TestBuilderErrors(t *testing.T) {
	tests := []struct {
		name string
		b    *DeviceBuilder
	}{
		{"no device", NewDeviceBuilder().WithStrings("a", "b", "c")},
		{"interface without configuration", NewDeviceBuilder().WithVendorProduct(1, 2).AddInterface(0, 0, 0)},
		{"endpoint without interface", NewDeviceBuilder().WithVendorProduct(1, 2).AddConfiguration(1).AddEndpoint(0x81, EndpointTypeBulk, 8)},
		{"extra without endpoint", NewDeviceBuilder().WithVendorProduct(1, 2).AddConfiguration(1).AddInterface(0, 0, 0).WithEndpointExtra(1)},
		{"bad ep0 size", NewDeviceBuilder().WithVendorProduct(1, 2).WithMaxPacketSize0(12)},
		{"second configuration", NewDeviceBuilder().WithVendorProduct(1, 2).AddConfiguration(1).AddConfiguration(2)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.b.Build(context.Background()); err == nil {
				t.Error("Build() expected error")
			}
		})
	}
}

func TestBuildCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewDeviceBuilder().WithVendorProduct(1, 2).Build(ctx); err != context.Canceled {
		t.Errorf("Build() error = %v, want %v", err, context.Canceled)
	}
}

func TestDeviceStateMachine(t *testing.T) {
	dev := buildTestDevice(t)

	if err := dev.SetAddress(5); !pkg.Is(err, pkg.ErrInvalidState) {
		t.Fatalf("SetAddress() while attached: error = %v, want %v", err, pkg.ErrInvalidState)
	}

	var addressed uint8
	dev.SetOnSetAddress(func(a uint8) { addressed = a })
	dev.Reset()
	if dev.State() != StateDefault {
		t.Fatalf("State() = %v, want %v", dev.State(), StateDefault)
	}
	if err := dev.SetAddress(5); err != nil {
		t.Fatalf("SetAddress() error = %v", err)
	}
	if dev.State() != StateAddress || dev.Address() != 5 || addressed != 5 {
		t.Fatalf("after SetAddress: state=%v address=%d callback=%d", dev.State(), dev.Address(), addressed)
	}

	if err := dev.SetConfiguration(2); err == nil {
		t.Error("SetConfiguration(2) expected error")
	}
	if err := dev.SetConfiguration(1); err != nil {
		t.Fatalf("SetConfiguration(1) error = %v", err)
	}
	if !dev.IsConfigured() || dev.ActiveConfiguration().Value != 1 {
		t.Error("device should be configured with value 1")
	}
	if dev.GetInterface(0) == nil {
		t.Error("GetInterface(0) = nil")
	}

	if err := dev.SetConfiguration(0); err != nil {
		t.Fatalf("SetConfiguration(0) error = %v", err)
	}
	if dev.State() != StateAddress || dev.ActiveConfiguration() != nil {
		t.Error("SetConfiguration(0) should unconfigure")
	}

	dev.Reset()
	if dev.Address() != 0 || dev.State() != StateDefault {
		t.Error("Reset() should clear the address")
	}
}

func TestConfigurationExtraDescriptors(t *testing.T) {
	dev, err := NewDeviceBuilder().
		WithVendorProduct(1, 2).
		AddConfiguration(1).
		AddInterface(ClassAudio, AudioSubClassMIDIStreaming, 0).
		WithInterfaceExtra(7, 0x24, 1, 0, 1, 17, 0).
		AddAudioEndpoint(0x01, EndpointTypeInterrupt, 8, 10).
		WithEndpointExtra(5, 0x25, 1, 1, 1).
		Build(context.Background())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	config := dev.GetConfiguration(1)
	const want = ConfigurationDescriptorSize + InterfaceDescriptorSize + 7 + AudioEndpointDescriptorSize + 5
	if got := config.TotalLength(); got != want {
		t.Fatalf("TotalLength() = %d, want %d", got, want)
	}

	var buf [64]byte
	n := config.MarshalTo(buf[:])
	if n != want {
		t.Fatalf("MarshalTo() = %d, want %d", n, want)
	}
	wantTail := []byte{
		9, 4, 0, 0, 1, 1, 3, 0, 0,
		7, 0x24, 1, 0, 1, 17, 0,
		9, 5, 0x01, 3, 8, 0, 10, 0, 0,
		5, 0x25, 1, 1, 1,
	}
	if !bytes.Equal(buf[ConfigurationDescriptorSize:n], wantTail) {
		t.Errorf("configuration body = % X\nwant % X", buf[ConfigurationDescriptorSize:n], wantTail)
	}
	if n := config.MarshalTo(buf[:want-1]); n != 0 {
		t.Errorf("MarshalTo(short) = %d, want 0", n)
	}
}
