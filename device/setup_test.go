package device

import "testing"

func TestSetupPacket_String(t *testing.T) {
	tests := []struct {
		setup SetupPacket
		want  string
	}{
		{
			SetupPacket{RequestType: RequestDirectionDeviceToHost, Request: RequestGetDescriptor, Value: 0x0100, Length: 18},
			"GET_DESCRIPTOR IN value=0x0100 index=0x0000 length=18",
		},
		{
			SetupPacket{RequestType: RequestDirectionDeviceToHost | RequestTypeVendor, Request: 1, Value: 200, Index: 3, Length: 8},
			"vendor 0x01 IN value=0x00C8 index=0x0003 length=8",
		},
		{
			SetupPacket{RequestType: RequestTypeVendor, Request: 2, Value: 512, Length: 512},
			"vendor 0x02 OUT value=0x0200 index=0x0000 length=512",
		},
		{
			SetupPacket{RequestType: RequestTypeClass | RequestRecipientInterface, Request: 0x0A},
			"class 0x0A OUT value=0x0000 index=0x0000 length=0",
		},
		{
			SetupPacket{Request: 0x0C},
			"standard 0x0C OUT value=0x0000 index=0x0000 length=0",
		},
	}
	for _, tt := range tests {
		if got := tt.setup.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestSetupPacket_Fields(t *testing.T) {
	s := SetupPacket{
		RequestType: RequestDirectionDeviceToHost | RequestTypeVendor | RequestRecipientDevice,
		Request:     1,
		Value:       0x0302,
		Index:       0x0081,
	}
	if !s.IsVendor() || s.IsStandard() || !s.IsDeviceToHost() || s.IsHostToDevice() {
		t.Errorf("type bits of 0x%02X misread", s.RequestType)
	}
	if !s.IsDeviceRecipient() {
		t.Error("IsDeviceRecipient() = false")
	}
	if s.DescriptorType() != 3 || s.DescriptorIndex() != 2 {
		t.Errorf("descriptor = %d/%d, want 3/2", s.DescriptorType(), s.DescriptorIndex())
	}
	if s.EndpointAddress() != 0x81 || s.InterfaceNumber() != 0x81 {
		t.Errorf("wIndex = 0x%02X", s.EndpointAddress())
	}

	var buf [SetupPacketSize]byte
	if n := s.MarshalTo(buf[:]); n != SetupPacketSize {
		t.Fatalf("MarshalTo() = %d", n)
	}
	want := [SetupPacketSize]byte{0xC0, 1, 0x02, 0x03, 0x81, 0, 0, 0}
	if buf != want {
		t.Errorf("MarshalTo() = % X, want % X", buf, want)
	}
	if n := s.MarshalTo(buf[:7]); n != 0 {
		t.Errorf("MarshalTo(short) = %d, want 0", n)
	}
}
