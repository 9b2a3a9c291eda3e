package hal

import (
	"testing"
)

func TestSpeed_String(t *testing.T) {
	tests := []struct {
		speed    Speed
		expected string
	}{
		{SpeedUnknown, "Unknown"},
		{SpeedLow, "Low Speed"},
		{SpeedFull, "Full Speed"},
		{Speed(255), "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.speed.String(); got != tt.expected {
				t.Errorf("Speed(%d).String() = %q, want %q", tt.speed, got, tt.expected)
			}
		})
	}
}

func TestParseSetupPacket(t *testing.T) {
	data := []byte{
		0xC0,       // vendor, device, IN
		0x01,       // SetSingleChannel
		0xFF, 0x00, // value
		0x01, 0x02, // channel 513
		0x08, 0x00, // wLength
	}

	var setup SetupPacket
	if !ParseSetupPacket(data, &setup) {
		t.Fatal("ParseSetupPacket returned false")
	}
	want := SetupPacket{RequestType: 0xC0, Request: 0x01, Value: 0x00FF, Index: 0x0201, Length: 8}
	if setup != want {
		t.Errorf("ParseSetupPacket() = %+v, want %+v", setup, want)
	}
	if !setup.IsIn() {
		t.Error("IsIn() = false for 0xC0")
	}

	if ParseSetupPacket(data[:7], &setup) {
		t.Error("ParseSetupPacket accepted 7 bytes")
	}
}

func TestSetupPacket_MarshalTo(t *testing.T) {
	setup := SetupPacket{RequestType: 0x40, Request: 0x02, Value: 512, Index: 0, Length: 512}
	buf := make([]byte, SetupPacketSize)
	if n := setup.MarshalTo(buf); n != SetupPacketSize {
		t.Fatalf("MarshalTo() = %d, want %d", n, SetupPacketSize)
	}
	want := []byte{0x40, 0x02, 0x00, 0x02, 0x00, 0x00, 0x00, 0x02}
	for i := range want {
		if buf[i] != want[i] {
			t.Errorf("buf[%d] = 0x%02X, want 0x%02X", i, buf[i], want[i])
		}
	}
	if setup.IsIn() {
		t.Error("IsIn() = true for 0x40")
	}

	if n := setup.MarshalTo(make([]byte, 4)); n != 0 {
		t.Errorf("MarshalTo to small buffer returned %d, want 0", n)
	}
}

func BenchmarkSetupPacket_MarshalTo(b *testing.B) {
	setup := SetupPacket{
		RequestType: 0xC0,
		Request:     0x01,
		Value:       0x0080,
		Index:       0x0001,
		Length:      0x0008,
	}
	buf := make([]byte, SetupPacketSize)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		setup.MarshalTo(buf)
	}
}
