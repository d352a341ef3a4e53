package wake

import (
	"bytes"
	"errors"
	"testing"
)

func TestParseMAC(t *testing.T) {
	t.Parallel()
	mac, err := ParseMAC("aa:bb:cc:dd:ee:ff")
	if err != nil {
		t.Fatalf("ParseMAC: %v", err)
	}
	if mac != [6]byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF} {
		t.Errorf("mac = %v", mac)
	}

	// Case-insensitive.
	upper, err := ParseMAC("AA:BB:CC:DD:EE:FF")
	if err != nil || upper != mac {
		t.Errorf("uppercase parse = %v, %v", upper, err)
	}
}

func TestParseMACInvalid(t *testing.T) {
	t.Parallel()
	for _, s := range []string{
		"",
		"aa:bb:cc:dd:ee",
		"aa:bb:cc:dd:ee:ff:00",
		"aa-bb-cc-dd-ee-ff",
		"aabb.ccdd.eeff",
		"gg:bb:cc:dd:ee:ff",
		"aaa:bb:cc:dd:ee:f",
	} {
		if _, err := ParseMAC(s); !errors.Is(err, ErrInvalidMAC) {
			t.Errorf("ParseMAC(%q) err = %v, want ErrInvalidMAC", s, err)
		}
	}
}

func TestFormatParseRoundTrip(t *testing.T) {
	t.Parallel()
	macs := [][6]byte{
		{0, 0, 0, 0, 0, 1},
		{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF},
		{0x01, 0x23, 0x45, 0x67, 0x89, 0xAB},
	}
	for _, mac := range macs {
		parsed, err := ParseMAC(FormatMAC(mac))
		if err != nil {
			t.Fatalf("round trip %v: %v", mac, err)
		}
		if parsed != mac {
			t.Errorf("round trip %v = %v", mac, parsed)
		}
	}
}

func TestBuildMagicPacket(t *testing.T) {
	t.Parallel()
	mac := [6]byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}
	packet := BuildMagicPacket(mac)

	if len(packet) != MagicPacketSize {
		t.Fatalf("packet length = %d, want %d", len(packet), MagicPacketSize)
	}
	if !bytes.Equal(packet[:6], []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}) {
		t.Errorf("preamble = % X", packet[:6])
	}
	for i := 0; i < 16; i++ {
		chunk := packet[6+i*6 : 6+(i+1)*6]
		if !bytes.Equal(chunk, mac[:]) {
			t.Errorf("repetition %d = % X", i, chunk)
		}
	}
}

func TestExtractMAC(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		text string
		want string
	}{
		{
			name: "arp output",
			text: "Address  HWtype  HWaddress           Flags Mask  Iface\n10.0.0.7 ether   aa:bb:cc:dd:ee:ff   C           eth0\n",
			want: "aa:bb:cc:dd:ee:ff",
		},
		{
			name: "skips zero placeholder",
			text: "10.0.0.7 ether 00:00:00:00:00:00 C eth0\n10.0.0.8 ether 11:22:33:44:55:66 C eth0",
			want: "11:22:33:44:55:66",
		},
		{
			name: "no mac",
			text: "10.0.0.7 (incomplete) eth0",
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := extractMAC(tt.text); got != tt.want {
				t.Errorf("extractMAC = %q, want %q", got, tt.want)
			}
		})
	}
}
