package device

import (
	"errors"
	"testing"
)

func TestInferPropertyType(t *testing.T) {
	tests := []struct {
		value string
		want  PropertyType
	}{
		{"true", PropertyBool},
		{"false", PropertyBool},
		{"10000", PropertyInt},
		{"-5", PropertyInt},
		{"0x3C", PropertyString},
		{"----", PropertyString},
		{"", PropertyString},
		{"True", PropertyString},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			if got := InferPropertyType(tt.value); got != tt.want {
				t.Errorf("InferPropertyType(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestConnectedDevice_SetProperty(t *testing.T) {
	d := ds18b20(23)

	d.SetProperty("Interval", "5000")
	if v, _ := d.Property("Interval"); v != "5000" {
		t.Errorf("Interval = %q, want 5000", v)
	}
	if len(d.Properties) != 2 {
		t.Fatalf("len(Properties) = %d, want 2", len(d.Properties))
	}

	d.SetProperty("Label", "garage")
	if len(d.Properties) != 3 || d.Properties[2].Name != "Label" {
		t.Errorf("Properties = %+v, want Label appended last", d.Properties)
	}
}

func TestConnectedDevice_SetPin(t *testing.T) {
	d := tm1637(27, 26)

	if err := d.SetPin("DIO", 25); err != nil {
		t.Fatalf("SetPin() = %v", err)
	}
	if d.Pins[1].GPIO != 25 {
		t.Errorf("DIO gpio = %d, want 25", d.Pins[1].GPIO)
	}
	if err := d.SetPin("STB", 4); !errors.Is(err, ErrPinNotFound) {
		t.Errorf("SetPin(STB) = %v, want ErrPinNotFound", err)
	}

	oled := ConnectedDevice{Type: "OLED_SSD1306", Pins: []Pin{{GPIO: 22, Name: "SCL", ReadOnly: true}}}
	if err := oled.SetPin("SCL", 5); !errors.Is(err, ErrPinReadOnly) {
		t.Errorf("SetPin(read-only) = %v, want ErrPinReadOnly", err)
	}
	if oled.Pins[0].GPIO != 22 {
		t.Errorf("read-only pin changed to %d", oled.Pins[0].GPIO)
	}
}

func TestKnownMicrocontroller_DeepCopy(t *testing.T) {
	orig := KnownMicrocontroller{
		MAC:     "AA:BB:CC:DD:EE:FF",
		Devices: []ConnectedDevice{ds18b20(23)},
	}

	cpy := orig.DeepCopy()
	cpy.Devices[0].Pins[0].GPIO = 4
	cpy.Devices[0].SetProperty("Interval", "1")
	cpy.Devices = append(cpy.Devices, tm1637(27, 26))

	if orig.Devices[0].Pins[0].GPIO != 23 {
		t.Error("copy shares pin slice with original")
	}
	if v, _ := orig.Devices[0].Property("Interval"); v != "10000" {
		t.Error("copy shares property slice with original")
	}
	if len(orig.Devices) != 1 {
		t.Error("copy shares device slice with original")
	}

	if CopyDevices(nil) != nil {
		t.Error("CopyDevices(nil) should stay nil")
	}
}

func TestNormalizeMAC(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "aa:bb:cc:dd:ee:ff", want: "AA:BB:CC:DD:EE:FF"},
		{in: " AA-BB-CC-DD-EE-01 ", want: "AA:BB:CC:DD:EE:01"},
		{in: "aabb.ccdd.eeff", want: "AA:BB:CC:DD:EE:FF"},
		{in: "", wantErr: true},
		{in: "aa:bb:cc", wantErr: true},
		{in: "00:00:5e:00:53:01:02:03", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeMAC(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidMicrocontroller) {
					t.Errorf("NormalizeMAC(%q) error = %v, want ErrInvalidMicrocontroller", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NormalizeMAC(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("NormalizeMAC(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
