package device

import "fmt"

// templateMap is a TemplateLookup over a fixed set of templates.
type templateMap map[string]DeviceTemplate

func (m templateMap) TemplateFor(deviceType string) (DeviceTemplate, error) {
	t, ok := m[deviceType]
	if !ok {
		return DeviceTemplate{}, fmt.Errorf("%w: %q", ErrUnknownDeviceType, deviceType)
	}
	return t.DeepCopy(), nil
}

func testTemplates() templateMap {
	return templateMap{
		"DS18B20": {
			Type:       "DS18B20",
			Pins:       []PinSlot{{Name: "DAT", DefaultGPIO: 23}},
			Properties: []PropertyDefinition{{Name: "Interval", Default: "10000"}, {Name: "Resolution", Default: "11"}},
		},
		"TM1637_4": {
			Type: "TM1637_4",
			Pins: []PinSlot{{Name: "CLK", DefaultGPIO: 27}, {Name: "DIO", DefaultGPIO: 26}},
			Properties: []PropertyDefinition{
				{Name: "flipDisplay", Default: "false"},
				{Name: "serverDownText", Default: "----"},
			},
		},
		"OLED_SSD1306": {
			Type:       "OLED_SSD1306",
			Pins:       []PinSlot{{Name: "SCL", DefaultGPIO: 22, ReadOnly: true}, {Name: "SCA", DefaultGPIO: 21, ReadOnly: true}},
			Properties: []PropertyDefinition{{Name: "I2CAddress", Default: "0x3C"}},
			SharesPins: true,
		},
		"LCD160x": {
			Type:       "LCD160x",
			Pins:       []PinSlot{{Name: "SCL", DefaultGPIO: 22, ReadOnly: true}, {Name: "SCA", DefaultGPIO: 21, ReadOnly: true}},
			Properties: []PropertyDefinition{{Name: "Columns", Default: "20"}, {Name: "Rows", Default: "4", Optional: true}},
			SharesPins: true,
		},
		"BleHeartRateSensor": {
			Type:       "BleHeartRateSensor",
			Properties: []PropertyDefinition{{Name: "AdvertisingTimeoutSeconds", Default: "60"}},
		},
	}
}

func ds18b20(gpio int) ConnectedDevice {
	return ConnectedDevice{
		Enabled:    true,
		Type:       "DS18B20",
		Pins:       []Pin{{GPIO: gpio, Name: "DAT"}},
		Properties: []PropertyValue{{Name: "Interval", Value: "10000"}, {Name: "Resolution", Value: "11"}},
	}
}

func tm1637(clk, dio int) ConnectedDevice {
	return ConnectedDevice{
		Enabled:    true,
		Type:       "TM1637_4",
		Pins:       []Pin{{GPIO: clk, Name: "CLK"}, {GPIO: dio, Name: "DIO"}},
		Properties: []PropertyValue{{Name: "flipDisplay", Value: "false"}, {Name: "serverDownText", Value: "----"}},
	}
}
