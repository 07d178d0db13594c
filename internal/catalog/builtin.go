package catalog

import "github.com/iotzoo/iotzoo-core/internal/device"

func pin(name string, gpio int) device.PinSlot {
	return device.PinSlot{Name: name, DefaultGPIO: gpio}
}

func prop(name, def string) device.PropertyDefinition {
	return device.PropertyDefinition{Name: name, Default: def}
}

// i2cPins are the fixed bus pins of the ESP32 I2C displays.
func i2cPins() []device.PinSlot {
	return []device.PinSlot{
		{Name: "SCL", DefaultGPIO: 22, ReadOnly: true},
		{Name: "SCA", DefaultGPIO: 21, ReadOnly: true},
	}
}

// Builtin returns the templates of every device family the firmware drives,
// with the ESP32 default wiring. Pin order matches the firmware drivers.
func Builtin() []device.DeviceTemplate {
	return []device.DeviceTemplate{
		{
			Type:        "DS18B20",
			Description: "1-Wire temperature sensor",
			Pins:        []device.PinSlot{pin("DAT", 23)},
			Properties:  []device.PropertyDefinition{prop("Interval", "10000"), prop("Resolution", "11")},
		},
		{
			Type:        "TM1637_4",
			Description: "4 digit seven segment display",
			Pins:        []device.PinSlot{pin("CLK", 27), pin("DIO", 26)},
			Properties:  []device.PropertyDefinition{prop("flipDisplay", "false"), prop("serverDownText", "----")},
		},
		{
			Type:        "TM1637_6",
			Description: "6 digit seven segment display",
			Pins:        []device.PinSlot{pin("CLK", 14), pin("DIO", 27)},
			Properties:  []device.PropertyDefinition{prop("flipDisplay", "false"), prop("serverDownText", "-------")},
		},
		{
			Type:        "TM1638",
			Description: "8 digit display with keys and LEDs",
			Pins:        []device.PinSlot{pin("STB", 14), pin("CLK", 27), pin("DIO", 26)},
			Properties:  []device.PropertyDefinition{prop("serverDownText", "---------")},
		},
		{
			Type:        "HT1621",
			Description: "segment LCD driver",
			Pins:        []device.PinSlot{pin("CS_PIN", 27), pin("WS_PIN", 26), pin("DATA_PIN", 25), pin("BACKLIGHT_PIN", 33)},
		},
		{
			Type:        "MAX7219",
			Description: "LED matrix driver",
			Pins:        []device.PinSlot{pin("DATA_PIN", 27), pin("CLK_PIN", 25), pin("CS_PIN", 26)},
			Properties:  []device.PropertyDefinition{prop("numberOfDevices", "1")},
		},
		{
			Type:        "LEDS Traffic Light",
			Description: "red, yellow and green LED module",
			Pins:        []device.PinSlot{pin("R", 13), pin("Y", 12), pin("G", 14)},
		},
		{
			Type:        "Remote GPIO",
			Description: "GPIO switched over MQTT",
			Pins:        []device.PinSlot{pin("GPIO", 36)},
		},
		{
			Type:        "NEO",
			Description: "addressable LED strip",
			Pins:        []device.PinSlot{pin("DIN", 22)},
			Properties:  []device.PropertyDefinition{prop("numberOfLeds", "256")},
		},
		{
			Type:        "PixelMatrix",
			Description: "addressable LED matrix",
			Pins:        []device.PinSlot{pin("DIN", 22)},
			Properties: []device.PropertyDefinition{
				prop("numberOfLedsPerColumn", "8"),
				prop("numberOfLedsPerRow", "8"),
				prop("extensions", "1"),
			},
		},
		{
			Type:        "HW-040",
			Description: "rotary encoder",
			Pins:        []device.PinSlot{pin("CLK", 32), pin("DT", 21), pin("SW", 33)},
			Properties: []device.PropertyDefinition{
				prop("Acceleration", "250"),
				prop("BoundaryMinValue", "0"),
				prop("BoundaryMaxValue", "255"),
				prop("CircleValue", "false"),
				prop("EncoderSteps", "2"),
			},
		},
		{
			Type:        "Keypad 4x4",
			Description: "matrix keypad",
			Pins: []device.PinSlot{
				pin("C4", 13), pin("C3", 12), pin("C2", 14), pin("C1", 27),
				pin("R1", 26), pin("R2", 25), pin("R3", 33), pin("R4", 32),
			},
		},
		{
			Type:        "28BY48Stepper",
			Description: "stepper motor with ULN2003 driver",
			Pins:        []device.PinSlot{pin("IN1", 13), pin("IN2", 12), pin("IN3", 14), pin("IN4", 27)},
		},
		{
			Type:        "HC-SR501",
			Description: "PIR motion sensor",
			Pins:        []device.PinSlot{pin("IN", 21)},
		},
		{
			Type:        "Rd-03D",
			Description: "24 GHz radar",
			Pins:        []device.PinSlot{pin("RX", 16), pin("TX", 17)},
			Properties: []device.PropertyDefinition{
				prop("MultiTargetMode", "true"),
				prop("TimeoutMillis", "25000"),
				prop("MaxDistanceMillimeters", "5500"),
			},
		},
		{
			Type:        "Button",
			Description: "push button",
			Pins:        []device.PinSlot{pin("BTN_PIN", 23)},
		},
		{
			Type:        "UV",
			Description: "analog UV sensor",
			Pins:        []device.PinSlot{pin("ADC_PIN", 34)},
		},
		{
			Type:        "Reed-Contact",
			Description: "magnetic reed contact",
			Pins:        []device.PinSlot{pin("DATA_PIN", 19)},
			Properties:  []device.PropertyDefinition{prop("IntervalMs", "1000")},
		},
		{
			Type:        "HW507",
			Description: "DHT temperature and humidity sensor",
			Pins:        []device.PinSlot{pin("DATA_PIN", 23)},
			Properties:  []device.PropertyDefinition{prop("DeviceType", "DHT11"), prop("IntervalMs", "10000")},
		},
		{
			Type:        "INMP441",
			Description: "I2S microphone",
			Pins:        []device.PinSlot{pin("SD", 22), pin("WS", 35), pin("SCK", 15)},
			Properties: []device.PropertyDefinition{
				prop("AllowStreaming", "false"),
				prop("AllowSoundLevel", "true"),
				prop("MinRms", "400"),
			},
		},
		{
			Type:        "Buzzer",
			Description: "buzzer with optional LED",
			Pins:        []device.PinSlot{pin("BUZZER_PIN", 16), pin("LED_PIN", device.UnusedGPIO)},
		},
		{
			Type:        "GPS",
			Description: "serial GPS receiver",
			Pins:        []device.PinSlot{pin("RX", 22), pin("TX", 23)},
		},
		{
			Type:        "Switch",
			Description: "toggle switch",
			Pins:        []device.PinSlot{pin("SWITCH_PIN", 24)},
		},
		{
			Type:        "OLED_SSD1306",
			Description: "128x64 I2C OLED display",
			Pins:        i2cPins(),
			Properties:  []device.PropertyDefinition{prop("I2CAddress", "0x3C")},
			SharesPins:  true,
		},
		{
			Type:        "LCD160x",
			Description: "character LCD with I2C backpack",
			Pins:        i2cPins(),
			Properties:  []device.PropertyDefinition{prop("Columns", "20"), prop("Rows", "4"), prop("I2CAddress", "0x27")},
			SharesPins:  true,
		},
		{
			Type:        "BleHeartRateSensor",
			Description: "Bluetooth LE heart rate strap",
			Properties:  []device.PropertyDefinition{prop("AdvertisingTimeoutSeconds", "60")},
		},
	}
}
