package device

import (
	"errors"
	"fmt"
	"net/netip"
	"strconv"
	"strings"
)

// ValidationResult collects every rule violation of one device.
// Errors are in rule order; the first one is the user-facing message.
type ValidationResult struct {
	Errors   []error
	Warnings []string
}

// OK reports whether no rule was violated. Warnings do not count.
func (r ValidationResult) OK() bool {
	return len(r.Errors) == 0
}

// Err returns the first violation, or nil.
func (r ValidationResult) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	return r.Errors[0]
}

// All joins every violation into one error, or returns nil.
func (r ValidationResult) All() error {
	return errors.Join(r.Errors...)
}

func (r *ValidationResult) fail(rule error, format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Errorf("%w: %w: %s", ErrValidation, rule, fmt.Sprintf(format, args...)))
}

func (r *ValidationResult) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Validate checks d against its template and its siblings on the same
// microcontroller. It is pure; siblings must not include d itself.
//
// Rules, in order:
//  1. the type resolves to a template
//  2. pin names are unique and well formed
//  3. no GPIO is shared with an enabled sibling, unless both templates share pins
//  4. every required template property is present
//  5. int and bool properties parse as their type
func Validate(d ConnectedDevice, siblings []ConnectedDevice, templates TemplateLookup) ValidationResult {
	var res ValidationResult

	tmpl, err := templates.TemplateFor(d.Type)
	known := err == nil
	if !known {
		res.fail(ErrUnknownDeviceType, "type %q", d.Type)
	}

	checkPins(&res, d)
	checkGPIOConflicts(&res, d, tmpl.SharesPins && known, siblings, templates)

	if known {
		checkRequiredProperties(&res, d, tmpl)
		checkPropertyTypes(&res, d, tmpl)
	}

	return res
}

func checkPins(res *ValidationResult, d ConnectedDevice) {
	seen := make(map[string]bool, len(d.Pins))
	for i, p := range d.Pins {
		switch {
		case strings.TrimSpace(p.Name) == "":
			res.fail(ErrInvalidPin, "pin %d has no name", i)
			continue
		case p.GPIO < UnusedGPIO:
			res.fail(ErrInvalidPin, "pin %s has gpio %d", p.Name, p.GPIO)
		}
		if seen[p.Name] {
			res.fail(ErrDuplicatePinName, "pin %s", p.Name)
		}
		seen[p.Name] = true
	}
}

func checkGPIOConflicts(res *ValidationResult, d ConnectedDevice, shares bool, siblings []ConnectedDevice, templates TemplateLookup) {
	if !d.Enabled {
		return
	}

	for _, s := range siblings {
		if !s.Enabled {
			continue
		}
		if shares {
			if st, err := templates.TemplateFor(s.Type); err == nil && st.SharesPins {
				continue
			}
		}
		for _, p := range d.Pins {
			if p.GPIO == UnusedGPIO {
				continue
			}
			for _, sp := range s.Pins {
				if sp.GPIO != p.GPIO {
					continue
				}
				// GPIO 0 is multiplexed on some boards.
				if p.GPIO == 0 {
					res.warn("gpio 0 is bound by %s pin %s and %s pin %s", d.Type, p.Name, s.Type, sp.Name)
					continue
				}
				res.fail(ErrGPIOConflict, "gpio %d of pin %s is also bound by %s pin %s", p.GPIO, p.Name, s.Type, sp.Name)
			}
		}
	}
}

func checkRequiredProperties(res *ValidationResult, d ConnectedDevice, tmpl DeviceTemplate) {
	for _, def := range tmpl.Properties {
		if def.Optional {
			continue
		}
		if _, ok := d.Property(def.Name); !ok {
			res.fail(ErrMissingProperty, "property %s", def.Name)
		}
	}
}

func checkPropertyTypes(res *ValidationResult, d ConnectedDevice, tmpl DeviceTemplate) {
	for _, p := range d.Properties {
		def, ok := tmpl.Property(p.Name)
		if !ok {
			continue
		}
		if err := CheckPropertyValue(def, p.Value); err != nil {
			res.Errors = append(res.Errors, err)
		}
	}
}

// CheckPropertyValue checks value against the type inferred from def.
func CheckPropertyValue(def PropertyDefinition, value string) error {
	switch def.Type() {
	case PropertyInt:
		if _, err := strconv.Atoi(value); err != nil {
			return fmt.Errorf("%w: %w: property %s wants an integer, got %q", ErrValidation, ErrInvalidPropertyValue, def.Name, value)
		}
	case PropertyBool:
		if value != "true" && value != "false" {
			return fmt.Errorf("%w: %w: property %s wants true or false, got %q", ErrValidation, ErrInvalidPropertyValue, def.Name, value)
		}
	}
	return nil
}

// ValidateList validates every device of a list against the others and
// returns the first violation, prefixed with the device index.
func ValidateList(devices []ConnectedDevice, templates TemplateLookup) error {
	for i, d := range devices {
		siblings := make([]ConnectedDevice, 0, len(devices)-1)
		siblings = append(siblings, devices[:i]...)
		siblings = append(siblings, devices[i+1:]...)
		if err := Validate(d, siblings, templates).Err(); err != nil {
			return fmt.Errorf("device %d (%s): %w", i, d.Type, err)
		}
	}
	return nil
}

// ValidateMicrocontroller checks the identity fields required to register a
// board: board type, MAC address and IP address.
func ValidateMicrocontroller(m KnownMicrocontroller) error {
	if strings.TrimSpace(m.BoardType) == "" {
		return fmt.Errorf("%w: board type is required", ErrInvalidMicrocontroller)
	}
	if strings.ContainsAny(m.BoardType, "/+#") || strings.ContainsAny(m.ProjectName, "/+#") {
		return fmt.Errorf("%w: board type and project name must not contain '/', '+' or '#'", ErrInvalidMicrocontroller)
	}
	if _, err := NormalizeMAC(m.MAC); err != nil {
		return err
	}
	if strings.TrimSpace(m.IPAddress) == "" {
		return fmt.Errorf("%w: ip address is required", ErrInvalidMicrocontroller)
	}
	if _, err := netip.ParseAddr(m.IPAddress); err != nil {
		return fmt.Errorf("%w: ip address %q: %w", ErrInvalidMicrocontroller, m.IPAddress, err)
	}
	return nil
}
