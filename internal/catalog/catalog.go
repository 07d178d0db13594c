package catalog

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/iotzoo/iotzoo-core/internal/device"
)

// Catalog is an immutable set of device templates keyed by type.
// It is safe for concurrent use.
type Catalog struct {
	templates map[string]device.DeviceTemplate
	order     []string
}

// New registers templates in order. It fails on an empty or duplicate type
// and on duplicate pin slot names within a template.
func New(templates ...device.DeviceTemplate) (*Catalog, error) {
	c := &Catalog{
		templates: make(map[string]device.DeviceTemplate, len(templates)),
		order:     make([]string, 0, len(templates)),
	}
	for i, t := range templates {
		if err := checkTemplate(t); err != nil {
			return nil, fmt.Errorf("template %d: %w", i, err)
		}
		if _, dup := c.templates[t.Type]; dup {
			return nil, fmt.Errorf("template %d: %w: %q", i, ErrDuplicateType, t.Type)
		}
		c.templates[t.Type] = t.DeepCopy()
		c.order = append(c.order, t.Type)
	}
	return c, nil
}

func checkTemplate(t device.DeviceTemplate) error {
	if strings.TrimSpace(t.Type) == "" {
		return ErrEmptyType
	}
	seen := make(map[string]bool, len(t.Pins))
	for _, p := range t.Pins {
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("%w: %s has a pin without name", ErrInvalidTemplate, t.Type)
		}
		if seen[p.Name] {
			return fmt.Errorf("%w: %s pin %s", ErrDuplicatePinSlot, t.Type, p.Name)
		}
		seen[p.Name] = true
		if p.DefaultGPIO < device.UnusedGPIO {
			return fmt.Errorf("%w: %s pin %s has gpio %d", ErrInvalidTemplate, t.Type, p.Name, p.DefaultGPIO)
		}
	}
	props := make(map[string]bool, len(t.Properties))
	for _, p := range t.Properties {
		if strings.TrimSpace(p.Name) == "" || props[p.Name] {
			return fmt.Errorf("%w: %s property %q is empty or repeated", ErrInvalidTemplate, t.Type, p.Name)
		}
		props[p.Name] = true
	}
	return nil
}

// Load returns the built-in templates merged with those in path. Templates
// from the file replace built-ins of the same type; new types are appended.
// An empty path yields the built-ins alone.
func Load(path string) (*Catalog, error) {
	templates := Builtin()
	if path == "" {
		return New(templates...)
	}

	extra, err := LoadFile(path)
	if err != nil {
		return nil, err
	}

	index := make(map[string]int, len(templates))
	for i, t := range templates {
		index[t.Type] = i
	}
	for _, t := range extra {
		if i, ok := index[t.Type]; ok {
			templates[i] = t
			continue
		}
		index[t.Type] = len(templates)
		templates = append(templates, t)
	}
	return New(templates...)
}

type templateFile struct {
	Templates []device.DeviceTemplate `yaml:"templates"`
}

// LoadFile reads templates from a YAML file of the form:
//
//	templates:
//	  - type: BME280
//	    pins:
//	      - {name: SDA, gpio: 21}
//	      - {name: SCL, gpio: 22}
//	    properties:
//	      - {name: IntervalMs, default: "5000"}
func LoadFile(path string) ([]device.DeviceTemplate, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from trusted config
	if err != nil {
		return nil, fmt.Errorf("reading template file: %w", err)
	}
	var f templateFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing template file: %w", err)
	}
	return f.Templates, nil
}

// TemplateFor returns a copy of the template for deviceType.
func (c *Catalog) TemplateFor(deviceType string) (device.DeviceTemplate, error) {
	t, ok := c.templates[deviceType]
	if !ok {
		return device.DeviceTemplate{}, fmt.Errorf("%w: %q", device.ErrUnknownDeviceType, deviceType)
	}
	return t.DeepCopy(), nil
}

// Instantiate returns a new enabled device of deviceType with the template's
// pins in slot order at their default GPIOs and every property at its default.
func (c *Catalog) Instantiate(deviceType string) (device.ConnectedDevice, error) {
	t, ok := c.templates[deviceType]
	if !ok {
		return device.ConnectedDevice{}, fmt.Errorf("%w: %q", device.ErrUnknownDeviceType, deviceType)
	}

	d := device.ConnectedDevice{
		Enabled:    true,
		Type:       t.Type,
		Pins:       make([]device.Pin, len(t.Pins)),
		Properties: make([]device.PropertyValue, len(t.Properties)),
	}
	for i, slot := range t.Pins {
		d.Pins[i] = device.Pin{GPIO: slot.DefaultGPIO, Name: slot.Name, ReadOnly: slot.ReadOnly}
	}
	for i, def := range t.Properties {
		d.Properties[i] = device.PropertyValue{Name: def.Name, Value: def.Default}
	}
	return d, nil
}

// Templates returns copies of all templates in registration order.
func (c *Catalog) Templates() []device.DeviceTemplate {
	out := make([]device.DeviceTemplate, len(c.order))
	for i, typ := range c.order {
		out[i] = c.templates[typ].DeepCopy()
	}
	return out
}

// Types returns the registered type identifiers, sorted.
func (c *Catalog) Types() []string {
	types := append([]string(nil), c.order...)
	sort.Strings(types)
	return types
}

// Len returns the number of templates.
func (c *Catalog) Len() int {
	return len(c.order)
}
