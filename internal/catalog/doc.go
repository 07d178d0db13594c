// Package catalog holds the device templates of IoTZoo Core.
//
// A Catalog is built once at startup from the built-in templates and an
// optional YAML file, then only read. Every template handed out is a deep
// copy, so callers can never alter the registered blueprint.
//
// # Usage
//
//	cat, err := catalog.Load(cfg.Sync.TemplatesFile)
//	if err != nil {
//	    return err
//	}
//	d, err := cat.Instantiate("DS18B20")
package catalog
