// Package factory provides a small generic registry used to instantiate modules
// from configuration. Modules are defined by a type string and a map of raw
// settings. Factories decode the settings into typed structs and return the
// concrete implementation.
//
// Example usage:
//
//	reg := factory.NewRegistry[delivery.Backend]()
//	reg.Register("sqlite", func(conf map[string]any) (delivery.Backend, error) {
//	    var c struct{ Path string `json:"path"` }
//	    if err := factory.Decode(conf, &c); err != nil {
//	        return nil, err
//	    }
//	    return sqldoc.OpenSQLite(c.Path)
//	})
//	b, err := reg.Create(factory.ModuleConfig{Type: "sqlite", Conf: map[string]any{"path": "lastmile.db"}})
package factory
