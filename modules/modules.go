// Package modules holds the modules compiled into the pipeworker binary.
package modules

import (
	"pipeworker/module"
)

// Definitions lists the built-in modules.
func Definitions() []module.Definition {
	return []module.Definition{
		{ID: "arith", Doc: "add, sub, mul, div and sum over numbers", Factory: arithFactory},
		{ID: "text", Doc: "string helpers; [config] separator sets the join separator", Factory: textFactory},
		{ID: "counter", Doc: "a stateful counter object", Factory: counterFactory},
		{ID: "files", Doc: "read files along the search path", Factory: filesFactory},
	}
}

// Register adds every built-in module to reg.
func Register(reg *module.Registry) error {
	for _, def := range Definitions() {
		if err := reg.Register(def); err != nil {
			return err
		}
	}
	return nil
}
