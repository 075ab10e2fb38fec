package modules

import (
	"pipeworker/module"
)

// Counter is exported as an object: counter.Incr, counter.Get, counter.Reset.
// Every load creates a fresh counter.
type Counter struct {
	n int
}

// Incr adds by to the counter and returns the new value.
func (c *Counter) Incr(by int) int {
	c.n += by
	return c.n
}

func (c *Counter) Get() int {
	return c.n
}

func (c *Counter) Reset() {
	c.n = 0
}

func counterFactory(lc *module.LoadContext) (module.Exports, error) {
	return module.Exports{"counter": &Counter{}}, nil
}
