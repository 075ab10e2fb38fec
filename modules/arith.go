package modules

import (
	"github.com/pkg/errors"

	"pipeworker/module"
)

var ErrDivisionByZero = errors.New("division by zero")

func arithFactory(lc *module.LoadContext) (module.Exports, error) {
	return module.Exports{
		"add": func(a, b float64) float64 { return a + b },
		"sub": func(a, b float64) float64 { return a - b },
		"mul": func(a, b float64) float64 { return a * b },
		"div": func(a, b float64) (float64, error) {
			if b == 0 {
				return 0, ErrDivisionByZero
			}
			return a / b, nil
		},
		"sum": func(nums ...float64) float64 {
			var total float64
			for _, n := range nums {
				total += n
			}
			return total
		},
	}, nil
}
