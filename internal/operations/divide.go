package operations

import "errors"

// ErrDivideByZero is returned when the divisor is zero. The populator never
// generates such jobs; the check covers any other caller of Execute.
var ErrDivideByZero = errors.New("division by zero")

func init() {
	register("divide", func(a, b int64) (int64, error) {
		if b == 0 {
			return 0, ErrDivideByZero
		}
		return a / b, nil
	})
}
