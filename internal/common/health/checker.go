package health

import (
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// Checker reports whether a component is healthy.  A nil error means healthy.
type Checker interface {
	Check() error
}

// CheckerFunc adapts a function to a Checker
type CheckerFunc func() error

func (f CheckerFunc) Check() error {
	return f()
}

// Named prefixes any failure reported by c with name so that combined reports say which component failed.
func Named(name string, c Checker) Checker {
	return CheckerFunc(func() error {
		return errors.WithMessage(c.Check(), name)
	})
}

// All returns a Checker that runs every checker on each call and reports the failures together.  With no
// checkers it is always healthy.
func All(checkers ...Checker) Checker {
	return CheckerFunc(func() error {
		var result *multierror.Error
		for _, c := range checkers {
			if err := c.Check(); err != nil {
				result = multierror.Append(result, err)
			}
		}
		return result.ErrorOrNil()
	})
}
