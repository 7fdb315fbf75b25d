package custom_errors

import (
	"errors"
)

// ValidationError collects every problem found while building a configuration so
// the caller sees all of them at once.
type ValidationError struct {
	Errors []error `json:"errors"`
}

func (c *ValidationError) Add(err error) {
	if err != nil {
		c.Errors = append(c.Errors, err)
	}
}

func (c *ValidationError) HasError() bool {
	return len(c.Errors) > 0
}

func (c *ValidationError) Error() string {
	if len(c.Errors) == 0 {
		return ""
	}
	return errors.Join(c.Errors...).Error()
}

func (c *ValidationError) Unwrap() []error {
	return c.Errors
}
