package cfg

import (
	"fmt"
	"regexp"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		_ = validate.RegisterValidation("regex", func(fl validator.FieldLevel) bool {
			_, err := regexp.Compile(fl.Field().String())
			return err == nil
		})
	})
	return validate
}

// Validate checks the process before it is handed to the native executable:
// field ranges, regex syntax of storage and drop/keep rules, and every
// registered conditions provider.
func (p *Process) Validate() error {
	v := structValidator()
	if err := v.Struct(p); err != nil {
		return fmt.Errorf("process %s validation failed: %w", p.PassName, err)
	}
	for i, cp := range p.Conditions.Providers {
		target := any(cp.Base())
		if rnss, ok := cp.(*RandomNumberSeedService); ok {
			target = rnss
		}
		if err := v.Struct(target); err != nil {
			return fmt.Errorf("conditions provider %d (%s) validation failed: %w", i, cp.Base().ObjName, err)
		}
	}
	return nil
}
