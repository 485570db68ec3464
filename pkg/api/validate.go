package api

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/stellar-memory/stellar-auth/pkg/tier"
)

// newValidator returns a validator that reports JSON field names and knows
// the paidtier tag (any known tier except free).
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("paidtier", func(fl validator.FieldLevel) bool {
		t, ok := tier.Parse(fl.Field().String())
		return ok && t != tier.Free
	})
	return v
}

// validationError flattens validator errors into one readable message
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid request: %w", err)
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("invalid request: %s", strings.Join(parts, ", "))
}
