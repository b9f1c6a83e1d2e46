package reservation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"emperror.dev/errors"
	validatorv10 "github.com/go-playground/validator/v10"
)

// ErrValidation is returned for malformed or incomplete requests
var ErrValidation = errors.NewPlain("invalid reservation data")

// NewValidator returns a validator with the guest tier rule registered
func NewValidator() *validatorv10.Validate {
	v := validatorv10.New()
	if err := v.RegisterValidation("guesttype", validateGuestType); err != nil {
		panic(err)
	}

	return v
}

func validateGuestType(fl validatorv10.FieldLevel) bool {
	return GuestType(fl.Field().String()).Valid()
}

// Decode reads a Request from JSON and validates it.
// Type mismatches and rule violations are both reported as ErrValidation.
func Decode(r io.Reader, v *validatorv10.Validate) (Request, error) {
	req := Request{}
	dec := json.NewDecoder(r)
	if err := dec.Decode(&req); err != nil {
		return req, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if err := Validate(req, v); err != nil {
		return req, err
	}

	return req, nil
}

// DecodeBytes is Decode for an in-memory body
func DecodeBytes(body []byte, v *validatorv10.Validate) (Request, error) {
	return Decode(bytes.NewReader(body), v)
}

// Validate runs the struct rules
func Validate(req Request, v *validatorv10.Validate) error {
	if err := v.Struct(req); err != nil {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}

	return nil
}

// FieldErrors flattens validator errors for logging
func FieldErrors(err error) map[string]string {
	out := map[string]string{}
	var ve validatorv10.ValidationErrors
	if errors.As(err, &ve) {
		for _, fe := range ve {
			out[fe.StructNamespace()] = fe.Tag()
		}
	} else if err != nil {
		out["error"] = err.Error()
	}

	return out
}
