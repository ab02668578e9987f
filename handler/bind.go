package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// MaxBodySize caps JSON request bodies.
const MaxBodySize = 1 << 20

var (
	ErrUnsupportedMediaType = HTTPError{Code: http.StatusUnsupportedMediaType, Message: "Content-Type must be application/json"}
	ErrInvalidJSON          = HTTPError{Code: http.StatusBadRequest, Message: "Invalid request body"}
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// fieldName reports a field by its `label` tag, falling back to the json name,
// so messages read "Price ID is required".
func fieldName(f reflect.StructField) string {
	if label := f.Tag.Get("label"); label != "" {
		return label
	}
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	if name == "-" {
		return ""
	}
	if name == "" {
		return f.Name
	}
	return name
}

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(fieldName)
	})
	return validate
}

// BindJSON decodes a JSON body into v and validates it with `validate` tags.
// An empty body leaves v zero-valued and still goes through validation, so
// optional payloads work without the client sending "{}".
func BindJSON() Bind {
	return func(r *http.Request, v any) error {
		if ct := r.Header.Get("Content-Type"); ct != "" {
			mediaType, _, err := mime.ParseMediaType(ct)
			if err != nil || mediaType != "application/json" {
				return ErrUnsupportedMediaType
			}
		}

		if r.Body != nil && r.Body != http.NoBody {
			dec := json.NewDecoder(io.LimitReader(r.Body, MaxBodySize))
			if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
				return errors.Join(ErrInvalidJSON, err)
			}
		}

		return Validate(v)
	}
}

// Validate runs struct validation and converts failures to ValidationError.
func Validate(v any) error {
	err := validatorInstance().Struct(v)
	if err == nil {
		return nil
	}

	var invalid *validator.InvalidValidationError
	if errors.As(err, &invalid) {
		// non-struct targets carry no rules
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	out := NewValidationError()
	for _, fe := range fieldErrs {
		out.Add(fe.Field(), fieldMessage(fe))
	}
	return out
}

func fieldMessage(fe validator.FieldError) string {
	name := fe.Field()
	switch fe.Tag() {
	case "required", "required_if", "required_without":
		return name + " is required"
	case "url", "http_url":
		return name + " must be a valid URL"
	case "email":
		return name + " must be a valid email address"
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", name, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", name, fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", name, fe.Param())
	default:
		return name + " is invalid"
	}
}
