package settings

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
	translator   ut.Translator
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())

		// report json names so errors match what the client sent
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			tag := fld.Tag.Get("json")
			if tag == "-" || tag == "" {
				return fld.Name
			}
			if idx := strings.Index(tag, ","); idx >= 0 {
				tag = tag[:idx]
			}
			return tag
		})
		enLoc := en.New()
		trans, _ := ut.New(enLoc, enLoc).GetTranslator("en")
		if err := en_translations.RegisterDefaultTranslations(v, trans); err != nil {
			panic(fmt.Sprintf("settings: register translations: %v", err))
		}

		validate = v
		translator = trans
	})
	return validate
}

type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
	Param string `json:"param,omitempty"`
	// English description, e.g. "match_threshold must be 1 or less"
	Message string `json:"message"`
}

// ValidationError lists every out-of-range field of a Settings value.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		if f.Param != "" {
			parts = append(parts, fmt.Sprintf("%s must satisfy %s=%s", f.Field, f.Rule, f.Param))
		} else {
			parts = append(parts, fmt.Sprintf("%s must satisfy %s", f.Field, f.Rule))
		}
	}
	return "invalid settings: " + strings.Join(parts, ", ")
}

// Validate checks every field against its allowed range.
func (s Settings) Validate() error {
	err := getValidator().Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate settings: %w", err)
	}

	out := &ValidationError{}
	for _, fe := range verrs {
		// Namespace is "Settings.capture.max_yaw"; drop the root type name
		field := fe.Namespace()
		if idx := strings.Index(field, "."); idx >= 0 {
			field = field[idx+1:]
		}
		out.Fields = append(out.Fields, FieldError{
			Field:   field,
			Rule:    fe.Tag(),
			Param:   fe.Param(),
			Message: fe.Translate(translator),
		})
	}
	return out
}
