package handlers

import (
	"errors"
	"reflect"
	"strings"

	"github.com/edlab/edlab/internal/apperr"
	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

var (
	validate   *validator.Validate
	translator ut.Translator

	notBlankTag = "notblank"
)

func init() {
	validate = validator.New()

	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ = uni.GetTranslator("en")
	_ = en_translations.RegisterDefaultTranslations(validate, translator)

	// Use JSON tag names for errors instead of Go struct names.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = validate.RegisterValidation(notBlankTag, notBlankValidation)
	_ = validate.RegisterTranslation(notBlankTag, translator,
		func(t ut.Translator) error {
			return t.Add(notBlankTag, "{0} is required", true)
		},
		func(t ut.Translator, fe validator.FieldError) string {
			msg, _ := t.T(notBlankTag, fe.Field())
			return msg
		},
	)
}

func notBlankValidation(fl validator.FieldLevel) bool {
	if str, ok := fl.Field().Interface().(string); ok {
		return strings.TrimSpace(str) != ""
	}
	return false
}

// validateRequest checks req's validate tags and reports failures as an
// *apperr.ValidationError naming the first offending field.
func validateRequest(req interface{}) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}

	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Translate(translator)
	}
	first := verrs[0]
	return &apperr.ValidationError{
		Field:   first.Field(),
		Message: fields[first.Field()],
		Fields:  fields,
	}
}
