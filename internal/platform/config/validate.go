package config

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	perr "pagerflow/internal/platform/errors"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

var (
	vOnce  sync.Once
	vInst  *validator.Validate
	vTrans ut.Translator
)

// validatorSvc returns the singleton validator with english translations and env tag names
func validatorSvc() (*validator.Validate, ut.Translator) {
	vOnce.Do(func() {
		enLoc := en.New()
		uni := ut.New(enLoc, enLoc)
		trans, _ := uni.GetTranslator("en")

		v := validator.New(validator.WithRequiredStructEnabled())

		// prefer env tag names in messages so operators see the key to fix
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			tag := fld.Tag.Get("env")
			if tag == "-" || tag == "" {
				return fld.Name
			}
			return tag
		})

		_ = en_translations.RegisterDefaultTranslations(v, trans)
		vInst, vTrans = v, trans
	})
	return vInst, vTrans
}

// Validate checks an options struct using `validate` tags and returns a Validation error
// naming every offending key, or nil
func Validate(opts any) error {
	v, trans := validatorSvc()
	err := v.Struct(opts)
	if err == nil {
		return nil
	}
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) {
		return perr.Wrap(err, perr.ErrorCodeValidation, "invalid configuration")
	}
	msgs := make([]string, 0, len(ves))
	for _, fe := range ves {
		msgs = append(msgs, fe.Translate(trans))
	}
	out := perr.Newf(perr.ErrorCodeValidation, "invalid configuration: %s", strings.Join(msgs, "; "))
	return perr.WithField(out, ves[0].Field())
}
