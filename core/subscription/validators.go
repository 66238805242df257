package subscription

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/didisacademy/academy/core"
)

var (
	levelTag  = "level"
	levelText = "invalid subscription level"
)

// InitValidators registers the `level` tag, valid on string and Level fields.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(levelTag, levelValidation)
	core.RegisterCustomTranslation(validate, translator, levelTag, levelText)
}

func levelValidation(fl validator.FieldLevel) bool {
	return Level(fl.Field().String()).IsValid()
}
