package handlers

import (
	"strings"
	"sync"
	"unicode"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
)

const maxParticipantLength = 320

var registerOnce sync.Once

// RegisterValidations adds the custom binding tags used by request bodies
func RegisterValidations() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			log.Warn().Msg("Gin validator engine is not go-playground, custom validations skipped")
			return
		}
		if err := v.RegisterValidation("participant", validateParticipant); err != nil {
			log.Error().Err(err).Msg("Failed to register participant validation")
		}
	})
}

// validateParticipant accepts wallet addresses and emails: a single token
// without inner whitespace. Blank values are left to the service checks.
func validateParticipant(fl validator.FieldLevel) bool {
	return IsParticipant(fl.Field().String())
}

// IsParticipant reports whether s can identify a participant
func IsParticipant(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return true
	}
	if len(s) > maxParticipantLength {
		return false
	}
	return strings.IndexFunc(s, unicode.IsSpace) < 0
}
