package request

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/edvin/revive/internal/leases"
	"github.com/edvin/revive/internal/model"
)

var validate = validator.New()

func init() {
	validate.RegisterValidation("mac", func(fl validator.FieldLevel) bool {
		_, err := leases.NormalizeMAC(fl.Field().String())
		return err == nil
	})
	validate.RegisterValidation("hhmm", func(fl validator.FieldLevel) bool {
		_, err := model.ParseClock(fl.Field().String())
		return err == nil
	})
	validate.RegisterValidation("weekday", func(fl validator.FieldLevel) bool {
		_, err := model.ParseWeekday(fl.Field().String())
		return err == nil
	})
}

func Decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("validation error: %w", err)
	}
	return nil
}

// RequireMAC normalises a hardware address taken from the URL.
func RequireMAC(s string) (string, error) {
	if s == "" {
		return "", fmt.Errorf("missing device address")
	}
	if err := validate.Var(s, "mac"); err != nil {
		return "", fmt.Errorf("invalid device address %q", s)
	}
	return leases.NormalizeMAC(s)
}
