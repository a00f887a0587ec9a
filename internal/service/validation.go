package service

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var (
	phonePattern = regexp.MustCompile(`^[\+]?[(]?[0-9]{3}[)]?[-\s\.]?[0-9]{3}[-\s\.]?[0-9]{4,6}$`)
	phoneNoise   = regexp.MustCompile(`[\s\-\(\)]`)
)

// ValidPhone strips spaces, dashes and parentheses before matching.
func ValidPhone(phone string) bool {
	return phonePattern.MatchString(phoneNoise.ReplaceAllString(phone, ""))
}

var dateLayouts = []string{time.RFC3339, "2006-01-02T15:04", "2006-01-02"}

// ParseAppointmentDate accepts RFC 3339, an HTML datetime-local value or a
// bare calendar day, the latter two in loc.
func ParseAppointmentDate(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// NewValidator returns a validator with the storefront's custom tags:
// "phone" and "notpast" (a date no earlier than today).
func NewValidator(now func() time.Time) *validator.Validate {
	v := validator.New()
	v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		return ValidPhone(fl.Field().String())
	})
	v.RegisterValidation("notpast", func(fl validator.FieldLevel) bool {
		today := startOfDay(now())
		t, err := ParseAppointmentDate(fl.Field().String(), today.Location())
		if err != nil {
			return false
		}
		return !startOfDay(t.In(today.Location())).Before(today)
	})
	return v
}
