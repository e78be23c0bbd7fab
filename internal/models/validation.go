package models

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	validate  = newValidator()
	slugRegex = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)
)

func newValidator() *validator.Validate {
	v := validator.New()

	// Report JSON field names so errors line up with request bodies.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	_ = v.RegisterValidation("statuscodes", func(fl validator.FieldLevel) bool {
		_, err := ParseStatusCodes(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("slug", func(fl validator.FieldLevel) bool {
		return slugRegex.MatchString(fl.Field().String())
	})

	return v
}

// ValidateStruct runs tag validation on any model and converts failures into
// a ConfigurationError.
func ValidateStruct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	cfgErr := &ConfigurationError{}
	for _, fe := range verrs {
		cfgErr.Add(fe.Field(), describe(fe))
	}
	return cfgErr
}

// ValidateMonitor checks tag constraints plus the cross-field rules
func ValidateMonitor(m *Monitor) error {
	var cfgErr *ConfigurationError
	if err := ValidateStruct(m); err != nil {
		if !errors.As(err, &cfgErr) {
			return err
		}
	}
	if cfgErr == nil {
		cfgErr = &ConfigurationError{}
	}

	if m.ResponseTimeWarningMs > 0 && m.ResponseTimeCriticalMs > 0 &&
		m.ResponseTimeWarningMs > m.ResponseTimeCriticalMs {
		cfgErr.Add("response_time_warning_ms", "must not exceed response_time_critical_ms")
	}
	if m.UptimeWarningPercent > 0 && m.UptimeCriticalPercent > 0 &&
		m.UptimeCriticalPercent > m.UptimeWarningPercent {
		cfgErr.Add("uptime_critical_percent", "must not exceed uptime_warning_percent")
	}
	if m.ParentID != nil && m.ID != 0 && *m.ParentID == m.ID {
		cfgErr.Add("parent_id", "monitor cannot be its own parent")
	}

	if len(cfgErr.Fields) > 0 {
		return cfgErr
	}
	return nil
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "statuscodes":
		return "must be a comma separated list of status codes or ranges, e.g. 200,201,300-399"
	case "slug":
		return "must contain only lowercase letters, digits and single dashes"
	}
	return fmt.Sprintf("failed %s validation", fe.Tag())
}
