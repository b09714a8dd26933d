package ats

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// MinFoundedYear is the earliest accepted company founding year.
const MinFoundedYear = 1800

// DefaultCurrency is applied to salary ranges without a currency.
const DefaultCurrency = "USD"

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ValidateCompany normalizes in and checks it before any remote call.
func ValidateCompany(in CompanyInput, now time.Time) (CompanyInput, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	in.Website = strings.TrimSpace(in.Website)
	in.LogoURL = strings.TrimSpace(in.LogoURL)

	verr := &ValidationError{}
	collect(verr, validate.Struct(in))
	if in.Founded != nil && *in.Founded > now.Year() {
		verr.add("founded", fmt.Sprintf("must be between %d and %d", MinFoundedYear, now.Year()))
	}
	return in, verr.orNil()
}

// ValidateJob normalizes in and checks it before any remote call.
func ValidateJob(in JobInput) (JobInput, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	in.ApplicationDeadline = strings.TrimSpace(in.ApplicationDeadline)
	in.ApplicationURL = strings.TrimSpace(in.ApplicationURL)
	if in.Status == "" {
		in.Status = JobDraft
	}
	if in.LocationType == LocationRemote {
		in.Location = nil
	}
	if in.SalaryRange != nil {
		sr := *in.SalaryRange
		if sr.Currency == "" {
			sr.Currency = DefaultCurrency
		}
		if sr.Period == "" {
			sr.Period = PeriodYearly
		}
		in.SalaryRange = &sr
	}
	skills := make([]string, 0, len(in.SkillsRequired))
	for _, s := range in.SkillsRequired {
		if s = strings.TrimSpace(s); s != "" {
			skills = append(skills, s)
		}
	}
	in.SkillsRequired = skills

	verr := &ValidationError{}
	collect(verr, validate.Struct(in))
	if sr := in.SalaryRange; sr != nil && sr.Min > sr.Max {
		verr.add("salary_range", "min must not exceed max")
	}
	if in.ApplicationDeadline != "" {
		if _, err := ParseDeadline(in.ApplicationDeadline); err != nil {
			verr.add("application_deadline", "must be a valid date")
		}
	}
	return in, verr.orNil()
}

// ParseDeadline accepts RFC 3339 timestamps and YYYY-MM-DD dates.
func ParseDeadline(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, s)
}

func collect(verr *ValidationError, err error) {
	if err == nil {
		return
	}
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) {
		verr.add("input", err.Error())
		return
	}
	for _, fe := range ves {
		verr.add(fieldPath(fe.Namespace()), message(fe))
	}
}

// fieldPath drops the struct name from a validator namespace.
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		if fe.Kind() == reflect.String {
			return "must be at least " + fe.Param() + " characters"
		}
		return "must be at least " + fe.Param()
	case "oneof":
		return "must be one of [" + fe.Param() + "]"
	case "url":
		return "must be an absolute URL"
	}
	return "failed " + fe.Tag()
}
