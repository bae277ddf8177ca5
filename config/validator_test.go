package config

import (
	"errors"
	"testing"

	"github.com/go-playground/validator/v10"
)

type envTestStruct struct {
	Environment string `validate:"env"`
}

type messageTestStruct struct {
	Name  string  `validate:"required"`
	Count int     `validate:"min=5"`
	Limit int     `validate:"max=100"`
	Kind  string  `validate:"oneof=a b c"`
	Rate  float64 `validate:"gt=0"`
	URL   string  `validate:"url"`
	Host  string  `validate:"hostname_rfc1123|ip"`
}

func TestValidateEnvironment(t *testing.T) {
	tests := []struct {
		env   string
		valid bool
	}{
		{"development", true},
		{"staging", true},
		{"production", true},
		{"", false},
		{"Production", false},
		{"qa", false},
	}

	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			err := validate.Struct(envTestStruct{Environment: tt.env})
			if tt.valid && err != nil {
				t.Errorf("expected valid, got error: %v", err)
			}
			if !tt.valid && err == nil {
				t.Errorf("expected %q to be invalid", tt.env)
			}
		})
	}
}

func TestFormatValidationError(t *testing.T) {
	err := validate.Struct(messageTestStruct{
		Count: 1,
		Limit: 500,
		Kind:  "z",
		URL:   "not a url",
		Host:  "bad host",
	})

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		t.Fatalf("expected validator.ValidationErrors, got %v", err)
	}

	expected := map[string]string{
		"Name":  "this field is required",
		"Count": "must be at least 5",
		"Limit": "must be at most 100",
		"Kind":  "must be one of [a b c]",
		"Rate":  "must be greater than 0",
		"URL":   "must be a valid URL",
		"Host":  "must be a hostname or IP address",
	}

	got := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		got[fe.Field()] = formatValidationError(fe)
	}
	for field, want := range expected {
		if got[field] != want {
			t.Errorf("%s: expected %q, got %q", field, want, got[field])
		}
	}
}

func TestFormatValidationError_Environment(t *testing.T) {
	err := validate.Struct(envTestStruct{Environment: "qa"})

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) != 1 {
		t.Fatalf("expected one field error, got %v", err)
	}
	if msg := formatValidationError(fieldErrs[0]); msg != "must be one of [development staging production]" {
		t.Errorf("unexpected message: %s", msg)
	}
}
