package authcore

import (
	"reflect"
	"testing"
)

func TestValidatePasswordStrength(t *testing.T) {
	tests := []struct {
		name     string
		password string
		want     []string
	}{
		{
			name:     "strong",
			password: "Str0ng!pass",
		},
		{
			name:     "empty reports every rule in order",
			password: "",
			want: []string{
				"Password must be at least 8 characters long",
				"Password must contain at least one uppercase letter",
				"Password must contain at least one lowercase letter",
				"Password must contain at least one number",
				"Password must contain at least one special character",
			},
		},
		{
			name:     "missing symbol",
			password: "Abcdefg1",
			want:     []string{"Password must contain at least one special character"},
		},
		{
			name:     "missing upper and digit",
			password: "abcdefg!",
			want: []string{
				"Password must contain at least one uppercase letter",
				"Password must contain at least one number",
			},
		},
		{
			name:     "non-ascii letters do not count",
			password: "ÄÖÜäöü1!",
			want: []string{
				"Password must contain at least one uppercase letter",
				"Password must contain at least one lowercase letter",
			},
		},
		{
			name:     "length counts characters not bytes",
			password: "Ab1!é",
			want:     []string{"Password must be at least 8 characters long"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ValidatePasswordStrength(tt.password)
			if got.Valid != (len(tt.want) == 0) {
				t.Fatalf("Valid = %v for %q", got.Valid, tt.password)
			}
			if !reflect.DeepEqual(got.Errors, tt.want) {
				t.Fatalf("Errors = %q, want %q", got.Errors, tt.want)
			}
		})
	}
}

func TestPasswordSymbolsAccepted(t *testing.T) {
	for _, r := range PasswordSymbols {
		pw := "Abcdefg1" + string(r)
		if res := ValidatePasswordStrength(pw); !res.Valid {
			t.Fatalf("symbol %q rejected: %v", r, res.Errors)
		}
	}
}
