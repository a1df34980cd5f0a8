package login

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canyonlabs/usermgr/pkg/apierr"
)

func violationCodes(violations []*apierr.Error) []apierr.Code {
	codes := make([]apierr.Code, 0, len(violations))
	for _, v := range violations {
		codes = append(codes, v.Code)
	}
	return codes
}

func TestCheckPasswordComplexityValid(t *testing.T) {
	pc := NewDefaultPasswordPolicyChecker(nil)
	assert.Empty(t, pc.CheckPasswordComplexity("Abcdef1!"))
}

func TestCheckPasswordComplexitySingleRules(t *testing.T) {
	pc := NewDefaultPasswordPolicyChecker(nil)

	tests := []struct {
		name     string
		password string
		want     apierr.Code
	}{
		{"too short", "Ab1!", apierr.CodePasswordTooShort},
		{"seven chars with every class", "Abcde1!", apierr.CodePasswordTooShort},
		{"no uppercase", "abcdef1!", apierr.CodePasswordMissingUppercase},
		{"no lowercase", "ABCDEF1!", apierr.CodePasswordMissingLowercase},
		{"no digit", "Abcdefg!", apierr.CodePasswordMissingDigit},
		{"no special char", "Abcdefg1", apierr.CodePasswordMissingSpecialChar},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			violations := pc.CheckPasswordComplexity(tc.password)
			require.Len(t, violations, 1)
			assert.Equal(t, tc.want, violations[0].Code)
		})
	}
}

func TestCheckPasswordComplexityReportsAllViolations(t *testing.T) {
	pc := NewDefaultPasswordPolicyChecker(nil)

	violations := pc.CheckPasswordComplexity("abc")
	codes := violationCodes(violations)
	assert.ElementsMatch(t, []apierr.Code{
		apierr.CodePasswordTooShort,
		apierr.CodePasswordMissingUppercase,
		apierr.CodePasswordMissingDigit,
		apierr.CodePasswordMissingSpecialChar,
	}, codes)
}

func TestCheckPasswordComplexityCountsRunes(t *testing.T) {
	pc := NewDefaultPasswordPolicyChecker(&PasswordPolicy{MinLength: 8})

	// 8 multi-byte runes satisfy an 8-rune minimum
	assert.Empty(t, pc.CheckPasswordComplexity("пароль№1"))
}

func TestCheckPasswordComplexityCustomPolicy(t *testing.T) {
	pc := NewDefaultPasswordPolicyChecker(&PasswordPolicy{
		MinLength:    12,
		RequireDigit: true,
	})

	violations := pc.CheckPasswordComplexity("lowercase-only")
	assert.Equal(t, []apierr.Code{apierr.CodePasswordMissingDigit}, violationCodes(violations))

	assert.Empty(t, pc.CheckPasswordComplexity("lowercase-only1"))
}

func TestPolicyError(t *testing.T) {
	assert.NoError(t, PolicyError(nil))

	err := PolicyError([]*apierr.Error{apierr.New(apierr.CodePasswordTooShort, "too short")})
	require.Error(t, err)

	var v *apierr.Violations
	require.ErrorAs(t, err, &v)
	assert.Len(t, v.Items, 1)
}
