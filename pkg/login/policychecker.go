package login

import (
	"fmt"
	"unicode"

	"github.com/canyonlabs/usermgr/pkg/apierr"
)

// PasswordPolicy defines the requirements for password complexity
type PasswordPolicy struct {
	MinLength          int
	RequireUppercase   bool
	RequireLowercase   bool
	RequireDigit       bool
	RequireSpecialChar bool
	HistoryCheckCount  int
}

// DefaultPasswordPolicy returns the stock policy
func DefaultPasswordPolicy() *PasswordPolicy {
	return &PasswordPolicy{
		MinLength:          8,
		RequireUppercase:   true,
		RequireLowercase:   true,
		RequireDigit:       true,
		RequireSpecialChar: true,
		HistoryCheckCount:  5,
	}
}

// PasswordPolicyChecker validates candidate passwords against a policy
type PasswordPolicyChecker interface {
	CheckPasswordComplexity(password string) []*apierr.Error
	GetPolicy() *PasswordPolicy
}

// DefaultPasswordPolicyChecker implements PasswordPolicyChecker
type DefaultPasswordPolicyChecker struct {
	policy *PasswordPolicy
}

// NewDefaultPasswordPolicyChecker creates a checker; nil uses the default policy
func NewDefaultPasswordPolicyChecker(policy *PasswordPolicy) *DefaultPasswordPolicyChecker {
	if policy == nil {
		policy = DefaultPasswordPolicy()
	}
	return &DefaultPasswordPolicyChecker{policy: policy}
}

// CheckPasswordComplexity returns one violation per failed rule so the
// client sees everything wrong with the candidate at once. Length counts
// runes, not bytes.
func (pc *DefaultPasswordPolicyChecker) CheckPasswordComplexity(password string) []*apierr.Error {
	var violations []*apierr.Error

	var length, upper, lower, digit, special int
	for _, r := range password {
		length++
		switch {
		case unicode.IsUpper(r):
			upper++
		case unicode.IsLower(r):
			lower++
		case unicode.IsDigit(r):
			digit++
		default:
			special++
		}
	}

	if length < pc.policy.MinLength {
		violations = append(violations, apierr.Newf(apierr.CodePasswordTooShort,
			"password must be at least %d characters long", pc.policy.MinLength).WithField("password"))
	}
	if pc.policy.RequireUppercase && upper == 0 {
		violations = append(violations, apierr.New(apierr.CodePasswordMissingUppercase,
			"password must contain at least one uppercase letter").WithField("password"))
	}
	if pc.policy.RequireLowercase && lower == 0 {
		violations = append(violations, apierr.New(apierr.CodePasswordMissingLowercase,
			"password must contain at least one lowercase letter").WithField("password"))
	}
	if pc.policy.RequireDigit && digit == 0 {
		violations = append(violations, apierr.New(apierr.CodePasswordMissingDigit,
			"password must contain at least one digit").WithField("password"))
	}
	if pc.policy.RequireSpecialChar && special == 0 {
		violations = append(violations, apierr.New(apierr.CodePasswordMissingSpecialChar,
			"password must contain at least one special character").WithField("password"))
	}

	return violations
}

// GetPolicy returns the password policy
func (pc *DefaultPasswordPolicyChecker) GetPolicy() *PasswordPolicy {
	return pc.policy
}

// PolicyError wraps the violations into a single error value
func PolicyError(violations []*apierr.Error) error {
	if len(violations) == 0 {
		return nil
	}
	return &apierr.Violations{
		Message: fmt.Sprintf("password does not meet policy (%d violation(s))", len(violations)),
		Items:   violations,
	}
}
