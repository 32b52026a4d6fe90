// Package password evaluates candidate passwords against a configurable
// policy and the account's own data. The validator is stateless; all inputs
// arrive per call.
package password

import (
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"

	accountmodels "attest/internal/account/models"
	"attest/internal/password/metrics"
	dErrors "attest/pkg/domain-errors"
)

// Rule names a policy rule for actionable error messages.
type Rule string

const (
	RuleMinLength        Rule = "min_length"
	RuleMaxLength        Rule = "max_length"
	RuleCharacterClasses Rule = "character_classes"
	RuleHistory          Rule = "history"
	RulePersonalInfo     Rule = "personal_info"
)

// Violation is one failed rule with a user-presentable message.
type Violation struct {
	Rule    Rule
	Message string
}

// PolicyError carries the violated rules. It is wrapped with CodeValidation
// so the HTTP layer maps it to 422; callers needing the rule list use
// errors.As.
type PolicyError struct {
	Violations []Violation
}

func (e *PolicyError) Error() string {
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = string(v.Rule)
	}
	return "password policy violated: " + strings.Join(msgs, ", ")
}

// Policy is the configurable rule set. Rules evaluate in the fixed order
// min length, max length, character classes, history, personal info, so a
// too-short password always reports the length rule first.
type Policy struct {
	MinLength int
	MaxLength int
	// MinCharacterClasses of: lowercase, uppercase, digits, symbols.
	MinCharacterClasses int
	// RejectHistory compares the candidate against the account's bounded
	// password history (and the current hash).
	RejectHistory bool
	// RejectPersonalInfo refuses passwords containing the account's own
	// username, email local part, or phone number.
	RejectPersonalInfo bool
}

// DefaultPolicy mirrors the sign-in experience defaults.
func DefaultPolicy() Policy {
	return Policy{
		MinLength:           8,
		MaxLength:           256,
		MinCharacterClasses: 2,
		RejectHistory:       true,
		RejectPersonalInfo:  true,
	}
}

// Validator applies a Policy. FirstFailure mode (the default) stops at the
// first violated rule; CollectAll reports every violation at once.
type Validator struct {
	policy     Policy
	collectAll bool
	metrics    *metrics.Metrics
}

type Option func(*Validator)

// WithCollectAll switches the validator to full-report mode.
func WithCollectAll() Option {
	return func(v *Validator) {
		v.collectAll = true
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(v *Validator) {
		v.metrics = m
	}
}

func NewValidator(policy Policy, opts ...Option) *Validator {
	v := &Validator{policy: policy}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate checks the candidate against the policy for the given account.
// Returns nil when the password is acceptable.
func (v *Validator) Validate(candidate string, account *accountmodels.Account) error {
	var violations []Violation

	add := func(rule Rule, message string) bool {
		v.metrics.ObserveViolation(string(rule))
		violations = append(violations, Violation{Rule: rule, Message: message})
		return !v.collectAll
	}

	if done := v.checkLength(candidate, add); done {
		return v.fail(violations)
	}
	if done := v.checkCharacterClasses(candidate, add); done {
		return v.fail(violations)
	}
	if done := v.checkHistory(candidate, account, add); done {
		return v.fail(violations)
	}
	if done := v.checkPersonalInfo(candidate, account, add); done {
		return v.fail(violations)
	}

	return v.fail(violations)
}

func (v *Validator) fail(violations []Violation) error {
	if len(violations) == 0 {
		return nil
	}
	return dErrors.Wrap(&PolicyError{Violations: violations}, dErrors.CodeValidation, violations[0].Message)
}

func (v *Validator) checkLength(candidate string, add func(Rule, string) bool) bool {
	if v.policy.MinLength > 0 && len(candidate) < v.policy.MinLength {
		if add(RuleMinLength, "password is too short") {
			return true
		}
	}
	if v.policy.MaxLength > 0 && len(candidate) > v.policy.MaxLength {
		if add(RuleMaxLength, "password is too long") {
			return true
		}
	}
	return false
}

func (v *Validator) checkCharacterClasses(candidate string, add func(Rule, string) bool) bool {
	if v.policy.MinCharacterClasses <= 0 {
		return false
	}

	var lower, upper, digit, symbol bool
	for _, r := range candidate {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		default:
			symbol = true
		}
	}
	classes := 0
	for _, present := range []bool{lower, upper, digit, symbol} {
		if present {
			classes++
		}
	}
	if classes < v.policy.MinCharacterClasses {
		return add(RuleCharacterClasses, "password needs more character variety")
	}
	return false
}

func (v *Validator) checkHistory(candidate string, account *accountmodels.Account, add func(Rule, string) bool) bool {
	if !v.policy.RejectHistory || account == nil {
		return false
	}

	hashes := account.PasswordHistory
	if account.PasswordHash != "" {
		hashes = append(append([]string(nil), hashes...), account.PasswordHash)
	}
	for _, hash := range hashes {
		if bcrypt.CompareHashAndPassword([]byte(hash), []byte(candidate)) == nil {
			return add(RuleHistory, "password was used recently")
		}
	}
	return false
}

func (v *Validator) checkPersonalInfo(candidate string, account *accountmodels.Account, add func(Rule, string) bool) bool {
	if !v.policy.RejectPersonalInfo || account == nil {
		return false
	}

	lowered := strings.ToLower(candidate)
	var fragments []string
	if account.Username != "" {
		fragments = append(fragments, account.Username)
	}
	if account.PrimaryEmail != "" {
		if local, _, ok := strings.Cut(account.PrimaryEmail, "@"); ok && local != "" {
			fragments = append(fragments, local)
		}
	}
	if account.PrimaryPhone != "" {
		fragments = append(fragments, strings.TrimPrefix(account.PrimaryPhone, "+"))
	}
	for _, fragment := range fragments {
		if len(fragment) >= 3 && strings.Contains(lowered, strings.ToLower(fragment)) {
			return add(RulePersonalInfo, "password must not contain your own identifiers")
		}
	}
	return false
}
