// Package sqlguard decides whether a model-issued query may reach the executor.
//
// The check is a keyword denylist over the lower-cased text plus an allowlist of leading verbs.
// It does not parse SQL, so a blocked keyword inside an identifier or a string literal
// (for example updated_at) is rejected the same way as a statement keyword.
package sqlguard

import (
	"errors"
	"fmt"
	"strings"
)

// Reason classifies a rejection.
type Reason string

const (
	ReasonInvalidInput       Reason = "invalid_input"
	ReasonMultipleStatements Reason = "multiple_statements"
	ReasonCommandNotAllowed  Reason = "command_not_allowed"
	ReasonBlockedKeyword     Reason = "blocked_keyword"
)

var (
	ErrInvalidInput       = errors.New("sqlguard: invalid input")
	ErrMultipleStatements = errors.New("sqlguard: multiple statements")
	ErrCommandNotAllowed  = errors.New("sqlguard: command not allowed")
	ErrBlockedKeyword     = errors.New("sqlguard: blocked keyword")
)

const statementSeparator = ";"

// Rejection reports why a query was refused. Token carries the offending verb or keyword.
type Rejection struct {
	Reason Reason
	Token  string
}

func (r *Rejection) Error() string {
	switch r.Reason {
	case ReasonInvalidInput:
		return "Invalid query"
	case ReasonMultipleStatements:
		return "Multiple SQL statements are not allowed"
	case ReasonCommandNotAllowed:
		return fmt.Sprintf("SQL command '%s' is not allowed", r.Token)
	case ReasonBlockedKeyword:
		return fmt.Sprintf("Blocked SQL keyword detected: %s", r.Token)
	default:
		return "query rejected: " + string(r.Reason)
	}
}

func (r *Rejection) Is(target error) bool {
	switch target {
	case ErrInvalidInput:
		return r.Reason == ReasonInvalidInput
	case ErrMultipleStatements:
		return r.Reason == ReasonMultipleStatements
	case ErrCommandNotAllowed:
		return r.Reason == ReasonCommandNotAllowed
	case ErrBlockedKeyword:
		return r.Reason == ReasonBlockedKeyword
	default:
		return false
	}
}

// AsRejection unwraps err into a *Rejection when it carries one.
func AsRejection(err error) (*Rejection, bool) {
	var rejection *Rejection
	if errors.As(err, &rejection) {
		return rejection, true
	}
	return nil, false
}

// Policy lists the leading verbs a query may start with and the keywords it may not contain.
type Policy struct {
	AllowedCommands []string
	BlockedKeywords []string
}

// DefaultPolicy allows SELECT only and blocks DDL, DML and DuckDB maintenance keywords.
func DefaultPolicy() Policy {
	return Policy{
		AllowedCommands: []string{"select"},
		BlockedKeywords: []string{
			"drop",
			"truncate",
			"alter",
			"delete",
			"attach",
			"detach",
			"pragma",
			"vacuum",
			"insert",
			"update",
		},
	}
}

func (p Policy) clone() Policy {
	return Policy{
		AllowedCommands: append([]string(nil), p.AllowedCommands...),
		BlockedKeywords: append([]string(nil), p.BlockedKeywords...),
	}
}

// Validator is safe for concurrent use; its policy never changes after construction.
type Validator struct {
	allowed map[string]struct{}
	policy  Policy
}

// NewValidator copies policy and lower-cases its entries.
func NewValidator(policy Policy) *Validator {
	policy = policy.clone()
	for i, keyword := range policy.BlockedKeywords {
		policy.BlockedKeywords[i] = strings.ToLower(keyword)
	}
	allowed := make(map[string]struct{}, len(policy.AllowedCommands))
	for i, command := range policy.AllowedCommands {
		command = strings.ToLower(command)
		policy.AllowedCommands[i] = command
		allowed[command] = struct{}{}
	}
	return &Validator{allowed: allowed, policy: policy}
}

func (v *Validator) Policy() Policy {
	return v.policy.clone()
}

// Validate returns raw unchanged when it passes every check, otherwise a *Rejection.
func (v *Validator) Validate(raw string) (string, error) {
	if raw == "" {
		return "", &Rejection{Reason: ReasonInvalidInput}
	}

	normalized := strings.ToLower(strings.TrimSpace(raw))
	if strings.Contains(normalized, statementSeparator) {
		return "", &Rejection{Reason: ReasonMultipleStatements}
	}

	verb := firstToken(normalized)
	if _, ok := v.allowed[verb]; !ok {
		return "", &Rejection{Reason: ReasonCommandNotAllowed, Token: verb}
	}

	for _, keyword := range v.policy.BlockedKeywords {
		if keyword != "" && strings.Contains(normalized, keyword) {
			return "", &Rejection{Reason: ReasonBlockedKeyword, Token: keyword}
		}
	}
	return raw, nil
}

// ValidateInput validates the "query" field of a tool call's decoded arguments.
func (v *Validator) ValidateInput(input map[string]any) (string, error) {
	value, ok := input["query"]
	if !ok {
		return "", &Rejection{Reason: ReasonInvalidInput}
	}
	raw, ok := value.(string)
	if !ok {
		return "", &Rejection{Reason: ReasonInvalidInput}
	}
	return v.Validate(raw)
}

func firstToken(normalized string) string {
	fields := strings.Fields(normalized)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
