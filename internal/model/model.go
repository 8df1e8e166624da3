package model

import (
	"context"
	"time"
)

// OperatorRole represents an operator's access level.
type OperatorRole string

const (
	// RoleEvaluator can pull pending submissions and publish results.
	RoleEvaluator OperatorRole = "evaluator"
	// RoleCreator can publish exams.
	RoleCreator OperatorRole = "creator"
	// RoleAdmin can do everything, including managing operators.
	RoleAdmin OperatorRole = "admin"
)

// Operator is a staff account (evaluator, creator or admin). Students never
// have an operator account; they are known only by their FINAL_HASH.
type Operator struct {
	ID           int64        `json:"id"`
	Username     string       `json:"username"`
	DisplayName  string       `json:"displayName"`
	PasswordHash string       `json:"-"`
	Role         OperatorRole `json:"role"`
	Active       bool         `json:"active"`
	CreatedAt    time.Time    `json:"createdAt"`
}

// AuthSession represents a bearer token issued to an operator.
type AuthSession struct {
	ID         string
	OperatorID int64
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

type operatorCtxKey struct{}

// ContextWithOperator stores an operator in the request context.
func ContextWithOperator(ctx context.Context, op *Operator) context.Context {
	return context.WithValue(ctx, operatorCtxKey{}, op)
}

// OperatorFromContext retrieves the authenticated operator from context, or nil.
func OperatorFromContext(ctx context.Context) *Operator {
	op, _ := ctx.Value(operatorCtxKey{}).(*Operator)
	return op
}

// ServerConfig holds runtime parameters set via CLI flags.
type ServerConfig struct {
	Lang              string
	PassThreshold     int    // default pass percentage when an exam sets none
	PromptVariant     string // grading hint prompt variant (strict, standard, lenient)
	SuggestionsActive bool   // true when an LLM endpoint is configured
}
