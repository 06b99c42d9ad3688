package services

import (
	"context"
	"time"
)

// Access right levels as stored in the tenant matrix.
const (
	AccessNone     = "none"
	AccessReadOnly = "read_only"
	AccessFull     = "full"
)

// AccessControlService evaluates the tenant access matrix. Read access may be
// relaxed globally by policy; upload and delete always follow the matrix.
type AccessControlService interface {
	CheckSectionAccess(subscriptionType, section, required string) bool
	AllowedSections(subscriptionType string) []string
	CanUpload(subscriptionType, section string) bool
	CanDelete(subscriptionType, section string) bool
	AccessSummary(subscriptionType string) map[string]string
	KnownSection(section string) bool
}

// RateDecision is the outcome of one rate limit check.
type RateDecision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// RateLimiter gates inbound chat/search per principal with a sliding window.
// Limits scale by access level.
type RateLimiter interface {
	Allow(ctx context.Context, userID, accessLevel string) (*RateDecision, error)
}
