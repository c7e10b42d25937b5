// Package vip implements the VIP membership seam spec.md section 4.8
// and SPEC_FULL.md's non-goals describe: IngressAdapter consults a
// plain set in the KV store and reports the result as isVip on the
// join ack (no endpoint is gated on it), and membership is fail-open -- a KV error grants access rather than
// denying it, since this is an access convenience, not a security
// boundary (the actual CRUD/auth endpoints are out of scope collaborators).
package vip

import (
	"context"

	"go.uber.org/zap"
)

// Set is the narrow membership-check primitive this package needs; the
// actual VIP cohort (populated by the out-of-scope CSV-upload
// collaborator) lives behind this seam.
type Set interface {
	IsMember(ctx context.Context, userID string) (bool, error)
}

// Checker wraps a Set with the fail-open policy.
type Checker struct {
	set Set
	log *zap.Logger
}

// New builds a Checker.
func New(set Set, log *zap.Logger) *Checker {
	return &Checker{set: set, log: log}
}

// IsVIP reports whether userID is a VIP member. On a KV error it logs
// a warning and returns true, per spec.md section 4.8's "fail-open on
// KV errors."
func (c *Checker) IsVIP(ctx context.Context, userID string) bool {
	ok, err := c.set.IsMember(ctx, userID)
	if err != nil {
		c.log.Warn("vip membership check failed, failing open", zap.String("userId", userID), zap.Error(err))
		return true
	}
	return ok
}
