package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/quillcv/twofactor/internal/twofactor/domain"
	"github.com/quillcv/twofactor/internal/twofactor/store"
)

// PolicyService resolves whether two-factor is mandatory for an account and
// manages the admin-editable organization policy record.
type PolicyService struct {
	Store  store.Store
	Logger *slog.Logger
}

// Required reports whether the given policy snapshot mandates 2FA for an
// account with the given role. Pure function: callers inject the snapshot, so
// a policy change mid-request cannot split a decision.
func (s *PolicyService) Required(policy domain.Policy, isAdmin bool) bool {
	if policy.RequireForAllUsers {
		return true
	}
	return policy.RequireForAdmins && isAdmin
}

// Get returns the current organization policy.
func (s *PolicyService) Get(ctx context.Context) (domain.Policy, error) {
	policy, err := s.Store.Policies().GetPolicy(ctx)
	if err != nil {
		return domain.Policy{}, fmt.Errorf("failed to load policy: %w", err)
	}
	return policy, nil
}

// Update validates and rewrites the organization policy.
func (s *PolicyService) Update(ctx context.Context, p domain.Policy) error {
	if p.RememberDeviceDays < 1 || p.RememberDeviceDays > 365 {
		return fmt.Errorf("remember_device_days must be 1-365, got %d", p.RememberDeviceDays)
	}

	if err := s.Store.Policies().UpdatePolicy(ctx, p); err != nil {
		return fmt.Errorf("failed to update policy: %w", err)
	}

	s.Logger.Info("organization two-factor policy updated",
		"require_for_admins", p.RequireForAdmins,
		"require_for_all_users", p.RequireForAllUsers,
		"remember_device_days", p.RememberDeviceDays,
	)
	return nil
}
