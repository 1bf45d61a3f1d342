package sqlite

import (
	"context"
	"time"

	"github.com/quillcv/twofactor/internal/twofactor/domain"
)

type policiesRepo struct {
	db dbtx
}

// The policy table is a singleton row seeded by the initial migration, so
// reads never miss.
func (r *policiesRepo) GetPolicy(ctx context.Context) (domain.Policy, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT require_for_admins, require_for_all_users, remember_device_days, updated_at
		FROM policy
		WHERE id = 1`)

	var p domain.Policy
	err := row.Scan(&p.RequireForAdmins, &p.RequireForAllUsers, &p.RememberDeviceDays, &p.UpdatedAt)
	if err != nil {
		return domain.Policy{}, mapNotFound(err)
	}
	return p, nil
}

func (r *policiesRepo) UpdatePolicy(ctx context.Context, p domain.Policy) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE policy
		SET require_for_admins = ?, require_for_all_users = ?,
		    remember_device_days = ?, updated_at = ?
		WHERE id = 1`,
		p.RequireForAdmins, p.RequireForAllUsers, p.RememberDeviceDays, time.Now().UTC())
	if err != nil {
		return err
	}
	return requireRow(res)
}
