package user

import (
	"context"
	"strings"

	"github.com/irfndi/AetherStake/internal/models"
)

// RoleFunderPolicy lets the pool owner and any holder of the funder role
// add rewards to a pool
type RoleFunderPolicy struct {
	repo UserRepository
}

// NewRoleFunderPolicy creates a funder policy backed by user roles
func NewRoleFunderPolicy(repo UserRepository) *RoleFunderPolicy {
	return &RoleFunderPolicy{repo: repo}
}

// CanFund reports whether caller may add rewards to pool
func (p *RoleFunderPolicy) CanFund(ctx context.Context, pool *models.StakingPool, caller string) (bool, error) {
	if strings.EqualFold(pool.Owner, caller) {
		return true, nil
	}
	return p.repo.HasRole(ctx, caller, RoleFunder)
}
