package user

import (
	"context"
	"errors"

	"github.com/irfndi/AetherStake/internal/database"
	"github.com/irfndi/AetherStake/internal/models"
	"gorm.io/gorm"
)

// Known roles
const (
	RoleUser   = "user"
	RoleFunder = "funder"
	RoleAdmin  = "admin"
)

// UserRepository interface defines user database operations
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByAddress(ctx context.Context, address string) (*models.User, error)
	Update(ctx context.Context, user *models.User) error
	List(ctx context.Context, limit, offset int) ([]*models.User, error)
	AddRole(ctx context.Context, address, role string) error
	RemoveRole(ctx context.Context, address, role string) error
	HasRole(ctx context.Context, address, role string) (bool, error)
}

// userRepository implements UserRepository interface
type userRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

// Create creates a new user
func (r *userRepository) Create(ctx context.Context, user *models.User) error {
	if user == nil {
		return errors.New("user cannot be nil")
	}
	return database.Conn(ctx, r.db).Create(user).Error
}

// GetByAddress retrieves a user by their address
func (r *userRepository) GetByAddress(ctx context.Context, address string) (*models.User, error) {
	if address == "" {
		return nil, errors.New("address cannot be empty")
	}

	var user models.User
	err := database.Conn(ctx, r.db).Where("address = ?", address).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

// Update updates an existing user
func (r *userRepository) Update(ctx context.Context, user *models.User) error {
	if user == nil {
		return errors.New("user cannot be nil")
	}
	return database.Conn(ctx, r.db).Save(user).Error
}

// List retrieves users with pagination
func (r *userRepository) List(ctx context.Context, limit, offset int) ([]*models.User, error) {
	var users []*models.User
	err := database.Conn(ctx, r.db).Limit(limit).Offset(offset).Find(&users).Error
	return users, err
}

// AddRole adds a role to a user, creating the user when unknown
func (r *userRepository) AddRole(ctx context.Context, address, role string) error {
	if address == "" || role == "" {
		return errors.New("address and role cannot be empty")
	}

	user, err := r.GetByAddress(ctx, address)
	if err != nil {
		return err
	}
	if user == nil {
		return r.Create(ctx, &models.User{Address: address, Roles: []string{RoleUser, role}})
	}

	// Check if role already exists
	for _, existingRole := range user.Roles {
		if existingRole == role {
			return nil
		}
	}

	user.Roles = append(user.Roles, role)
	return r.Update(ctx, user)
}

// RemoveRole removes a role from a user
func (r *userRepository) RemoveRole(ctx context.Context, address, role string) error {
	if address == "" || role == "" {
		return errors.New("address and role cannot be empty")
	}

	user, err := r.GetByAddress(ctx, address)
	if err != nil {
		return err
	}
	if user == nil {
		return gorm.ErrRecordNotFound
	}

	var newRoles []string
	for _, existingRole := range user.Roles {
		if existingRole != role {
			newRoles = append(newRoles, existingRole)
		}
	}

	user.Roles = newRoles
	return r.Update(ctx, user)
}

// HasRole reports whether an active user holds role
func (r *userRepository) HasRole(ctx context.Context, address, role string) (bool, error) {
	user, err := r.GetByAddress(ctx, address)
	if err != nil || user == nil {
		return false, err
	}
	if user.IsActive != nil && !*user.IsActive {
		return false, nil
	}
	for _, existingRole := range user.Roles {
		if existingRole == role {
			return true, nil
		}
	}
	return false, nil
}
