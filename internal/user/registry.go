package user

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"gold-bot/internal/models"
	"gold-bot/internal/xerrors"
)

// Store persists users. The email column carries a case-insensitive unique
// constraint; InsertUser reports a violation as xerrors.ErrDuplicateKey.
type Store interface {
	UserByEmail(ctx context.Context, email string) (*models.User, error)
	UserByID(ctx context.Context, id int64) (*models.User, error)
	InsertUser(ctx context.Context, u *models.User) error
	// MergeUserContact overwrites name and phone only when the new value is
	// non-empty and bumps updated_at.
	MergeUserContact(ctx context.Context, id int64, name, phone string) (*models.User, error)
}

// Registry is the only writer of user rows.
type Registry struct {
	store Store
}

func NewRegistry(store Store) *Registry {
	return &Registry{store: store}
}

// GetOrCreate resolves the user owning email, creating it on first sight.
// A concurrent insert of the same email loses the race quietly and falls
// back to a lookup and merge.
func (r *Registry) GetOrCreate(ctx context.Context, email, name, phone string) (*models.User, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	phone = strings.TrimSpace(phone)

	u, err := r.merge(ctx, email, name, phone)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, xerrors.ErrUserNotFound) {
		return nil, err
	}

	u = &models.User{Email: email, Name: name, Phone: phone}
	err = r.store.InsertUser(ctx, u)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, xerrors.ErrDuplicateKey) {
		return nil, xerrors.Persistence(fmt.Errorf("insert user: %w", err))
	}

	// Lost the race to a concurrent insert: retry once as a lookup.
	return r.merge(ctx, email, name, phone)
}

// ByID returns the user with id or xerrors.ErrUserNotFound.
func (r *Registry) ByID(ctx context.Context, id int64) (*models.User, error) {
	u, err := r.store.UserByID(ctx, id)
	if err != nil {
		if errors.Is(err, xerrors.ErrUserNotFound) {
			return nil, err
		}
		return nil, xerrors.Persistence(fmt.Errorf("get user %d: %w", id, err))
	}
	return u, nil
}

func (r *Registry) merge(ctx context.Context, email, name, phone string) (*models.User, error) {
	existing, err := r.store.UserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, xerrors.ErrUserNotFound) {
			return nil, err
		}
		return nil, xerrors.Persistence(fmt.Errorf("get user by email: %w", err))
	}

	u, err := r.store.MergeUserContact(ctx, existing.ID, name, phone)
	if err != nil {
		return nil, xerrors.Persistence(fmt.Errorf("merge user %d: %w", existing.ID, err))
	}
	return u, nil
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", xerrors.ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", xerrors.ErrInvalidEmail
	}
	return email, nil
}
