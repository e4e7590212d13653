// internal/database/user_repository.go
package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"social-sync/internal/models"
	"social-sync/internal/store"
	"social-sync/internal/utils"
)

// UserDocument represents the stored public profile, keyed by user id.
type UserDocument struct {
	Name      string    `bson:"name"`
	Email     string    `bson:"email"`
	Avatar    string    `bson:"avatar"`
	Bio       string    `bson:"bio"`
	Username  string    `bson:"username"`
	CreatedAt time.Time `bson:"createdAt"`
}

// CredentialDocument holds login data, stored apart from the public profile.
type CredentialDocument struct {
	Email          string    `bson:"email"`
	HashedPassword string    `bson:"hashedPassword"`
	CreatedAt      time.Time `bson:"createdAt"`
}

// Credential is a stored login keyed by user id.
type Credential struct {
	UserID         string
	Email          string
	HashedPassword string
}

// GetProfile retrieves a user profile by id.
func (r *Repository) GetProfile(ctx context.Context, uid string) (*models.UserProfile, error) {
	fields, err := r.docs.GetDocument(ctx, UsersCollection, uid)
	if errors.Is(err, store.ErrNotFound) {
		return nil, utils.NewAppError(utils.ErrNotFound, "User not found: "+uid, err)
	}
	if err != nil {
		return nil, err
	}

	var doc UserDocument
	if err := decodeFields(fields, &doc); err != nil {
		return nil, fmt.Errorf("invalid user %s: %w", uid, err)
	}
	return &models.UserProfile{
		ID:        uid,
		Name:      doc.Name,
		Email:     doc.Email,
		Avatar:    doc.Avatar,
		Bio:       doc.Bio,
		Username:  doc.Username,
		CreatedAt: doc.CreatedAt,
	}, nil
}

// CreateProfile writes the initial profile for a newly registered user.
func (r *Repository) CreateProfile(ctx context.Context, uid, name, email string) error {
	return r.docs.SetDocument(ctx, UsersCollection, uid, store.Fields{
		"name":      name,
		"email":     email,
		"avatar":    "",
		"bio":       "",
		"username":  "",
		"createdAt": store.ServerTimestamp(),
	}, false)
}

// ProfileUpdate holds the editable profile fields.
type ProfileUpdate struct {
	Name  string
	Email string
	Bio   string
}

// UpdateProfile merges the editable fields into the stored profile.
func (r *Repository) UpdateProfile(ctx context.Context, uid string, u ProfileUpdate) error {
	return r.docs.SetDocument(ctx, UsersCollection, uid, store.Fields{
		"name":  u.Name,
		"email": u.Email,
		"bio":   u.Bio,
	}, true)
}

// SaveCredential stores a login. Emails are compared case-insensitively.
func (r *Repository) SaveCredential(ctx context.Context, c Credential) error {
	err := r.docs.SetDocument(ctx, CredentialsCollection, c.UserID, store.Fields{
		"email":          normalizeEmail(c.Email),
		"hashedPassword": c.HashedPassword,
		"createdAt":      store.ServerTimestamp(),
	}, false)
	if errors.Is(err, store.ErrAlreadyExists) {
		return utils.NewAppError(utils.ErrDuplicate, "Email already registered", err)
	}
	return err
}

// DeleteCredential removes the login stored for uid.
func (r *Repository) DeleteCredential(ctx context.Context, uid string) error {
	return r.docs.DeleteDocument(ctx, CredentialsCollection, uid)
}

// FindCredentialByEmail looks up a login by email.
func (r *Repository) FindCredentialByEmail(ctx context.Context, email string) (*Credential, error) {
	docs, err := r.docs.QueryCollection(ctx, CredentialsCollection, store.Query{
		Where: store.Fields{"email": normalizeEmail(email)},
		Limit: 1,
	})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, utils.NewAppError(utils.ErrNotFound, "No account for email", store.ErrNotFound)
	}

	var doc CredentialDocument
	if err := decodeFields(docs[0].Fields, &doc); err != nil {
		return nil, fmt.Errorf("invalid credential %s: %w", docs[0].ID, err)
	}
	return &Credential{UserID: docs[0].ID, Email: doc.Email, HashedPassword: doc.HashedPassword}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
