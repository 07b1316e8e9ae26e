package database

import (
	"context"
	"database/sql"
	"errors"

	apperrors "pingup/internal/errors"
	"pingup/internal/models"
)

// GetUserProfile returns the profile for userID, or nil if it is unknown.
func (d *Database) GetUserProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	var profile models.UserProfile
	err := d.db.QueryRowContext(ctx, SelectUserProfileQuery, userID).Scan(
		&profile.ID,
		&profile.Email,
		&profile.FullName,
		&profile.Username,
		&profile.ProfilePicture,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("get user profile", err)
	}
	return &profile, nil
}

// SaveUserProfile writes a profile. Profiles are owned by the profile
// service; this is its sync entry point.
func (d *Database) SaveUserProfile(ctx context.Context, profile *models.UserProfile) error {
	err := retryableDBOperationNoReturn(ctx, func() error {
		_, err := d.db.ExecContext(ctx, UpsertUserProfileQuery,
			profile.ID,
			profile.Email,
			profile.FullName,
			profile.Username,
			profile.ProfilePicture,
			d.utcNow(),
		)
		return err
	}, "save user profile")
	if err != nil {
		return apperrors.NewDatabaseError("save user profile", err)
	}
	return nil
}

// DeleteUserProfile removes a profile. Deleting an unknown user is not an error.
func (d *Database) DeleteUserProfile(ctx context.Context, userID string) error {
	err := retryableDBOperationNoReturn(ctx, func() error {
		_, err := d.db.ExecContext(ctx, DeleteUserProfileQuery, userID)
		return err
	}, "delete user profile")
	if err != nil {
		return apperrors.NewDatabaseError("delete user profile", err)
	}
	return nil
}

// UsernameTaken reports whether a user other than exceptID holds username.
func (d *Database) UsernameTaken(ctx context.Context, username, exceptID string) (bool, error) {
	var taken bool
	if err := d.db.QueryRowContext(ctx, UsernameTakenQuery, username, exceptID).Scan(&taken); err != nil {
		return false, apperrors.NewDatabaseError("check username", err)
	}
	return taken, nil
}

// GetConnection returns the connection, or nil if it does not exist.
func (d *Database) GetConnection(ctx context.Context, connectionID string) (*models.Connection, error) {
	var conn models.Connection
	err := d.db.QueryRowContext(ctx, SelectConnectionQuery, connectionID).Scan(
		&conn.ID,
		&conn.FromUserID,
		&conn.ToUserID,
		&conn.Status,
		&conn.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("get connection", err)
	}
	return &conn, nil
}

// SaveConnection writes a connection; on conflict only the status changes.
// Connections are owned by the social graph service; this is its sync entry point.
func (d *Database) SaveConnection(ctx context.Context, conn *models.Connection) error {
	createdAt := conn.CreatedAt
	if createdAt.IsZero() {
		createdAt = d.utcNow()
	}

	err := retryableDBOperationNoReturn(ctx, func() error {
		_, err := d.db.ExecContext(ctx, UpsertConnectionQuery,
			conn.ID,
			conn.FromUserID,
			conn.ToUserID,
			conn.Status,
			createdAt.UTC(),
		)
		return err
	}, "save connection")
	if err != nil {
		return apperrors.NewDatabaseError("save connection", err)
	}
	return nil
}
