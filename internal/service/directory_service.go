package service

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"pingup/internal/constants"
	apperrors "pingup/internal/errors"
	"pingup/internal/metrics"
	"pingup/internal/models"
	"pingup/internal/validation"

	"github.com/sirupsen/logrus"
)

// DirectoryDatabaseService defines the database operations needed by DirectoryService
type DirectoryDatabaseService interface {
	GetUserProfile(ctx context.Context, userID string) (*models.UserProfile, error)
	SaveUserProfile(ctx context.Context, profile *models.UserProfile) error
	DeleteUserProfile(ctx context.Context, userID string) error
	UsernameTaken(ctx context.Context, username, exceptID string) (bool, error)
}

// ProfileResolver looks up user display info.
type ProfileResolver interface {
	GetProfile(ctx context.Context, userID string) (*models.UserProfile, error)
}

// DirectoryService serves user profiles from a short-lived in-memory cache
// over the users table, and applies identity provider user events to it.
type DirectoryService struct {
	db       DirectoryDatabaseService
	cacheTTL time.Duration
	logger   *logrus.Logger
	now      func() time.Time

	mu    sync.RWMutex
	cache map[string]*models.UserProfile
}

// NewDirectoryService creates a directory with the given cache lifetime.
func NewDirectoryService(db DirectoryDatabaseService, cacheMinutes int, logger *logrus.Logger) *DirectoryService {
	if cacheMinutes <= 0 {
		cacheMinutes = constants.DefaultProfileCacheMinutes
	}
	return &DirectoryService{
		db:       db,
		cacheTTL: time.Duration(cacheMinutes) * time.Minute,
		logger:   logger,
		now:      time.Now,
		cache:    make(map[string]*models.UserProfile),
	}
}

// GetProfile returns the profile of userID or a NotFoundError.
func (s *DirectoryService) GetProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	s.mu.RLock()
	cached, ok := s.cache[userID]
	s.mu.RUnlock()
	if ok && s.now().Sub(cached.CachedAt) < s.cacheTTL {
		metrics.IncrementCounter("directory_cache_hits_total", nil, "Profile lookups served from cache")
		return cached, nil
	}

	profile, err := s.db.GetUserProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, apperrors.NewNotFoundError("user", userID)
	}

	profile.CachedAt = s.now()
	s.mu.Lock()
	s.cache[userID] = profile
	s.mu.Unlock()
	return profile, nil
}

// ProfileOrPlaceholder returns the profile of userID, or a profile carrying
// only the id when it cannot be resolved. Display paths use it so a missing
// profile never hides a message.
func (s *DirectoryService) ProfileOrPlaceholder(ctx context.Context, userID string) *models.UserProfile {
	profile, err := s.GetProfile(ctx, userID)
	if err != nil {
		if !apperrors.IsNotFound(err) {
			LogWithContext(ctx, s.logger).WithError(err).
				WithField(LogFieldUserID, SanitizeUserID(ctx, userID)).
				Warn("Failed to resolve user profile")
		}
		return &models.UserProfile{ID: userID}
	}
	return profile
}

// Invalidate drops userID from the cache.
func (s *DirectoryService) Invalidate(userID string) {
	s.mu.Lock()
	delete(s.cache, userID)
	s.mu.Unlock()
}

// ApplyUserEvent syncs the users table with an identity provider event.
func (s *DirectoryService) ApplyUserEvent(ctx context.Context, event models.UserEvent) error {
	if err := validation.ValidateUserID("id", event.Data.ID); err != nil {
		return err
	}
	defer s.Invalidate(event.Data.ID)

	switch event.Type {
	case models.UserEventCreated, models.UserEventUpdated:
		return s.upsertUser(ctx, event)
	case models.UserEventDeleted:
		if err := s.db.DeleteUserProfile(ctx, event.Data.ID); err != nil {
			return err
		}
		LogWithContext(ctx, s.logger).
			WithField(LogFieldUserID, SanitizeUserID(ctx, event.Data.ID)).
			Info("User removed from directory")
		return nil
	default:
		return apperrors.NewValidationError("type", event.Type, "unsupported user event type")
	}
}

func (s *DirectoryService) upsertUser(ctx context.Context, event models.UserEvent) error {
	data := event.Data
	existing, err := s.db.GetUserProfile(ctx, data.ID)
	if err != nil {
		return err
	}

	profile := &models.UserProfile{
		ID:             data.ID,
		Email:          data.PrimaryEmail(),
		FullName:       data.FullName(),
		ProfilePicture: data.ImageURL,
	}
	// Usernames are chosen once, on creation. Updates keep the existing one.
	if existing != nil && existing.Username != "" {
		profile.Username = existing.Username
	} else {
		profile.Username, err = s.chooseUsername(ctx, data.ID, profile.Email)
		if err != nil {
			return err
		}
	}

	if err := s.db.SaveUserProfile(ctx, profile); err != nil {
		return err
	}

	LogWithContext(ctx, s.logger).WithFields(logrus.Fields{
		LogFieldUserID:    SanitizeUserID(ctx, data.ID),
		LogFieldOperation: event.Type,
	}).Info("User synced to directory")
	return nil
}

// chooseUsername derives a username from the email's local part and adds
// a random numeric suffix when another user already holds it.
func (s *DirectoryService) chooseUsername(ctx context.Context, userID, email string) (string, error) {
	base, _, _ := strings.Cut(email, "@")
	base = strings.ToLower(strings.TrimSpace(base))
	if base == "" {
		base = "user"
	}

	taken, err := s.db.UsernameTaken(ctx, base, userID)
	if err != nil {
		return "", err
	}
	if !taken {
		return base, nil
	}
	return fmt.Sprintf("%s%d", base, rand.IntN(10000)), nil
}
