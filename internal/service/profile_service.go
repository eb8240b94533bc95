package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pledgefund/backend/internal/auth"
	"github.com/pledgefund/backend/internal/models"
	"github.com/pledgefund/backend/internal/storage"
)

// ProfileInput is the creation payload for a billing profile. The card
// number is consumed here and never stored.
type ProfileInput struct {
	NameFirst  string
	NameLast   string
	Address    string
	City       string
	State      string
	Zip        string
	Employer   string
	Occupation string

	CardNumber   string
	GatewayToken string
}

// ProfileService manages immutable billing profiles and their notifications.
type ProfileService struct {
	store storage.Store
}

// NewProfileService creates a ProfileService.
func NewProfileService(store storage.Store) *ProfileService {
	return &ProfileService{store: store}
}

// CreateProfile validates the input, reduces the card number to a hash plus
// its last four digits, and stores the profile. Profiles are immutable:
// corrections mean a new profile.
func (s *ProfileService) CreateProfile(ctx context.Context, input *ProfileInput) (*models.Profile, error) {
	lastFour, err := auth.LastFour(input.CardNumber)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	cardHash, err := auth.HashCard(input.CardNumber)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	profile := &models.Profile{
		NameFirst:    input.NameFirst,
		NameLast:     input.NameLast,
		Address:      input.Address,
		City:         input.City,
		State:        input.State,
		Zip:          input.Zip,
		Employer:     input.Employer,
		Occupation:   input.Occupation,
		CardLastFour: lastFour,
		CardHash:     cardHash,
		GatewayToken: input.GatewayToken,
	}
	if err := profile.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := s.store.CreateProfile(ctx, profile); err != nil {
		return nil, err
	}

	slog.Info("profile created", "profile_id", profile.ID)
	return profile, nil
}

// GetProfile returns a stored profile.
func (s *ProfileService) GetProfile(ctx context.Context, id string) (*models.Profile, error) {
	return s.store.GetProfile(ctx, id)
}

// FindByCard locates the profile for a full card number: the last four
// digits narrow the candidates, the bcrypt hash confirms the match.
func (s *ProfileService) FindByCard(ctx context.Context, cardNumber string) (*models.Profile, error) {
	lastFour, err := auth.LastFour(cardNumber)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	candidates, err := s.store.ProfilesByCardLastFour(ctx, lastFour)
	if err != nil {
		return nil, err
	}
	for _, p := range candidates {
		if auth.MatchCard(p.CardHash, cardNumber) {
			return p, nil
		}
	}
	return nil, storage.ErrNotFound
}

// Notifications lists a profile's notifications, newest first.
func (s *ProfileService) Notifications(ctx context.Context, profileID string) ([]*models.Notification, error) {
	if _, err := s.store.GetProfile(ctx, profileID); err != nil {
		return nil, err
	}
	return s.store.NotificationsByProfile(ctx, profileID)
}

// AcknowledgeNotification marks one notification read and returns the
// profile's refreshed list. Acknowledging twice is a no-op.
func (s *ProfileService) AcknowledgeNotification(ctx context.Context, id string) ([]*models.Notification, error) {
	notifications, err := s.store.AcknowledgeNotification(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to acknowledge notification %s: %w", id, err)
	}
	return notifications, nil
}
