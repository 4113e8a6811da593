package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"aircast/internal/model"
	"aircast/internal/repository"
)

// SubscriptionService owns subscription identity and lifecycle. The
// presented credential is an opaque client-generated token; the store holds
// only a salted hash, so authentication is either an O(1) verify against a
// claimed id or a deliberate O(n) scan at session bootstrap.
type SubscriptionService struct {
	repo   repository.SubscriptionRepository
	hasher *TokenHasher
}

func NewSubscriptionService(repo repository.SubscriptionRepository, hasher *TokenHasher) *SubscriptionService {
	return &SubscriptionService{
		repo:   repo,
		hasher: hasher,
	}
}

// Create registers a new subscription for a session token. If the token
// already owns a record, that record is returned instead of inserting a
// duplicate, so FindBySessionToken can only ever match one row.
func (s *SubscriptionService) Create(ctx context.Context, req *model.SubscribeRequest) (id string, existing bool, err error) {
	found, err := s.FindBySessionToken(ctx, req.SessionToken)
	if err != nil {
		return "", false, err
	}
	if found != nil {
		log.Printf("[SubscriptionService] Session already subscribed as %s, reusing record", found.ID)
		return found.ID, true, nil
	}

	tokenHash, err := s.hasher.Hash(req.SessionToken)
	if err != nil {
		return "", false, err
	}

	id, err = s.repo.Create(ctx, tokenHash, req.Latitude, req.Longitude, req.NotificationsEnabled, req.PushSubscription)
	if err != nil {
		return "", false, fmt.Errorf("create subscription: %w", err)
	}
	return id, false, nil
}

// VerifyToken checks a presented token against the record claimed by id.
// Unknown id, wrong token and no match all return false identically; the
// unknown-id path still performs one hash comparison so callers cannot
// distinguish the cases by timing.
func (s *SubscriptionService) VerifyToken(ctx context.Context, id, token string) (bool, error) {
	sub, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, model.ErrSubscriptionNotFound) {
		s.hasher.VerifyDummy(token)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return s.hasher.Verify(token, sub.SessionTokenHash), nil
}

// FindBySessionToken resolves a token with no claimed id by scanning every
// stored record and attempting a verify against each one. Cost is
// O(records × hash-cost); it serves only the session bootstrap path and is
// rate limited at the transport, never called during a broadcast.
// Returns (nil, nil) when no record matches.
func (s *SubscriptionService) FindBySessionToken(ctx context.Context, token string) (*model.Subscription, error) {
	subs, err := s.repo.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	for i := range subs {
		if s.hasher.Verify(token, subs[i].SessionTokenHash) {
			return &subs[i], nil
		}
	}
	return nil, nil
}

// GetByID fetches a record. Returns model.ErrSubscriptionNotFound when absent.
func (s *SubscriptionService) GetByID(ctx context.Context, id string) (*model.Subscription, error) {
	return s.repo.GetByID(ctx, id)
}

// Update applies a partial, field-level update. The caller must have
// verified the session token for this id first.
func (s *SubscriptionService) Update(ctx context.Context, id string, upd *model.SubscriptionUpdate) error {
	return s.repo.Update(ctx, id, upd)
}

// Delete destroys a record. Idempotent. The caller must have verified the
// session token for this id first.
func (s *SubscriptionService) Delete(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, id)
}

// ListActive returns every record included in broadcasts.
func (s *SubscriptionService) ListActive(ctx context.Context) ([]model.Subscription, error) {
	return s.repo.ListActive(ctx)
}
