package memory

import (
	"context"
	"sort"

	"github.com/chris/classifieds-wallet/pkg/models"
	"github.com/chris/classifieds-wallet/pkg/storage"
)

func copyTopUp(req *models.TopUpRequest) *models.TopUpRequest {
	c := *req
	if req.ResolvedAt != nil {
		t := *req.ResolvedAt
		c.ResolvedAt = &t
	}
	return &c
}

func (s *Store) CreateTopUp(ctx context.Context, req *models.TopUpRequest) (*models.TopUpRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := storage.TopUpKey(req.AccountId, req.Method, req.Reference)
	if key != "" {
		if _, ok := s.topUpRefs[key]; ok {
			return nil, storage.ErrDuplicateReference
		}
		s.topUpRefs[key] = req.Id
	}
	s.topUps[req.Id] = copyTopUp(req)
	return req, nil
}

func (s *Store) FindTopUpByReference(ctx context.Context, accountID string, method models.TopUpMethod, reference string) (*models.TopUpRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.topUpRefs[storage.TopUpKey(accountID, method, reference)]
	if !ok {
		return nil, storage.ErrTopUpNotFound
	}
	return copyTopUp(s.topUps[id]), nil
}

func (s *Store) GetTopUp(ctx context.Context, requestID string) (*models.TopUpRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req, ok := s.topUps[requestID]
	if !ok {
		return nil, storage.ErrTopUpNotFound
	}
	return copyTopUp(req), nil
}

func (s *Store) ListTopUps(ctx context.Context, filter storage.TopUpFilter) ([]models.TopUpRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []models.TopUpRequest{}
	for _, req := range s.topUps {
		if filter.Matches(req) {
			result = append(result, *copyTopUp(req))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].Id > result[j].Id
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (s *Store) UpdateTopUp(ctx context.Context, req *models.TopUpRequest, expectedStatus models.TopUpStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.topUps[req.Id]
	if !ok {
		return storage.ErrTopUpNotFound
	}
	if stored.Status != expectedStatus || stored.Version != req.Version {
		return storage.ErrStatusConflict
	}

	req.Version++
	s.topUps[req.Id] = copyTopUp(req)
	return nil
}

func (s *Store) AddConnection(ctx context.Context, connectionID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.connections[connectionID] = userID
	return nil
}

func (s *Store) RemoveConnection(ctx context.Context, connectionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.connections, connectionID)
	return nil
}

func (s *Store) GetConnections(ctx context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for connID, owner := range s.connections {
		if owner == userID {
			ids = append(ids, connID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}
