package cache

import (
	"context"
	"errors"
	"strings"

	"github.com/vitwit/payterm/types"
)

// ProfileKey is the single key the merchant profile lives under.
const ProfileKey = "payterm:merchant-profile"

// MerchantProfile is what the merchant typed last; new transactions default
// their merchant fields from it.
type MerchantProfile struct {
	Name     string `json:"name" validate:"max=128"`
	Location string `json:"location" validate:"max=128"`
}

type ProfileStore struct {
	cache Cache
}

func NewProfileStore(c Cache) *ProfileStore {
	return &ProfileStore{cache: c}
}

// Load returns the stored profile, or an empty one when nothing is stored.
func (s *ProfileStore) Load(ctx context.Context) (MerchantProfile, error) {
	var p MerchantProfile
	err := s.cache.Get(ctx, ProfileKey, &p)
	if errors.Is(err, ErrMiss) {
		return MerchantProfile{}, nil
	}
	return p, err
}

func (s *ProfileStore) Save(ctx context.Context, p MerchantProfile) error {
	p.Name = strings.TrimSpace(p.Name)
	p.Location = strings.TrimSpace(p.Location)
	return s.cache.Set(ctx, ProfileKey, p, 0)
}

func (s *ProfileStore) Clear(ctx context.Context) error {
	return s.cache.Delete(ctx, ProfileKey)
}

// Apply fills empty merchant fields of req from the stored profile.
func (s *ProfileStore) Apply(ctx context.Context, req *types.CreateTransactionRequest) error {
	if req.MerchantName != "" && req.MerchantLocation != "" {
		return nil
	}
	p, err := s.Load(ctx)
	if err != nil {
		return err
	}
	if req.MerchantName == "" {
		req.MerchantName = p.Name
	}
	if req.MerchantLocation == "" {
		req.MerchantLocation = p.Location
	}
	return nil
}
