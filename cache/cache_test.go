package cache

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/vitwit/payterm/types"
)

// cacheSuite runs the same behaviour checks against every Cache.
type cacheSuite struct {
	suite.Suite
	newCache func() Cache
	mr       *miniredis.Miniredis
}

func (s *cacheSuite) SetupTest() {
	if s.mr != nil {
		s.mr.FlushAll()
	}
}

func (s *cacheSuite) TestSetGetDelete() {
	ctx := context.Background()
	c := s.newCache()

	in := MerchantProfile{Name: "Cafe", Location: "Main St"}
	s.Require().NoError(c.Set(ctx, "k", in, 0))

	var out MerchantProfile
	s.Require().NoError(c.Get(ctx, "k", &out))
	s.Equal(in, out)

	s.Require().NoError(c.Delete(ctx, "k"))
	s.ErrorIs(c.Get(ctx, "k", &out), ErrMiss)
}

func (s *cacheSuite) TestMiss() {
	var out MerchantProfile
	s.ErrorIs(s.newCache().Get(context.Background(), "absent", &out), ErrMiss)
}

func (s *cacheSuite) TestProfileStore() {
	ctx := context.Background()
	store := NewProfileStore(s.newCache())

	empty, err := store.Load(ctx)
	s.Require().NoError(err)
	s.Equal(MerchantProfile{}, empty)

	s.Require().NoError(store.Save(ctx, MerchantProfile{Name: " Cafe ", Location: "Main St"}))

	req := types.CreateTransactionRequest{Amount: big.NewInt(1), MerchantLocation: "Pier 3"}
	s.Require().NoError(store.Apply(ctx, &req))
	s.Equal("Cafe", req.MerchantName)
	s.Equal("Pier 3", req.MerchantLocation)

	s.Require().NoError(store.Clear(ctx))
	p, err := store.Load(ctx)
	s.Require().NoError(err)
	s.Empty(p.Name)
}

func TestMemoryCache(t *testing.T) {
	suite.Run(t, &cacheSuite{newCache: func() Cache { return NewMemoryCache(0, time.Minute) }})
}

func TestRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	suite.Run(t, &cacheSuite{mr: mr, newCache: func() Cache { return NewRedisCache(client) }})
}

func TestRedisCacheStoresUnderProfileKey(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := NewRedisCacheFromURL(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, NewProfileStore(c).Save(context.Background(), MerchantProfile{Name: "Deli"}))
	raw, err := mr.Get(ProfileKey)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Deli","location":""}`, raw)
}

func TestMemoryCacheTTL(t *testing.T) {
	c := NewMemoryCache(0, time.Millisecond)
	require.NoError(t, c.Set(context.Background(), "k", 1, 5*time.Millisecond))
	require.Eventually(t, func() bool {
		var v int
		return c.Get(context.Background(), "k", &v) == ErrMiss
	}, time.Second, time.Millisecond)
}
