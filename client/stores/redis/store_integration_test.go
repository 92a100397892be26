//go:build integration

package redis_test

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	"github.com/panyam/portalauth/client"
	"github.com/panyam/portalauth/client/stores/redis"
)

type RedisStoreSuite struct {
	suite.Suite
	rdb   *goredis.Client
	store *redis.CredentialStore
}

func TestRedisStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	s.rdb = goredis.NewClient(&goredis.Options{Addr: addr})
	if err := s.rdb.Ping(context.Background()).Err(); err != nil {
		s.T().Skipf("redis not reachable at %s: %v", addr, err)
	}
}

func (s *RedisStoreSuite) TearDownSuite() {
	if s.rdb != nil {
		s.rdb.Close()
	}
}

func (s *RedisStoreSuite) SetupTest() {
	store, err := redis.NewCredentialStore(s.rdb, "http://localhost:8080", redis.WithKeyPrefix("test-"+uuid.NewString()+":"))
	s.Require().NoError(err)
	s.store = store
}

func (s *RedisStoreSuite) TearDownTest() {
	s.rdb.Del(context.Background(), s.store.Key())
}

func (s *RedisStoreSuite) TestEmptyStore() {
	creds, err := s.store.Load()
	s.Require().NoError(err)
	s.True(creds.IsZero())
}

func (s *RedisStoreSuite) TestRefreshSemantics() {
	s.Require().NoError(s.store.Save("a1", client.Refresh("r1")))
	s.Require().NoError(s.store.Save("a2", nil))

	creds, err := s.store.Load()
	s.Require().NoError(err)
	s.Equal(client.Credentials{AccessToken: "a2", RefreshToken: "r1"}, creds)

	s.Require().NoError(s.store.Save("a3", client.Refresh("")))
	creds, _ = s.store.Load()
	s.Equal(client.Credentials{AccessToken: "a3"}, creds)
}

func (s *RedisStoreSuite) TestClearIsIdempotent() {
	s.Require().NoError(s.store.Save("a1", client.Refresh("r1")))
	s.Require().NoError(s.store.Clear())
	s.Require().NoError(s.store.Clear())

	creds, _ := s.store.Load()
	s.True(creds.IsZero())
}
