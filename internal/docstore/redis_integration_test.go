//go:build integration

package docstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"anchorid/internal/docstore"
	"anchorid/pkg/testutil/containers"
)

type RedisStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *docstore.Redis
}

func TestRedisStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	s.redis = containers.NewRedisContainer(s.T())
	s.store = docstore.NewRedis(s.redis.Client)
}

func (s *RedisStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisStoreSuite) TestInsertGetRoundTrip() {
	ctx := context.Background()

	inserted, err := s.store.InsertIfAbsent(ctx, "did:example:abc", []byte(`{"owner":"alice"}`))
	s.Require().NoError(err)
	s.True(inserted)

	inserted, err = s.store.InsertIfAbsent(ctx, "did:example:abc", []byte(`{"owner":"bob"}`))
	s.Require().NoError(err)
	s.False(inserted)

	doc, err := s.store.Get(ctx, "did:example:abc")
	s.Require().NoError(err)
	s.JSONEq(`{"owner":"alice"}`, string(doc.Value))
	s.EqualValues(1, doc.Version)
}

func (s *RedisStoreSuite) TestVersionedUpdate() {
	ctx := context.Background()

	_, err := s.store.InsertIfAbsent(ctx, "k", []byte(`{"n":"1"}`))
	s.Require().NoError(err)

	ok, err := s.store.UpdateIfVersion(ctx, "k", []byte(`{"n":"2"}`), 1)
	s.Require().NoError(err)
	s.True(ok)

	ok, err = s.store.UpdateIfVersion(ctx, "k", []byte(`{"n":"3"}`), 1)
	s.Require().NoError(err)
	s.False(ok)

	_, err = s.store.UpdateIfVersion(ctx, "ghost", []byte(`{}`), 1)
	s.ErrorIs(err, docstore.ErrNotFound)
}

func (s *RedisStoreSuite) TestArraysAndQuery() {
	ctx := context.Background()

	length, err := s.store.AppendToArray(ctx, "reports:did:example:abc", []byte(`{"score":10}`))
	s.Require().NoError(err)
	s.Equal(1, length)

	length, err = s.store.AppendToArray(ctx, "reports:did:example:abc", []byte(`{"score":20}`))
	s.Require().NoError(err)
	s.Equal(2, length)

	items, err := s.store.ListArray(ctx, "reports:did:example:abc")
	s.Require().NoError(err)
	s.Len(items, 2)

	_, err = s.store.InsertIfAbsent(ctx, "did:example:1", []byte(`{"owner":"alice"}`))
	s.Require().NoError(err)
	_, err = s.store.InsertIfAbsent(ctx, "did:example:2", []byte(`{"owner":"bob"}`))
	s.Require().NoError(err)

	docs, err := s.store.QueryByField(ctx, "owner", "alice")
	s.Require().NoError(err)
	s.Len(docs, 1)
	s.Equal("did:example:1", docs[0].Key)
}
