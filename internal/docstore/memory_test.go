package docstore

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/suite"
)

type MemoryStoreSuite struct {
	suite.Suite
	ctx   context.Context
	store *Memory
}

func TestMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(MemoryStoreSuite))
}

func (s *MemoryStoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = NewMemory()
}

func (s *MemoryStoreSuite) TestInsertIfAbsent() {
	inserted, err := s.store.InsertIfAbsent(s.ctx, "did:example:abc", []byte(`{"owner":"alice"}`))
	s.Require().NoError(err)
	s.True(inserted)

	inserted, err = s.store.InsertIfAbsent(s.ctx, "did:example:abc", []byte(`{"owner":"mallory"}`))
	s.Require().NoError(err)
	s.False(inserted)

	doc, err := s.store.Get(s.ctx, "did:example:abc")
	s.Require().NoError(err)
	s.JSONEq(`{"owner":"alice"}`, string(doc.Value))
	s.EqualValues(1, doc.Version)
}

func (s *MemoryStoreSuite) TestGetMissing() {
	_, err := s.store.Get(s.ctx, "did:example:missing")
	s.ErrorIs(err, ErrNotFound)
}

func (s *MemoryStoreSuite) TestUpdateIfVersion() {
	_, err := s.store.InsertIfAbsent(s.ctx, "k", []byte(`{"n":"1"}`))
	s.Require().NoError(err)

	ok, err := s.store.UpdateIfVersion(s.ctx, "k", []byte(`{"n":"2"}`), 1)
	s.Require().NoError(err)
	s.True(ok)

	// Stale version loses.
	ok, err = s.store.UpdateIfVersion(s.ctx, "k", []byte(`{"n":"3"}`), 1)
	s.Require().NoError(err)
	s.False(ok)

	doc, err := s.store.Get(s.ctx, "k")
	s.Require().NoError(err)
	s.JSONEq(`{"n":"2"}`, string(doc.Value))
	s.EqualValues(2, doc.Version)
}

func (s *MemoryStoreSuite) TestUpdateMissingKey() {
	_, err := s.store.UpdateIfVersion(s.ctx, "ghost", []byte(`{}`), 1)
	s.ErrorIs(err, ErrNotFound)
}

func (s *MemoryStoreSuite) TestAppendAndList() {
	for i, item := range []string{`{"seq":"a"}`, `{"seq":"b"}`, `{"seq":"c"}`} {
		length, err := s.store.AppendToArray(s.ctx, "reports:did:example:abc", []byte(item))
		s.Require().NoError(err)
		s.Equal(i+1, length)
	}

	items, err := s.store.ListArray(s.ctx, "reports:did:example:abc")
	s.Require().NoError(err)
	s.Require().Len(items, 3)
	s.JSONEq(`{"seq":"a"}`, string(items[0]))
	s.JSONEq(`{"seq":"c"}`, string(items[2]))
}

func (s *MemoryStoreSuite) TestListMissingArrayIsEmpty() {
	items, err := s.store.ListArray(s.ctx, "reports:none")
	s.Require().NoError(err)
	s.Empty(items)
}

func (s *MemoryStoreSuite) TestQueryByField() {
	type rec struct {
		Owner string `json:"owner"`
		Name  string `json:"name"`
	}
	for key, r := range map[string]rec{
		"did:example:1": {Owner: "alice", Name: "one"},
		"did:example:2": {Owner: "bob", Name: "two"},
		"did:example:3": {Owner: "alice", Name: "three"},
	} {
		payload, err := json.Marshal(r)
		s.Require().NoError(err)
		_, err = s.store.InsertIfAbsent(s.ctx, key, payload)
		s.Require().NoError(err)
	}

	docs, err := s.store.QueryByField(s.ctx, "owner", "alice")
	s.Require().NoError(err)
	s.Require().Len(docs, 2)
	s.Equal("did:example:1", docs[0].Key)
	s.Equal("did:example:3", docs[1].Key)

	docs, err = s.store.QueryByField(s.ctx, "owner", "nobody")
	s.Require().NoError(err)
	s.Empty(docs)
}
