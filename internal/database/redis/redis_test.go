package redis

import (
	"context"
	"errors"
	"testing"

	"github.com/kozaktomas/camflow/internal/database"
	"github.com/redis/rueidis/mock"
	"go.uber.org/mock/gomock"
)

func TestGet_Found(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("GET", "cf:task/1")).
		Return(mock.Result(mock.RedisString(`{"state":"analyzing"}`)))

	s := NewStoreForTest(c, "cf:")
	got, err := s.Get(context.Background(), "task/1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != `{"state":"analyzing"}` {
		t.Errorf("unexpected value %q", got)
	}
}

func TestGet_Missing(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("GET", "cf:task/2")).
		Return(mock.Result(mock.RedisNil()))

	s := NewStoreForTest(c, "cf:")
	if _, err := s.Get(context.Background(), "task/2"); !errors.Is(err, database.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSet_Error(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("SET", "cf:k", "v")).
		Return(mock.ErrorResult(context.DeadlineExceeded))

	s := NewStoreForTest(c, "cf:")
	if err := s.Set(context.Background(), "k", []byte("v")); err == nil {
		t.Fatal("expected error")
	}
}

func TestDelete(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("DEL", "cf:session/1")).
		Return(mock.Result(mock.RedisInt64(1)))

	s := NewStoreForTest(c, "cf:")
	deleted, err := s.Delete(context.Background(), "session/1")
	if err != nil || !deleted {
		t.Fatalf("expected deletion, got %v %v", deleted, err)
	}
}

func TestList_ScansAndFetches(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("SCAN", "0", "MATCH", "cf:session/*", "COUNT", "200")).
		Return(mock.Result(mock.RedisArray(
			mock.RedisString("0"),
			mock.RedisArray(mock.RedisString("cf:session/b"), mock.RedisString("cf:session/a")),
		)))
	c.EXPECT().
		Do(gomock.Any(), mock.Match("MGET", "cf:session/a", "cf:session/b")).
		Return(mock.Result(mock.RedisArray(mock.RedisString("A"), mock.RedisNil())))

	s := NewStoreForTest(c, "cf:")
	entries, err := s.List(context.Background(), "session/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Key != "session/a" || string(entries[0].Value) != "A" {
		t.Errorf("unexpected entry %+v", entries[0])
	}
}
