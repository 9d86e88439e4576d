package db_test

import (
	"context"
	"strings"
	"testing"

	"yuno/policy-service/internal/db"
)

func TestNewPostgresPool_BadURL(t *testing.T) {
	_, err := db.NewPostgresPool(context.Background(), "postgres://%zz")
	if err == nil || !strings.Contains(err.Error(), "ParseConfig") {
		t.Errorf("err = %v, want ParseConfig error", err)
	}
}

func TestNewRedisClient_BadURL(t *testing.T) {
	_, err := db.NewRedisClient(context.Background(), "http://localhost:6379")
	if err == nil || !strings.Contains(err.Error(), "ParseURL") {
		t.Errorf("err = %v, want ParseURL error", err)
	}
}
