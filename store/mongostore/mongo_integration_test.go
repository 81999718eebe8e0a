//go:build integration

package mongostore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/indigoroots/authcore/store"
	"github.com/indigoroots/authcore/store/storetest"
)

// Requires a replica set, e.g. MONGO_URI=mongodb://localhost:27017/?replicaSet=rs0
func newIntegrationStore(t *testing.T) *Store {
	t.Helper()
	uri := os.Getenv("MONGO_URI")
	if uri == "" {
		t.Skip("MONGO_URI not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	s, err := Connect(ctx, Config{URI: uri, Database: "authcore_test_" + store.NewID()})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := s.EnsureIndexes(ctx); err != nil {
		t.Fatalf("ensure indexes: %v", err)
	}
	t.Cleanup(func() {
		_ = s.users.Database().Drop(context.Background())
		_ = s.Close(context.Background())
	})
	return s
}

func TestMongoTokenStoreContract(t *testing.T) {
	storetest.TokenStore(t, func(t *testing.T) store.TokenStore { return newIntegrationStore(t) })
}

func TestMongoUserStoreContract(t *testing.T) {
	storetest.UserStore(t, func(t *testing.T) store.UserStore { return newIntegrationStore(t) })
}
