package document

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
)

func TestInsert(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("returns generated ids", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse())
		store := NewWithDatabase(mt.DB)

		ids, err := store.Insert(context.Background(), "users", []map[string]any{
			{"name": "alice"},
			{"name": "bob"},
		})
		require.NoError(t, err)
		require.Len(t, ids, 2)
		for _, id := range ids {
			assert.Len(t, id, 24)
		}
	})

	mt.Run("refuses empty batch", func(mt *mtest.T) {
		store := NewWithDatabase(mt.DB)

		_, err := store.Insert(context.Background(), "users", nil)
		assert.ErrorIs(t, err, ErrInvalidInput)
	})
}

func TestFind(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("decodes matching documents", func(mt *mtest.T) {
		ns := mt.DB.Name() + ".users"
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch,
			bson.D{{Key: "name", Value: "alice"}, {Key: "role", Value: "admin"}},
			bson.D{{Key: "name", Value: "bob"}, {Key: "role", Value: "viewer"}},
		))
		store := NewWithDatabase(mt.DB)

		docs, err := store.Find(context.Background(), "users", map[string]any{"role": "admin"})
		require.NoError(t, err)
		require.Len(t, docs, 2)
		assert.Equal(t, "alice", docs[0]["name"])
		assert.Equal(t, "viewer", docs[1]["role"])
	})

	mt.Run("nil filter matches everything", func(mt *mtest.T) {
		ns := mt.DB.Name() + ".users"
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch))
		store := NewWithDatabase(mt.DB)

		docs, err := store.Find(context.Background(), "users", nil)
		require.NoError(t, err)
		assert.Empty(t, docs)
	})
}

func TestUpdate(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("reports modified count", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "n", Value: 2},
			bson.E{Key: "nModified", Value: 2},
		))
		store := NewWithDatabase(mt.DB)

		modified, err := store.Update(context.Background(), "users",
			map[string]any{"role": "viewer"},
			map[string]any{"role": "editor"},
		)
		require.NoError(t, err)
		assert.Equal(t, int64(2), modified)
	})

	mt.Run("refuses empty filter", func(mt *mtest.T) {
		store := NewWithDatabase(mt.DB)

		_, err := store.Update(context.Background(), "users", nil,
			map[string]any{"role": "editor"})
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	mt.Run("refuses empty set", func(mt *mtest.T) {
		store := NewWithDatabase(mt.DB)

		_, err := store.Update(context.Background(), "users",
			map[string]any{"role": "viewer"}, nil)
		assert.ErrorIs(t, err, ErrInvalidInput)
	})
}

func TestDeleteMany(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("reports deleted count", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 3}))
		store := NewWithDatabase(mt.DB)

		deleted, err := store.DeleteMany(context.Background(), "users",
			map[string]any{"role": "viewer"})
		require.NoError(t, err)
		assert.Equal(t, int64(3), deleted)
	})

	mt.Run("refuses empty filter", func(mt *mtest.T) {
		store := NewWithDatabase(mt.DB)

		_, err := store.DeleteMany(context.Background(), "users", nil)
		assert.ErrorIs(t, err, ErrInvalidInput)
	})
}

func TestCollections(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("lists collection names", func(mt *mtest.T) {
		ns := mt.DB.Name() + ".$cmd.listCollections"
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch,
			bson.D{{Key: "name", Value: "users"}, {Key: "type", Value: "collection"}},
			bson.D{{Key: "name", Value: "sessions"}, {Key: "type", Value: "collection"}},
		))
		store := NewWithDatabase(mt.DB)

		names, err := store.Collections(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []string{"users", "sessions"}, names)
	})
}

func TestCreateCollectionValidation(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("refuses empty name", func(mt *mtest.T) {
		store := NewWithDatabase(mt.DB)

		assert.ErrorIs(t, store.CreateCollection(context.Background(), ""), ErrInvalidInput)
		assert.ErrorIs(t, store.DropCollection(context.Background(), ""), ErrInvalidInput)
	})
}

func TestConnectValidation(t *testing.T) {
	_, err := Connect(context.Background(), "", "app")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = Connect(context.Background(), "mongodb://localhost:27017", "")
	assert.ErrorIs(t, err, ErrInvalidInput)
}
