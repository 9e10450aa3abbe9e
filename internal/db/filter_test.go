package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson"
)

func TestFilterBuilderChains(t *testing.T) {
	t.Parallel()

	filter := NewFilter().
		Eq("conversation_id", "conv-1").
		Ne("sender_id", "acc-a").
		In("status", []string{"sent", "delivered"}).
		Gte("created_at", 42).
		Exists("deleted_at", false).
		Build()

	assert.Equal(t, bson.M{
		"conversation_id": "conv-1",
		"sender_id":       bson.M{"$ne": "acc-a"},
		"status":          bson.M{"$in": []string{"sent", "delivered"}},
		"created_at":      bson.M{"$gte": 42},
		"deleted_at":      bson.M{"$exists": false},
	}, filter)
}

func TestEmptyFilterMatchesAll(t *testing.T) {
	t.Parallel()
	assert.Equal(t, bson.M{}, Empty())
	assert.Equal(t, bson.M{}, NewFilter().Build())
}
