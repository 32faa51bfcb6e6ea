package db

import (
	"regexp"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// FilterBuilder helps build MongoDB filters fluently
type FilterBuilder struct {
	filter bson.M
}

// NewFilter creates a new FilterBuilder
func NewFilter() *FilterBuilder {
	return &FilterBuilder{filter: bson.M{}}
}

// Eq adds an equality condition
func (f *FilterBuilder) Eq(field string, value interface{}) *FilterBuilder {
	f.filter[field] = value
	return f
}

// Ne adds a not-equal condition
func (f *FilterBuilder) Ne(field string, value interface{}) *FilterBuilder {
	f.filter[field] = bson.M{"$ne": value}
	return f
}

// In adds an $in condition (value in array)
func (f *FilterBuilder) In(field string, values interface{}) *FilterBuilder {
	f.filter[field] = bson.M{"$in": values}
	return f
}

// Contains adds a case-insensitive literal substring match
func (f *FilterBuilder) Contains(field string, value string) *FilterBuilder {
	f.filter[field] = bson.M{"$regex": regexp.QuoteMeta(value), "$options": "i"}
	return f
}

// ObjectID adds an ObjectID filter. Invalid hex is ignored.
func (f *FilterBuilder) ObjectID(field string, id string) *FilterBuilder {
	objectID, err := primitive.ObjectIDFromHex(id)
	if err == nil {
		f.filter[field] = objectID
	}
	return f
}

// Or combines multiple filters with OR
func (f *FilterBuilder) Or(filters ...bson.M) *FilterBuilder {
	if len(filters) > 0 {
		f.filter["$or"] = filters
	}
	return f
}

// Build returns the final bson.M filter
func (f *FilterBuilder) Build() bson.M {
	return f.filter
}

// ObjectIDs converts hex ids, skipping any that are not valid ObjectIDs
func ObjectIDs(ids []string) []primitive.ObjectID {
	out := make([]primitive.ObjectID, 0, len(ids))
	for _, id := range ids {
		if oid, err := primitive.ObjectIDFromHex(id); err == nil {
			out = append(out, oid)
		}
	}
	return out
}
