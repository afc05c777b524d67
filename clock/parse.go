package clock

import (
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"
)

// ParseClusterTime extracts a Document from a raw $clusterTime
// sub-document of the shape {clusterTime: Timestamp(T, I), ...}. It
// returns ok=false if raw has no clusterTime field or the field isn't a
// BSON timestamp.
func ParseClusterTime(raw bsoncore.Document) (Document, bool) {
	if raw == nil {
		return Document{}, false
	}
	val, err := raw.LookupErr("clusterTime")
	if err != nil {
		return Document{}, false
	}
	t, i, ok := val.TimestampOK()
	if !ok {
		return Document{}, false
	}
	return Document{Raw: bson.Raw(raw), TS: Timestamp{T: t, I: i}}, true
}

// ParseOperationTime extracts the operationTime field from a command
// reply as a Timestamp, per spec.md §6 ("operationTime on most
// successful commands").
func ParseOperationTime(raw bsoncore.Document) (Timestamp, bool) {
	if raw == nil {
		return Timestamp{}, false
	}
	val, err := raw.LookupErr("operationTime")
	if err != nil {
		return Timestamp{}, false
	}
	t, i, ok := val.TimestampOK()
	if !ok {
		return Timestamp{}, false
	}
	return Timestamp{T: t, I: i}, true
}
