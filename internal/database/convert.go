package database

import (
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/isdelr/winepair-be/internal/models"
)

// FromBSON converts a decoded BSON document into a JSON-compatible document.
// The internal "_id" field is dropped.
func FromBSON(raw bson.M) models.Document {
	doc := make(models.Document, len(raw))
	for key, value := range raw {
		if key == InternalIDField {
			continue
		}
		doc[key] = toJSONValue(value)
	}
	return doc
}

func toJSONValue(value interface{}) interface{} {
	switch v := value.(type) {
	case nil:
		return nil
	case primitive.ObjectID:
		return v.Hex()
	case primitive.DateTime:
		return v.Time().UTC()
	case primitive.Timestamp:
		return time.Unix(int64(v.T), 0).UTC()
	case primitive.Decimal128:
		return v.String()
	case primitive.Binary:
		return v.Data
	case primitive.Regex:
		return v.String()
	case primitive.JavaScript:
		return string(v)
	case primitive.Symbol:
		return string(v)
	case primitive.Null, primitive.Undefined, primitive.MinKey, primitive.MaxKey:
		return nil
	case bson.M:
		return map[string]interface{}(FromNested(v))
	case bson.D:
		return map[string]interface{}(FromNested(v.Map()))
	case bson.A:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = toJSONValue(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = toJSONValue(item)
		}
		return out
	case map[string]interface{}:
		return map[string]interface{}(FromNested(v))
	default:
		return v
	}
}

// FromNested converts an embedded document. Unlike FromBSON it keeps "_id",
// which inside sub-documents is ordinary application data.
func FromNested(raw map[string]interface{}) models.Document {
	doc := make(models.Document, len(raw))
	for key, value := range raw {
		doc[key] = toJSONValue(value)
	}
	return doc
}
