package firestore

import (
	"time"

	"github.com/alma-estilo/api/internal/platform/pagination"
)

// Page tokens are opaque to clients: the StartAfter values mirror the
// query's order-by clauses, with timestamps serialised as RFC3339Nano so
// they survive the JSON round trip without losing precision.

func encodeTimeCursor(ts time.Time, id string) string {
	token, err := pagination.EncodeToken(pagination.Cursor{
		StartAfter: []any{ts.UTC().Format(time.RFC3339Nano), id},
	})
	if err != nil {
		return ""
	}
	return token
}

func decodeTimeCursor(token string) (time.Time, string, bool) {
	cursor, err := pagination.DecodeToken(token)
	if err != nil || len(cursor.StartAfter) != 2 {
		return time.Time{}, "", false
	}
	raw, ok := cursor.StartAfter[0].(string)
	if !ok {
		return time.Time{}, "", false
	}
	id, ok := cursor.StartAfter[1].(string)
	if !ok || id == "" {
		return time.Time{}, "", false
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, "", false
	}
	return ts.UTC(), id, true
}

func encodeStringCursor(value, id string) string {
	token, err := pagination.EncodeToken(pagination.Cursor{
		StartAfter: []any{value, id},
	})
	if err != nil {
		return ""
	}
	return token
}

func decodeStringCursor(token string) (string, string, bool) {
	cursor, err := pagination.DecodeToken(token)
	if err != nil || len(cursor.StartAfter) != 2 {
		return "", "", false
	}
	value, ok := cursor.StartAfter[0].(string)
	if !ok {
		return "", "", false
	}
	id, ok := cursor.StartAfter[1].(string)
	if !ok || id == "" {
		return "", "", false
	}
	return value, id, true
}
