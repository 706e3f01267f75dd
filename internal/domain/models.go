package domain

import (
	"encoding/base64"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

type SubscriptionID string

type Keys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

type Location struct {
	Lat  *float64 `json:"lat,omitempty"`
	Lon  *float64 `json:"lon,omitempty"`
	City string   `json:"city,omitempty"`
}

// HasCoords reports whether both coordinates are known.
func (l Location) HasCoords() bool {
	return l.Lat != nil && l.Lon != nil
}

type Subscription struct {
	ID        SubscriptionID `json:"id"`
	Endpoint  string         `json:"endpoint"`
	Keys      Keys           `json:"keys"`
	Location  Location       `json:"location"`
	CreatedAt time.Time      `json:"created_at"`
}

// Valid reports whether the subscription can be used for delivery: an
// endpoint and both encryption keys must be present.
func (s *Subscription) Valid() bool {
	return s != nil && s.Endpoint != "" && s.Keys.P256dh != "" && s.Keys.Auth != ""
}

// SubscriptionIDFor derives the store id from a push endpoint. The same
// endpoint always maps to the same id, so re-subscribing overwrites.
func SubscriptionIDFor(endpoint string) SubscriptionID {
	enc := base64.RawURLEncoding.EncodeToString([]byte(endpoint))
	if len(enc) > 40 {
		enc = enc[len(enc)-40:]
	}
	return SubscriptionID("sub:" + enc)
}

// ParseKeys decodes the stored JSON keys object. Anything unparsable
// yields empty Keys, which in turn makes the subscription invalid.
func ParseKeys(raw string) Keys {
	var k Keys
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "{") {
		return Keys{}
	}
	if err := json.Unmarshal([]byte(s), &k); err != nil {
		return Keys{}
	}
	return k
}

// ParseCoord returns nil for empty, unparsable, NaN or zero values.
func ParseCoord(raw string) *float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v == 0 {
		return nil
	}
	return &v
}

// FormatCoord is the inverse of ParseCoord for storage.
func FormatCoord(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
