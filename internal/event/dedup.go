package event

import (
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Dedup suppresses repeated deliveries of the same alarm or detection
// within a time window. The device pushes every trigger over both the
// webhook and the long-poll stream, so duplicates are the common case.
type Dedup struct {
	cache *lru.Cache[string, time.Time]
	ttl   time.Duration
}

// NewDedup builds a window of maxKeys recent keys expiring after ttl.
func NewDedup(maxKeys int, ttl time.Duration) *Dedup {
	c, _ := lru.New[string, time.Time](maxKeys)
	return &Dedup{cache: c, ttl: ttl}
}

// Seen records key and reports whether it was already present within the
// window. Expired entries are refreshed and treated as new.
func (d *Dedup) Seen(key string) bool {
	if addedAt, ok := d.cache.Get(key); ok && time.Since(addedAt) < d.ttl {
		return true
	}
	d.cache.Add(key, time.Now())
	return false
}

// DedupKey builds the identity key for one alarm occurrence. Timestamps
// are bucketed to one second so sub-second delivery jitter between the
// webhook and long-poll paths collapses to a single key.
func DedupKey(instanceID string, channel int, t AlarmType, occurredAt time.Time) string {
	return fmt.Sprintf("%s|%d|%s|%d", instanceID, channel, t, occurredAt.Truncate(time.Second).Unix())
}

// DetectionKey builds the identity key for one AI capture. SnapID is the
// device-side capture id and already unique per capture when present.
func DetectionKey(instanceID string, d Detection) string {
	if d.SnapID != "" {
		return fmt.Sprintf("%s|%s|%s", instanceID, d.Kind, d.SnapID)
	}
	return fmt.Sprintf("%s|%s|%d|%s", instanceID, d.Kind, d.Channel, d.StartTime)
}

// Russian plates officially use twelve Cyrillic letters that are visually
// identical to Latin ones. Different firmware builds report either
// alphabet, so comparisons run over the Latin normalization.
var plateCyrToLat = map[rune]rune{
	'А': 'A', 'В': 'B', 'Е': 'E', 'К': 'K', 'М': 'M', 'Н': 'H',
	'О': 'O', 'Р': 'P', 'С': 'C', 'Т': 'T', 'У': 'Y', 'Х': 'X',
	'а': 'A', 'в': 'B', 'е': 'E', 'к': 'K', 'м': 'M', 'н': 'H',
	'о': 'O', 'р': 'P', 'с': 'C', 'т': 'T', 'у': 'Y', 'х': 'X',
}

// NormalizePlate uppercases a plate string and folds Cyrillic look-alikes
// to Latin.
func NormalizePlate(text string) string {
	if text == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToUpper(text) {
		if lat, ok := plateCyrToLat[r]; ok {
			r = lat
		}
		b.WriteRune(r)
	}
	return b.String()
}

// plateMinCommon is the position-wise character overlap at which two
// normalized plates are treated as the same vehicle. Tolerates single
// OCR misreads and partial reads without merging unrelated plates.
const plateMinCommon = 3

// SamePlate reports whether two normalized plate strings look like the
// same vehicle. Exact match, substring match for partial reads, or at
// least plateMinCommon identical characters at the same positions.
func SamePlate(p1, p2 string) bool {
	if p1 == p2 {
		return p1 != ""
	}
	short, long := p1, p2
	if len(short) > len(long) {
		short, long = long, short
	}
	if len(short) < plateMinCommon {
		return false
	}
	if strings.Contains(long, short) {
		return true
	}
	matches := 0
	r1, r2 := []rune(p1), []rune(p2)
	n := len(r1)
	if len(r2) < n {
		n = len(r2)
	}
	for i := 0; i < n; i++ {
		if r1[i] == r2[i] {
			matches++
		}
	}
	return matches >= plateMinCommon
}
