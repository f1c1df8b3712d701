// Package tz resolves the named time zones attached to PagerDuty users
// Names are either the Rails display labels PagerDuty shows ("Eastern Time (US & Canada)")
// or IANA names. Offsets follow daylight saving through the embedded zone database
package tz

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	// embedded zoneinfo so resolution does not depend on the host
	_ "time/tzdata"
)

// ErrUnknownZone is returned for a name that is neither a known label nor an IANA zone
var ErrUnknownZone = errors.New("unknown time zone")

// Zone is a resolved named zone
type Zone struct {
	Name string
	loc  *time.Location
}

// Offset returns the UTC offset in effect at instant t
func (z Zone) Offset(t time.Time) time.Duration {
	_, sec := t.In(z.loc).Zone()
	return time.Duration(sec) * time.Second
}

// Local returns t in the zone
func (z Zone) Local(t time.Time) time.Time { return t.In(z.loc) }

var (
	cacheMu sync.RWMutex
	cache   = map[string]*time.Location{}
)

// Resolve maps a zone name to a Zone
// unknown names fail with ErrUnknownZone, there is no default zone
func Resolve(name string) (Zone, error) {
	key := strings.TrimSpace(name)
	if key == "" {
		return Zone{}, fmt.Errorf("%w: empty name", ErrUnknownZone)
	}

	cacheMu.RLock()
	loc, ok := cache[key]
	cacheMu.RUnlock()
	if ok {
		return Zone{Name: key, loc: loc}, nil
	}

	iana := key
	if v, ok := displayNames[key]; ok {
		iana = v
	} else if !strings.Contains(key, "/") && key != "UTC" {
		// bare words like "Local" or "EST" are not accepted as IANA fallbacks
		return Zone{}, fmt.Errorf("%w: %q", ErrUnknownZone, name)
	}

	loc, err := time.LoadLocation(iana)
	if err != nil {
		return Zone{}, fmt.Errorf("%w: %q", ErrUnknownZone, name)
	}

	cacheMu.Lock()
	cache[key] = loc
	cacheMu.Unlock()
	return Zone{Name: key, loc: loc}, nil
}

// Validate loads every display label and reports the ones that fail
func Validate() error {
	var errs []error
	for label := range displayNames {
		if _, err := Resolve(label); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
