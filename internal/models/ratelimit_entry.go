package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Timestamps is the ordered request history kept by the sliding window algorithm.
// It is persisted as a JSON text column.
type Timestamps []time.Time

func (t Timestamps) Value() (driver.Value, error) {
	if len(t) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal([]time.Time(t))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (t *Timestamps) Scan(value interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*t = nil
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("unsupported timestamps column type %T", value)
	}

	if len(raw) == 0 {
		*t = nil
		return nil
	}

	var out []time.Time
	if err := json.Unmarshal(raw, &out); err != nil {
		return err
	}
	*t = out
	return nil
}

// Counter state for one (identity hash, endpoint) pair
type RateLimitEntry struct {
	ID           uint       `gorm:"primaryKey" json:"-"`
	IdentityHash string     `gorm:"size:64;not null;uniqueIndex:idx_rate_limits_key" json:"identity_hash"`
	Endpoint     string     `gorm:"size:255;not null;uniqueIndex:idx_rate_limits_key" json:"endpoint"`
	Count        int        `gorm:"not null;default:0" json:"count"`
	LastRequest  time.Time  `json:"last_request"`
	Blocked      bool       `gorm:"index;not null;default:false" json:"blocked"`
	Timestamps   Timestamps `gorm:"type:text" json:"timestamps,omitempty"`
	Tokens       float64    `gorm:"not null;default:0" json:"tokens"`
	LastRefill   time.Time  `json:"last_refill"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func (RateLimitEntry) TableName() string {
	return "rate_limits"
}

// Clone returns a deep copy so stores never hand out shared slices.
func (e *RateLimitEntry) Clone() *RateLimitEntry {
	if e == nil {
		return nil
	}
	c := *e
	if e.Timestamps != nil {
		c.Timestamps = make(Timestamps, len(e.Timestamps))
		copy(c.Timestamps, e.Timestamps)
	}
	return &c
}
