package model

import (
	"bytes"
	"fmt"
	"strconv"
	"time"
)

// Epoch is the first millisecond of 2015, the zero point of snowflake timestamps.
const Epoch = 1420070400000

type Snowflake uint64

func ParseSnowflake(s string) (Snowflake, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid snowflake %q: %w", s, err)
	}
	return Snowflake(v), nil
}

func (s Snowflake) String() string { return strconv.FormatUint(uint64(s), 10) }

func (s Snowflake) IsZero() bool { return s == 0 }

// Time returns the creation time encoded in the snowflake.
func (s Snowflake) Time() time.Time {
	return time.UnixMilli(int64(s>>22) + Epoch)
}

func (s Snowflake) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

func (s *Snowflake) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*s = 0
		return nil
	}
	b = bytes.Trim(b, `"`)
	if len(b) == 0 {
		*s = 0
		return nil
	}
	v, err := ParseSnowflake(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ShardForGuild returns the shard a guild's events are delivered on.
func ShardForGuild(guildID Snowflake, total int) int {
	if total <= 0 {
		return 0
	}
	return int((uint64(guildID) >> 22) % uint64(total))
}
