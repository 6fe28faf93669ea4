package metrics

import (
	"encoding/json"
	"fmt"
	"time"
)

// Timestamp marshals as a numeric epoch value (seconds, fractional) and
// unmarshals from either a numeric epoch or an ISO-8601 string; exported
// records exist in both shapes in the wild.
type Timestamp struct {
	time.Time
}

func Now() Timestamp {
	return Timestamp{Time: time.Now()}
}

func At(t time.Time) Timestamp {
	return Timestamp{Time: t}
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(float64(t.UnixNano()) / float64(time.Second))
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		t.Time = time.Time{}
		return nil
	}

	var epoch float64
	if err := json.Unmarshal(data, &epoch); err == nil {
		t.Time = time.Unix(0, int64(epoch*float64(time.Second)))
		return nil
	}

	var iso string
	if err := json.Unmarshal(data, &iso); err != nil {
		return fmt.Errorf("timestamp is neither numeric nor a string: %w", err)
	}

	parsed, err := time.Parse(time.RFC3339Nano, iso)
	if err != nil {
		return fmt.Errorf("failed to parse ISO-8601 timestamp %q: %w", iso, err)
	}
	t.Time = parsed
	return nil
}
