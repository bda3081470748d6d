/*
APITime handles the two wire shapes the hypervisor uses for timestamps:
an RFC3339 string, or a Unix millisecond integer.
*/
package payloads

import (
	"encoding/json"
	"fmt"
	"time"
)

type Status string

const (
	Success Status = "success"
	Failure Status = "failure"
	Running Status = "running"
	Pending Status = "pending"
)

type APITime time.Time

func (t *APITime) UnmarshalJSON(data []byte) error {
	var timeStr string
	if err := json.Unmarshal(data, &timeStr); err == nil {
		parsedTime, err := time.Parse(time.RFC3339, timeStr)
		if err != nil {
			return fmt.Errorf("failed to parse time string: %v", err)
		}
		*t = APITime(parsedTime)
		return nil
	}

	var timestamp int64
	if err := json.Unmarshal(data, &timestamp); err != nil {
		return fmt.Errorf("value is neither a valid time string nor a Unix timestamp: %v", err)
	}

	*t = APITime(time.UnixMilli(timestamp))
	return nil
}

func (t APITime) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Time(t).Format(time.RFC3339))
}

func (t APITime) Time() time.Time {
	return time.Time(t)
}

func (t APITime) String() string {
	return time.Time(t).String()
}
