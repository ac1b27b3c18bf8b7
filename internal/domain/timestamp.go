package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimestampLayout - формат, которым сервер помечает показания
const TimestampLayout = "2006-01-02 15:04:05"

var timestampLayouts = []string{
	time.RFC3339Nano,
	TimestampLayout,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// Timestamp - непрозрачный сортируемый идентификатор показания.
// На проводе это строка (ISO-8601 или YYYY-MM-DD HH:MM:SS) либо epoch-число.
type Timestamp string

// NewTimestamp форматирует время в серверный формат
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp(t.Format(TimestampLayout))
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	text := strings.TrimSpace(string(b))
	switch {
	case text == "null":
		*t = ""
	case strings.HasPrefix(text, `"`):
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*t = Timestamp(str)
	default:
		if _, err := strconv.ParseFloat(text, 64); err != nil {
			return fmt.Errorf("unsupported timestamp %s", text)
		}
		*t = Timestamp(text)
	}
	return nil
}

// Time пытается интерпретировать Timestamp как момент времени.
// Числа трактуются как epoch: секунды или миллисекунды (больше 1e12).
func (t Timestamp) Time() (time.Time, bool) {
	str := strings.TrimSpace(string(t))
	if str == "" {
		return time.Time{}, false
	}
	if n, err := strconv.ParseFloat(str, 64); err == nil {
		if n > 1e12 {
			return time.UnixMilli(int64(n)), true
		}
		sec := int64(n)
		return time.Unix(sec, int64((n-float64(sec))*1e9)), true
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.ParseInLocation(layout, str, time.Local); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}

// Before задаёт полный порядок: разбираемые метки сравниваются как время и
// идут раньше неразбираемых, неразбираемые сравниваются как строки.
func (t Timestamp) Before(other Timestamp) bool {
	a, okA := t.Time()
	b, okB := other.Time()
	switch {
	case okA && okB:
		return a.Before(b)
	case okA != okB:
		return okA
	default:
		return t < other
	}
}
