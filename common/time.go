package common

import (
	"strconv"
	"strings"
	"time"
)

func FormatTime(t time.Time) string {
	return t.UTC().Format(DateFormat)
}

func ParseTime(raw string) (time.Time, error) {
	t, err := time.ParseInLocation(DateFormat, strings.TrimSpace(raw), time.UTC)
	if err != nil {
		return time.Time{}, NewConfigurationError("invalid date %q, expected format YYYY-MM-DD HH:MM:SS", raw)
	}
	return t, nil
}

func NowString() string {
	return FormatTime(time.Now())
}

func StringPtr(s string) *string {
	return &s
}

func parseInt(raw string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(raw))
}
