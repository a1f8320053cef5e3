package handlers

import (
	"errors"
	"strings"
	"time"

	"timebank/internal/models"
	"timebank/internal/money"
	"timebank/internal/store"
)

var (
	errInvalidAmount = errors.New("invalid amount")
	errInvalidFilter = errors.New("invalid filter")
)

func parseAmountMinor(raw string) (int64, error) {
	amount, err := money.ParseMinor(raw)
	if err != nil || amount <= 0 {
		return 0, errInvalidAmount
	}
	return amount, nil
}

func parseHours(raw string) (int64, error) {
	hours, err := money.ParseHours(raw)
	if err != nil {
		return 0, errInvalidAmount
	}
	return hours, nil
}

// parseEntryFilter reads role, status, from, to, limit and page. Dates are
// RFC 3339 timestamps or plain YYYY-MM-DD days.
func parseEntryFilter(query map[string][]string) (store.EntryFilter, error) {
	get := func(key string) string {
		if values := query[key]; len(values) > 0 {
			return strings.TrimSpace(values[0])
		}
		return ""
	}
	filter := store.EntryFilter{Status: models.Status(get("status"))}
	switch role := store.Role(get("role")); role {
	case "", store.RolePayer, store.RoleReceiver:
		filter.Role = role
	default:
		return store.EntryFilter{}, errInvalidFilter
	}
	if raw := get("from"); raw != "" {
		from, err := parseTime(raw)
		if err != nil {
			return store.EntryFilter{}, errInvalidFilter
		}
		filter.From = &from
	}
	if raw := get("to"); raw != "" {
		to, err := parseTime(raw)
		if err != nil {
			return store.EntryFilter{}, errInvalidFilter
		}
		filter.To = &to
	}
	filter.Limit = parseInt(get("limit"), 50)
	page := parseInt(get("page"), 1)
	filter.Offset = (page - 1) * filter.Limit
	return filter, nil
}

func parseTime(raw string) (time.Time, error) {
	if value, err := time.Parse(time.RFC3339, raw); err == nil {
		return value, nil
	}
	return time.Parse("2006-01-02", raw)
}
