package config

import (
	"strings"
	"time"

	"schedhub/internal/apperr"
)

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, apperr.E(apperr.KindBadRequest, "%s: invalid duration %q", path, raw)
	}
	if d < 0 {
		return 0, apperr.E(apperr.KindBadRequest, "%s: duration must be >= 0", path)
	}
	return d, nil
}
