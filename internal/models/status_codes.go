package models

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultExpectedStatusCodes is used when a monitor leaves the list empty
const DefaultExpectedStatusCodes = "200-299"

type statusRange struct {
	from, to int
}

// StatusCodes is a parsed expected-status-code list such as "200,201,300-399"
type StatusCodes []statusRange

// ParseStatusCodes parses a comma separated list of codes and inclusive ranges
func ParseStatusCodes(s string) (StatusCodes, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		s = DefaultExpectedStatusCodes
	}

	var codes StatusCodes
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		from, to, isRange := strings.Cut(part, "-")
		lo, err := parseCode(from)
		if err != nil {
			return nil, err
		}
		hi := lo
		if isRange {
			if hi, err = parseCode(to); err != nil {
				return nil, err
			}
			if hi < lo {
				return nil, fmt.Errorf("invalid status code range %q", part)
			}
		}
		codes = append(codes, statusRange{from: lo, to: hi})
	}

	if len(codes) == 0 {
		return nil, fmt.Errorf("no status codes in %q", s)
	}
	return codes, nil
}

func parseCode(s string) (int, error) {
	code, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid status code %q", s)
	}
	if code < 100 || code > 599 {
		return 0, fmt.Errorf("status code %d out of range", code)
	}
	return code, nil
}

// Contains reports whether code is accepted
func (c StatusCodes) Contains(code int) bool {
	for _, r := range c {
		if code >= r.from && code <= r.to {
			return true
		}
	}
	return false
}
