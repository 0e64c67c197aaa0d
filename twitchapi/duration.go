package twitchapi

import (
	"regexp"
	"strconv"
)

var durationPattern = regexp.MustCompile(`^(?:(\d+)h)?(?:(\d+)m)?(?:(\d+)s)?$`)

// ParseDuration converts a compound duration token such as "3h15m42s" into
// seconds. Every group is optional and defaults to zero. ok is false when the
// token does not match the grammar at all.
func ParseDuration(token string) (seconds int, ok bool) {
	m := durationPattern.FindStringSubmatch(token)
	if m == nil {
		return 0, false
	}
	for i, mult := range []int{3600, 60, 1} {
		if m[i+1] == "" {
			continue
		}
		n, err := strconv.Atoi(m[i+1])
		if err != nil {
			return 0, false
		}
		seconds += n * mult
	}
	return seconds, true
}
