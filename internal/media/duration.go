package media

import (
	"fmt"
	"strings"
	"time"

	"github.com/sosodev/duration"
)

// parseISODuration parses the ISO 8601 durations the video API returns for
// content length, e.g. "PT1H2M3S" or "P1DT30M". Years, months and weeks do
// not occur for videos and are rejected.
func parseISODuration(s string) (time.Duration, error) {
	if !strings.HasPrefix(s, "P") ||
		strings.Count(s, "T") > 1 ||
		!strings.ContainsAny(s, "0123456789") ||
		!strings.ContainsAny(s[len(s)-1:], "DHMS") {
		return 0, fmt.Errorf("invalid duration %q", s)
	}

	d, err := duration.Parse(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if d.Negative || d.Years != 0 || d.Months != 0 || d.Weeks != 0 {
		return 0, fmt.Errorf("unsupported duration %q", s)
	}
	return d.ToTimeDuration(), nil
}
