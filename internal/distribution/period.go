package distribution

import (
	"fmt"
	"time"

	"estatesettle/internal/errs"
	"estatesettle/internal/models"
)

// ValidateFrequency rejects unknown schedule frequencies.
func ValidateFrequency(freq string) error {
	switch freq {
	case models.FrequencyMonthly, models.FrequencyQuarterly, models.FrequencyAnnual:
		return nil
	}
	return errs.Validation("unknown frequency %q (monthly, quarterly, annual)", freq)
}

// AddPeriod advances t by one schedule period. Month arithmetic clamps to the
// last day of the target month, so Jan 31 + 1 month is Feb 28/29.
func AddPeriod(t time.Time, freq string) (time.Time, error) {
	switch freq {
	case models.FrequencyMonthly:
		return addMonths(t, 1), nil
	case models.FrequencyQuarterly:
		return addMonths(t, 3), nil
	case models.FrequencyAnnual:
		return addMonths(t, 12), nil
	}
	return time.Time{}, ValidateFrequency(freq)
}

func addMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	last := first.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// PeriodLabel names the period that starts at start.
func PeriodLabel(start time.Time, freq string) string {
	switch freq {
	case models.FrequencyQuarterly:
		return fmt.Sprintf("%d-Q%d", start.Year(), (int(start.Month())-1)/3+1)
	case models.FrequencyAnnual:
		return fmt.Sprintf("%d", start.Year())
	}
	return start.Format("2006-01")
}
