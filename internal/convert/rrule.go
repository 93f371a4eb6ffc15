package convert

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Recurrence is the source recurrence pattern, one of six shapes with
// one of three end conditions.
type Recurrence struct {
	// Pattern is Daily, Weekly, AbsoluteMonthly, RelativeMonthly,
	// AbsoluteYearly or RelativeYearly.
	Pattern  string
	Interval int
	// DaysOfWeek holds day names, or the special values Day, Weekday
	// and WeekendDay for relative monthly/yearly patterns.
	DaysOfWeek []string
	// DayOfWeekIndex is First, Second, Third, Fourth or Last.
	DayOfWeekIndex string
	DayOfMonth     int
	Month          string
	FirstDayOfWeek string

	// End condition: Count for numbered recurrences, Until for a fixed
	// end date, neither for no-end recurrences.
	Count int
	Until time.Time
}

var weekdayMap = map[string]string{
	"Sunday":    "SU",
	"Monday":    "MO",
	"Tuesday":   "TU",
	"Wednesday": "WE",
	"Thursday":  "TH",
	"Friday":    "FR",
	"Saturday":  "SA",
}

var daySetMap = map[string]string{
	"Day":        "SU,MO,TU,WE,TH,FR,SA",
	"Weekday":    "MO,TU,WE,TH,FR",
	"WeekendDay": "SA,SU",
}

var setPosMap = map[string]int{
	"First":  1,
	"Second": 2,
	"Third":  3,
	"Fourth": 4,
	"Last":   -1,
}

var monthMap = map[string]int{
	"January": 1, "February": 2, "March": 3, "April": 4,
	"May": 5, "June": 6, "July": 7, "August": 8,
	"September": 9, "October": 10, "November": 11, "December": 12,
}

// BuildRRule serializes a recurrence pattern into an RRULE value:
// FREQ, INTERVAL, the BY* parts of the pattern, WKST, then the end
// condition.
func BuildRRule(r *Recurrence) (string, error) {
	if r == nil {
		return "", nil
	}

	interval := r.Interval
	if interval < 1 {
		interval = 1
	}

	parts := []string{"", "INTERVAL=" + strconv.Itoa(interval)}

	switch r.Pattern {
	case "Daily":
		parts[0] = "FREQ=DAILY"
	case "Weekly":
		byday, err := mapDays(r.DaysOfWeek)
		if err != nil {
			return "", err
		}
		parts[0] = "FREQ=WEEKLY"
		parts = append(parts, "BYDAY="+byday)
	case "AbsoluteMonthly":
		parts[0] = "FREQ=MONTHLY"
		parts = append(parts, "BYMONTHDAY="+strconv.Itoa(r.DayOfMonth))
	case "RelativeMonthly":
		byday, bysetpos, err := mapRelativeDays(r.DaysOfWeek, r.DayOfWeekIndex)
		if err != nil {
			return "", err
		}
		parts[0] = "FREQ=MONTHLY"
		parts = append(parts, "BYDAY="+byday, "BYSETPOS="+strconv.Itoa(bysetpos))
	case "AbsoluteYearly":
		month, ok := monthMap[r.Month]
		if !ok {
			return "", fmt.Errorf("unknown recurrence month: %s", r.Month)
		}
		parts[0] = "FREQ=YEARLY"
		parts = append(parts, "BYMONTH="+strconv.Itoa(month), "BYMONTHDAY="+strconv.Itoa(r.DayOfMonth))
	case "RelativeYearly":
		month, ok := monthMap[r.Month]
		if !ok {
			return "", fmt.Errorf("unknown recurrence month: %s", r.Month)
		}
		byday, bysetpos, err := mapRelativeDays(r.DaysOfWeek, r.DayOfWeekIndex)
		if err != nil {
			return "", err
		}
		parts[0] = "FREQ=YEARLY"
		parts = append(parts, "BYMONTH="+strconv.Itoa(month), "BYDAY="+byday, "BYSETPOS="+strconv.Itoa(bysetpos))
	default:
		return "", fmt.Errorf("unknown recurrence pattern: %s", r.Pattern)
	}

	if wkst, ok := weekdayMap[r.FirstDayOfWeek]; ok {
		parts = append(parts, "WKST="+wkst)
	}

	switch {
	case r.Count > 0:
		parts = append(parts, "COUNT="+strconv.Itoa(r.Count))
	case !r.Until.IsZero():
		parts = append(parts, "UNTIL="+r.Until.Format("20060102"))
	}

	return strings.Join(parts, ";"), nil
}

func mapDays(days []string) (string, error) {
	out := make([]string, 0, len(days))
	for _, d := range days {
		abbr, ok := weekdayMap[d]
		if !ok {
			return "", fmt.Errorf("unknown recurrence day: %s", d)
		}
		out = append(out, abbr)
	}
	if len(out) == 0 {
		return "", fmt.Errorf("weekly recurrence without days")
	}
	return strings.Join(out, ","), nil
}

func mapRelativeDays(days []string, index string) (string, int, error) {
	pos, ok := setPosMap[index]
	if !ok {
		return "", 0, fmt.Errorf("unknown recurrence day index: %s", index)
	}

	if len(days) == 1 {
		if set, ok := daySetMap[days[0]]; ok {
			return set, pos, nil
		}
	}
	byday, err := mapDays(days)
	if err != nil {
		return "", 0, err
	}
	return byday, pos, nil
}
