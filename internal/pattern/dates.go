package pattern

import (
	"time"

	"cloud.google.com/go/civil"
)

func isLeap(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

func daysIn(month time.Month, year int) int {
	switch month {
	case time.February:
		if isLeap(year) {
			return 29
		}
		return 28
	case time.April, time.June, time.September, time.November:
		return 30
	default:
		return 31
	}
}

// addYears shifts d by n years, clamping Feb 29 to Feb 28 in non-leap years.
func addYears(d civil.Date, n int) civil.Date {
	out := civil.Date{Year: d.Year + n, Month: d.Month, Day: d.Day}
	if out.Month == time.February && out.Day == 29 && !isLeap(out.Year) {
		out.Day = 28
	}
	return out
}

// makeDate builds a date, reporting false when the fields do not form one.
func makeDate(year int, month time.Month, day int) (civil.Date, bool) {
	if month < time.January || month > time.December || day < 1 || day > daysIn(month, year) {
		return civil.Date{}, false
	}
	return civil.Date{Year: year, Month: month, Day: day}, true
}
