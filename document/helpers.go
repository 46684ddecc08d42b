package document

import (
	"fmt"
	"time"
)

const mrzDateLayout = "060102"

func BoolToYesNo(value bool) string {
	if value {
		return "Yes"
	}
	return "No"
}

// ParseExpiryDate parses an MRZ yymmdd expiry date. Expiry dates are assumed
// to lie no more than 30 years in the past.
func ParseExpiryDate(dateStr string) (time.Time, error) {
	parsedDate, err := parseMrzDate(dateStr)
	if err != nil {
		return time.Time{}, err
	}

	if parsedDate.Before(time.Now().AddDate(-30, 0, 0)) {
		parsedDate = parsedDate.AddDate(100, 0, 0)
	}
	return parsedDate, nil
}

// ParseDateOfBirth parses an MRZ yymmdd birth date. The MRZ only carries two
// year digits and Go maps 00-68 to 20xx, so a birth date in the future is
// moved back a century.
func ParseDateOfBirth(dateStr string) (time.Time, error) {
	parsedDate, err := parseMrzDate(dateStr)
	if err != nil {
		return time.Time{}, err
	}

	if parsedDate.After(time.Now()) {
		parsedDate = parsedDate.AddDate(-100, 0, 0)
	}
	return parsedDate, nil
}

func parseMrzDate(dateStr string) (time.Time, error) {
	if len(dateStr) != 6 {
		return time.Time{}, fmt.Errorf("invalid date format: %s", dateStr)
	}
	parsedDate, err := time.Parse(mrzDateLayout, dateStr)
	if err != nil {
		return time.Time{}, fmt.Errorf("error parsing date: %w", err)
	}
	return parsedDate, nil
}
