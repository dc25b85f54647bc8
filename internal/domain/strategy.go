package domain

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
)

// Interval is an investment interval token from the fixed enumerated set.
type Interval string

const (
	Interval1Day    Interval = "1d"
	Interval1Week   Interval = "1w"
	Interval2Weeks  Interval = "2w"
	Interval3Weeks  Interval = "3w"
	Interval4Weeks  Interval = "4w"
	Interval1Month  Interval = "1M"
	Interval2Months Interval = "2M"
)

// intervalDays maps interval tokens to their length in calendar days.
// Months count as 30 days.
var intervalDays = map[Interval]int{
	Interval1Day:    1,
	Interval1Week:   7,
	Interval2Weeks:  14,
	Interval3Weeks:  21,
	Interval4Weeks:  28,
	Interval1Month:  30,
	Interval2Months: 60,
}

// ParseInterval validates an interval token.
func ParseInterval(s string) (Interval, error) {
	iv := Interval(s)
	if _, ok := intervalDays[iv]; !ok {
		return "", fmt.Errorf("unknown interval %q", s)
	}
	return iv, nil
}

// Days returns the interval length in calendar days.
func (i Interval) Days() int {
	return intervalDays[i]
}

// ParseInvestmentTime converts an "HH:MM" time of day to seconds since midnight.
func ParseInvestmentTime(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("investment time uses invalid format, HH:MM expected but %q was given", s)
	}
	return t.Hour()*3600 + t.Minute()*60, nil
}

// ParseStartDate converts a "YYYY-MM-DD" date to a Unix timestamp at local midnight.
func ParseStartDate(s string) (int64, error) {
	t, err := time.ParseInLocation("2006-01-02", s, time.Local)
	if err != nil {
		return 0, fmt.Errorf("start date uses invalid format, YYYY-MM-DD expected but %q was given", s)
	}
	return t.Unix(), nil
}

// Strategy is a user-defined investment plan, immutable after load.
type Strategy struct {
	// Symbol is the pair to buy (e.g., "ETHUSDT").
	Symbol string
	// Amount is the quote-currency amount invested per purchase.
	Amount decimal.Decimal
	// Interval is how often a purchase is made.
	Interval Interval
	// InvestmentTime is the time of day to invest, in seconds since midnight.
	InvestmentTime int
	// StartDate is the Unix timestamp of the first possible investment day at midnight.
	StartDate int64
}

// InvestmentStart returns the earliest point in time the strategy may invest.
func (s Strategy) InvestmentStart() time.Time {
	return time.Unix(s.StartDate+int64(s.InvestmentTime), 0)
}

// TimeOfDay returns the configured hour and minute of the investment time.
func (s Strategy) TimeOfDay() (hour, minute int) {
	return s.InvestmentTime / 3600, (s.InvestmentTime % 3600) / 60
}

// strategyJSON mirrors the strategy definition file entry. Pointer fields
// distinguish a missing key from a zero value so required keys fail loudly.
type strategyJSON struct {
	Symbol         *string          `json:"symbol"`
	Amount         *decimal.Decimal `json:"investment_amount_quoteasset"`
	Interval       *string          `json:"interval"`
	InvestmentTime *string          `json:"investment_time"`
	StartDate      *string          `json:"start_date"`
}

// UnmarshalJSON parses a strategy definition, failing on any missing required
// key or malformed value.
func (s *Strategy) UnmarshalJSON(data []byte) error {
	var raw strategyJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	if raw.Symbol == nil {
		return fmt.Errorf("missing symbol in investment parameter")
	}
	if raw.Amount == nil {
		return fmt.Errorf("missing investment_amount_quoteasset in investment parameter")
	}
	if raw.Interval == nil {
		return fmt.Errorf("missing interval in investment parameter")
	}
	if raw.InvestmentTime == nil {
		return fmt.Errorf("missing investment_time in investment parameter")
	}
	if raw.StartDate == nil {
		return fmt.Errorf("missing start_date in investment parameter")
	}

	interval, err := ParseInterval(*raw.Interval)
	if err != nil {
		return err
	}
	investmentTime, err := ParseInvestmentTime(*raw.InvestmentTime)
	if err != nil {
		return err
	}
	startDate, err := ParseStartDate(*raw.StartDate)
	if err != nil {
		return err
	}

	s.Symbol = *raw.Symbol
	s.Amount = *raw.Amount
	s.Interval = interval
	s.InvestmentTime = investmentTime
	s.StartDate = startDate
	return nil
}

// LoadStrategies reads a JSON array of strategy definitions from a file.
// Parse errors are fatal: a bot running with a misread plan is worse than one
// that refuses to start.
func LoadStrategies(path string) ([]Strategy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read strategy file: %w", err)
	}

	var strategies []Strategy
	if err := json.Unmarshal(data, &strategies); err != nil {
		return nil, fmt.Errorf("parse strategy file %s: %w", path, err)
	}
	return strategies, nil
}
