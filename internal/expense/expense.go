// Package expense implements the line-oriented expense tracker that runs as
// each session's worker process.
//
// The tracker keeps a list of expenses in a JSON file, answers the add, view,
// delete, generate and exit commands one line at a time, and writes every
// response to its output as soon as it is produced. It knows nothing about
// sessions or sockets: the gateway talks to it only through stdin and stdout.
package expense

import (
	"math"
	"strconv"
	"strings"
)

// DataFileName is the name of the expense list inside the data directory.
const DataFileName = "expenses.json"

// ReportFileName is the name of the generated report inside the data directory.
const ReportFileName = "report.yaml"

// Expense is one recorded expense. Field order matches the on-disk layout.
type Expense struct {
	Amount      Amount `json:"amount"`
	Category    string `json:"category"`
	Date        string `json:"date"`
	Description string `json:"description"`
}

// Amount is a monetary amount. It is rendered the way the data file has
// always stored it: shortest round-trip digits with at least one fractional
// digit, so 10 becomes "10.0" and 12.50 becomes "12.5".
type Amount float64

// String formats the amount in its data-file form.
func (a Amount) String() string {
	return FormatAmount(float64(a))
}

// MarshalJSON implements json.Marshaler.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.String()), nil
}

// FormatAmount formats f with the shortest representation that round-trips,
// keeping a trailing ".0" for integral values and switching to exponent form
// for very large or very small magnitudes.
func FormatAmount(f float64) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}

	if f != 0 {
		sci := strconv.FormatFloat(f, 'e', -1, 64)
		exp, _ := strconv.Atoi(sci[strings.LastIndexByte(sci, 'e')+1:])
		if exp < -4 || exp >= 16 {
			return sci
		}
	}

	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}

// ParseAmount parses a user-supplied amount. Non-finite values are rejected.
func ParseAmount(s string) (Amount, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, strconv.ErrRange
	}
	return Amount(f), nil
}
