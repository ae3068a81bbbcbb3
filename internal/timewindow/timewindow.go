// Package timewindow validates HH:MM start/end pairs and derives their duration.
//
// Times are compared within a single day: a window that crosses midnight
// is rejected like any other window whose end is not after its start.
package timewindow

import (
	"strconv"
	"strings"

	"github.com/starford/assistenze/internal/apperr"
)

// Client-facing messages.
const (
	MsgMissing     = "Orari mancanti"
	MsgEndBefore   = "L'orario di fine deve essere successivo all'orario di inizio"
	MsgInvalidTime = "Formato orario non valido"
)

// Parse converts a 24-hour "HH:MM" (or "H:MM") string into minutes since midnight.
func Parse(s string) (int, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || len(h) == 0 || len(h) > 2 || len(m) != 2 || !digits(h) || !digits(m) {
		return 0, apperr.New(apperr.ErrValidation, MsgInvalidTime)
	}
	hours, err := strconv.Atoi(h)
	if err != nil || hours < 0 || hours > 23 {
		return 0, apperr.New(apperr.ErrValidation, MsgInvalidTime)
	}
	minutes, err := strconv.Atoi(m)
	if err != nil || minutes < 0 || minutes > 59 {
		return 0, apperr.New(apperr.ErrValidation, MsgInvalidTime)
	}
	return hours*60 + minutes, nil
}

// Duration returns end-start in minutes. It fails when either time is
// blank, malformed, or when end is not strictly after start.
func Duration(start, end string) (int, error) {
	if strings.TrimSpace(start) == "" || strings.TrimSpace(end) == "" {
		return 0, apperr.New(apperr.ErrValidation, MsgMissing)
	}
	s, err := Parse(start)
	if err != nil {
		return 0, err
	}
	e, err := Parse(end)
	if err != nil {
		return 0, err
	}
	if e <= s {
		return 0, apperr.New(apperr.ErrValidation, MsgEndBefore)
	}
	return e - s, nil
}

// Format renders minutes since midnight as "HH:MM".
func Format(minutes int) string {
	h := minutes / 60
	m := minutes % 60
	return pad2(h) + ":" + pad2(m)
}

func pad2(n int) string {
	if n < 10 {
		return "0" + strconv.Itoa(n)
	}
	return strconv.Itoa(n)
}

func digits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
