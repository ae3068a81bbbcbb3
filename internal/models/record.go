// Package models defines the domain types for Assistenze.
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Minutes is a duration in whole minutes. It also decodes the numeric
// strings written by older clients ("90").
type Minutes int

// UnmarshalJSON accepts a JSON number or a numeric string. A blank string decodes to 0.
func (m *Minutes) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*m = 0
			return nil
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("models: duration %q: %w", s, err)
		}
		*m = Minutes(n)
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*m = Minutes(n)
	return nil
}

// Record is one logged service-assistance event.
type Record struct {
	ID            string    `json:"_id"`
	CompiledBy    string    `json:"compiledBy,omitempty"`
	ClientName    string    `json:"clientName,omitempty"`
	ClientGroup   string    `json:"clientGroup,omitempty"`
	OrderNumber   string    `json:"orderNumber,omitempty"`
	Technician    string    `json:"technician,omitempty"`
	RequestSource string    `json:"requestSource,omitempty"`
	RequestedFrom string    `json:"requestedFrom,omitempty"`
	RequestDate   string    `json:"requestDate,omitempty"`
	TimeSlot      string    `json:"time,omitempty"`
	StartTime     string    `json:"startTime,omitempty"`
	EndTime       string    `json:"endTime,omitempty"`
	Duration      *Minutes  `json:"duration,omitempty"`
	Description   string    `json:"description,omitempty"`
	Topic         string    `json:"topic,omitempty"`
	CreatedAt     time.Time `json:"createdAt,omitzero"`
	UpdatedAt     time.Time `json:"updatedAt,omitzero"`
}

// HasWindow reports whether both start and end times are set.
func (r *Record) HasWindow() bool {
	return strings.TrimSpace(r.StartTime) != "" && strings.TrimSpace(r.EndTime) != ""
}

// SetDuration stores n minutes as the record's duration.
func (r *Record) SetDuration(n int) {
	m := Minutes(n)
	r.Duration = &m
}

// textFields lists the searchable values of the record.
func (r *Record) textFields() []string {
	return []string{
		r.ID, r.CompiledBy, r.ClientName, r.ClientGroup, r.OrderNumber,
		r.Technician, r.RequestSource, r.RequestedFrom, r.RequestDate,
		r.TimeSlot, r.StartTime, r.EndTime, r.Description, r.Topic,
	}
}

// Matches reports whether query occurs, case-insensitively, in any textual field.
// An empty query matches everything.
func (r *Record) Matches(query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return true
	}
	for _, v := range r.textFields() {
		if strings.Contains(strings.ToLower(v), q) {
			return true
		}
	}
	if r.Duration != nil && strings.Contains(strconv.Itoa(int(*r.Duration)), q) {
		return true
	}
	return false
}

// RecordPatch is a partial record: only non-nil fields are applied.
// Identifier and duration are not patchable.
type RecordPatch struct {
	CompiledBy    *string `json:"compiledBy"`
	ClientName    *string `json:"clientName"`
	ClientGroup   *string `json:"clientGroup"`
	OrderNumber   *string `json:"orderNumber"`
	Technician    *string `json:"technician"`
	RequestSource *string `json:"requestSource"`
	RequestedFrom *string `json:"requestedFrom"`
	RequestDate   *string `json:"requestDate"`
	TimeSlot      *string `json:"time"`
	StartTime     *string `json:"startTime"`
	EndTime       *string `json:"endTime"`
	Description   *string `json:"description"`
	Topic         *string `json:"topic"`
}

// TouchesWindow reports whether the patch sets either time field.
func (p *RecordPatch) TouchesWindow() bool {
	return p.StartTime != nil || p.EndTime != nil
}

// Apply merges the set fields of p into r.
func (p *RecordPatch) Apply(r *Record) {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	set(&r.CompiledBy, p.CompiledBy)
	set(&r.ClientName, p.ClientName)
	set(&r.ClientGroup, p.ClientGroup)
	set(&r.OrderNumber, p.OrderNumber)
	set(&r.Technician, p.Technician)
	set(&r.RequestSource, p.RequestSource)
	set(&r.RequestedFrom, p.RequestedFrom)
	set(&r.RequestDate, p.RequestDate)
	set(&r.TimeSlot, p.TimeSlot)
	set(&r.StartTime, p.StartTime)
	set(&r.EndTime, p.EndTime)
	set(&r.Description, p.Description)
	set(&r.Topic, p.Topic)
}

// RecordFilter narrows a record listing.
type RecordFilter struct {
	Technician string
	Query      string
}

// Match reports whether r passes the filter.
func (f RecordFilter) Match(r *Record) bool {
	if f.Technician != "" && r.Technician != f.Technician {
		return false
	}
	return r.Matches(f.Query)
}
