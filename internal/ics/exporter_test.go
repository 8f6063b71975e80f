package ics

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"gitea.jw6.us/james/washcal/internal/store"
	ical "github.com/arran4/golang-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func sampleEvents() []store.Event {
	start := time.Date(2025, 1, 20, 7, 0, 0, 0, time.UTC)
	return []store.Event{
		{
			ID:          "a1",
			Title:       "Full wash",
			Description: "Silver Mazda",
			Start:       start,
			End:         start.Add(30 * time.Minute),
			Kind:        store.KindAppointment,
			Status:      store.StatusConfirmed,
			Props:       store.ExtendedProps{UserID: "cust-1", IsPickup: true, PickupAddress: "Herzl 1 Haifa"},
		},
		{
			ID:    "broken",
			Title: "No end",
			Start: start.Add(time.Hour),
			Kind:  store.KindAppointment,
		},
		{
			ID:       "v1",
			Title:    "Open",
			Start:    start.Add(2 * time.Hour),
			End:      start.Add(3 * time.Hour),
			Location: "Main bay",
			Kind:     store.KindAvailability,
		},
	}
}

func parse(t *testing.T, body []byte) *ical.Calendar {
	t.Helper()
	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	require.NoError(t, err)
	return cal
}

func prop(ev *ical.VEvent, p ical.ComponentProperty) string {
	if v := ev.GetProperty(p); v != nil {
		return v.Value
	}
	return ""
}

func TestExportSkipsMalformedEvent(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	exp := NewExporter("https://wash.example.com/", zap.New(core))
	exp.now = func() time.Time { return time.Date(2025, 1, 19, 6, 0, 0, 0, time.UTC) }

	var buf bytes.Buffer
	n, err := exp.Export(&buf, sampleEvents(), DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	cal := parse(t, buf.Bytes())
	events := cal.Events()
	require.Len(t, events, 2)
	assert.Equal(t, 1, logs.FilterMessage("skipping event with invalid time range in feed").Len())

	appt := events[0]
	assert.Equal(t, "a1@washcal", appt.Id())
	assert.Equal(t, "20250120T070000Z", prop(appt, ical.ComponentPropertyDtStart))
	assert.Equal(t, "20250120T073000Z", prop(appt, ical.ComponentPropertyDtEnd))
	assert.Equal(t, "Full wash", prop(appt, ical.ComponentPropertySummary))
	assert.Equal(t, "Silver Mazda", prop(appt, ical.ComponentPropertyDescription))
	assert.Equal(t, "Herzl 1 Haifa", prop(appt, ical.ComponentPropertyLocation))
	assert.Equal(t, "https://wash.example.com/admin/calendar?event=a1", prop(appt, ical.ComponentPropertyUrl))
	assert.Equal(t, "CONFIRMED", prop(appt, ical.ComponentPropertyStatus))
	assert.Equal(t, "20250119T060000Z", prop(appt, ical.ComponentPropertyDtstamp))

	avail := events[1]
	assert.Equal(t, "TRANSPARENT", prop(avail, ical.ComponentPropertyTransp))
	assert.Equal(t, "Main bay", prop(avail, ical.ComponentPropertyLocation))
	assert.Empty(t, prop(avail, ical.ComponentPropertyStatus))
}

func TestExportCanExcludeAvailability(t *testing.T) {
	exp := NewExporter("https://wash.example.com", nil)

	var buf bytes.Buffer
	n, err := exp.Export(&buf, sampleEvents(), Options{Name: "Admin", IncludeAvailability: false})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	body := buf.String()
	assert.True(t, strings.HasPrefix(body, "BEGIN:VCALENDAR"))
	assert.Contains(t, body, "X-WR-CALNAME:Admin")
	assert.Contains(t, body, "METHOD:PUBLISH")
	assert.NotContains(t, body, "v1@washcal")
}

func TestExportEmptyFeedIsValidCalendar(t *testing.T) {
	var buf bytes.Buffer
	n, err := NewExporter("", nil).Export(&buf, nil, DefaultOptions())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, parse(t, buf.Bytes()).Events())
}

func TestStatusMapping(t *testing.T) {
	assert.Equal(t, ical.ObjectStatusTentative, statusFor(store.StatusPending))
	assert.Equal(t, ical.ObjectStatusConfirmed, statusFor(store.StatusCompleted))
	assert.Equal(t, ical.ObjectStatusCancelled, statusFor(store.StatusCancelled))
}
