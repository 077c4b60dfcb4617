package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"calvoice/app/client/gcal"
	"calvoice/app/config"
	"calvoice/app/service/store"
	"calvoice/app/util/timeutil"

	"github.com/elliotchance/pie/v2"
	"github.com/samber/do"
)

const (
	defaultSlotMinutes = 30
	businessDayStart   = 9
	businessDayEnd     = 17

	credentialsExpiredMessage = "Your Google account access has expired. " +
		"Please log out and log back in to refresh your calendar permissions."
	noCalendarMessage = "No calendar account is connected. Please log in with Google first."
)

var ErrInvalidInterval = errors.New("end time must be after start time")

type CredentialSource interface {
	GetCalendarCredentials(userID string) (store.Credentials, error)
}

type CalendarAPI interface {
	ListEvents(ctx context.Context, creds store.Credentials, timeMin, timeMax string) ([]gcal.Event, error)
	InsertEvent(ctx context.Context, creds store.Credentials, input gcal.EventInput) (*gcal.Event, error)
}

// Service implements the calendar operations behind the assistant's tools.
// Every operation resolves the user's stored credentials, talks to the
// calendar API in UTC and renders results as text a model can speak back.
type Service struct {
	cfg      *config.Config
	creds    CredentialSource
	calendar CalendarAPI
	now      func() time.Time
}

func New(di *do.Injector) (*Service, error) {
	return &Service{
		cfg:      do.MustInvoke[*config.Config](di),
		creds:    do.MustInvoke[*store.Service](di),
		calendar: do.MustInvoke[*gcal.Client](di),
		now:      time.Now,
	}, nil
}

// CurrentTime reports the current date and time in UTC.
func (s *Service) CurrentTime() string {
	now := s.now().UTC()

	return fmt.Sprintf("Current date and time: %s at %s UTC\nISO format: %s",
		now.Format("Monday, January 2, 2006"),
		timeutil.FormatClock(now),
		timeutil.ToAPIInstant(now),
	)
}

// CheckAvailability lists events overlapping [start, end) and reports either
// a free outcome or the conflicting events in chronological order.
func (s *Service) CheckAvailability(ctx context.Context, userID, start, end string, loc *time.Location) (string, error) {
	startDt, err := timeutil.ParseNaive(start, loc)
	if err != nil {
		return "", err
	}

	endDt, err := timeutil.ParseNaive(end, loc)
	if err != nil {
		return "", err
	}

	if !endDt.After(startDt) {
		return "", ErrInvalidInterval
	}

	events, err := s.listEvents(ctx, userID, startDt, endDt)
	if err != nil {
		return s.failureText("checking availability", err), nil
	}

	if len(events) == 0 {
		return fmt.Sprintf("You are free from %s to %s.",
			timeutil.FormatDayTime(startDt),
			timeutil.FormatDayTime(endDt),
		), nil
	}

	var builder strings.Builder
	fmt.Fprintf(&builder, "You have %d conflicting event(s) during this time:", len(events))

	for _, event := range events {
		fmt.Fprintf(&builder, "\n  - %s (%s to %s)",
			summaryOf(event),
			renderEventTime(event.Start, loc),
			renderEventTime(event.End, loc),
		)
	}

	return builder.String(), nil
}

// FindAvailableSlots scans the interval's events in chronological order and
// proposes the first duration-sized slot of each gap; gaps are not tiled with
// every slot that would fit.
func (s *Service) FindAvailableSlots(ctx context.Context, userID, start, end string, durationMinutes int, loc *time.Location) (string, error) {
	startDt, err := timeutil.ParseNaive(start, loc)
	if err != nil {
		return "", err
	}

	endDt, err := timeutil.ParseNaive(end, loc)
	if err != nil {
		return "", err
	}

	if durationMinutes <= 0 {
		durationMinutes = defaultSlotMinutes
	}
	duration := time.Duration(durationMinutes) * time.Minute

	// A bare date means "during the working day", not midnight to midnight.
	if timeutil.IsMidnight(startDt) {
		startDt = startDt.Add(businessDayStart * time.Hour)
	}
	if timeutil.IsMidnight(endDt) {
		endDt = endDt.Add(businessDayEnd * time.Hour)
	}

	if !endDt.After(startDt) {
		return "", ErrInvalidInterval
	}

	events, err := s.listEvents(ctx, userID, startDt, endDt)
	if err != nil {
		return s.failureText("finding available slots", err), nil
	}

	var slots []string

	cursor := startDt
	for _, event := range events {
		eventStart, err := timeutil.ParseAPIInstant(event.Start.When())
		if err != nil {
			continue
		}
		eventEnd, err := timeutil.ParseAPIInstant(event.End.When())
		if err != nil {
			continue
		}

		if eventStart.Sub(cursor) >= duration {
			slots = append(slots, renderSlot(cursor, duration, loc))
		}

		if eventEnd.After(cursor) {
			cursor = eventEnd
		}
	}

	if endDt.Sub(cursor) >= duration {
		slots = append(slots, renderSlot(cursor, duration, loc))
	}

	if len(slots) == 0 {
		return fmt.Sprintf("No available %d-minute slots found between %s and %s.",
			durationMinutes,
			timeutil.FormatDayTime(startDt),
			timeutil.FormatDayTime(endDt),
		), nil
	}

	return fmt.Sprintf("Available %d-minute slots:\n%s", durationMinutes, strings.Join(slots, "\n")), nil
}

// CreateEvent localizes the requested wall-clock times to the user's offset,
// submits them in UTC and confirms with the originally requested times so the
// reply reads naturally out loud.
func (s *Service) CreateEvent(ctx context.Context, userID, title, start, end, description string, loc *time.Location) (string, error) {
	startDt, err := timeutil.ParseNaive(start, loc)
	if err != nil {
		return "", err
	}

	endDt, err := timeutil.ParseNaive(end, loc)
	if err != nil {
		return "", err
	}

	if !endDt.After(startDt) {
		return "", ErrInvalidInterval
	}

	// Past-dated events are allowed; refusing user intent silently is worse
	// than a backdated calendar entry.
	if startDt.Before(s.now().In(loc)) {
		slog.Warn("Creating event with start time in the past",
			"user", userID,
			"start", startDt,
		)
	}

	creds, err := s.creds.GetCalendarCredentials(userID)
	if err != nil {
		return s.failureText("creating the event", err), nil
	}

	input := gcal.EventInput{
		Summary:     title,
		Description: description,
		Start: gcal.EventTime{
			DateTime: timeutil.ToAPIInstant(startDt),
			TimeZone: "UTC",
		},
		End: gcal.EventTime{
			DateTime: timeutil.ToAPIInstant(endDt),
			TimeZone: "UTC",
		},
	}

	created, err := s.calendar.InsertEvent(ctx, creds, input)
	if err != nil {
		return s.failureText("creating the event", err), nil
	}

	slog.Info("Created calendar event",
		"user", userID,
		"event_id", created.ID,
		"title", title,
	)

	return fmt.Sprintf("I've scheduled %s for %s from %s to %s.",
		title,
		timeutil.FormatDate(startDt),
		timeutil.FormatClock(startDt),
		timeutil.FormatClock(endDt),
	), nil
}

// UpcomingEvents lists events in [now, now+hours) with start times rendered
// in the caller's offset.
func (s *Service) UpcomingEvents(ctx context.Context, userID string, hours int, loc *time.Location) (string, error) {
	if hours <= 0 {
		hours = 24
	}

	now := s.now().UTC()
	future := now.Add(time.Duration(hours) * time.Hour)

	events, err := s.listEvents(ctx, userID, now, future)
	if err != nil {
		return s.failureText("fetching upcoming events", err), nil
	}

	if len(events) == 0 {
		return fmt.Sprintf("No upcoming events in the next %d hours.", hours), nil
	}

	lines := pie.Map(events, func(event gcal.Event) string {
		return fmt.Sprintf("%s on %s", summaryOf(event), renderEventTime(event.Start, loc))
	})

	return "Upcoming events:\n" + strings.Join(lines, "\n"), nil
}

func (s *Service) listEvents(ctx context.Context, userID string, start, end time.Time) ([]gcal.Event, error) {
	creds, err := s.creds.GetCalendarCredentials(userID)
	if err != nil {
		return nil, err
	}

	events, err := s.calendar.ListEvents(ctx, creds, timeutil.ToAPIInstant(start), timeutil.ToAPIInstant(end))
	if err != nil {
		return nil, err
	}

	// The API orders by start time already; keep that guarantee structural
	// rather than trusting the collaborator.
	return pie.SortStableUsing(events, func(a, b gcal.Event) bool {
		return a.Start.When() < b.Start.When()
	}), nil
}

func (s *Service) failureText(operation string, err error) string {
	if errors.Is(err, gcal.ErrCredentialsExpired) {
		return credentialsExpiredMessage
	}

	if errors.Is(err, store.ErrNotFound) {
		return noCalendarMessage
	}

	slog.Error("Calendar operation failed",
		"operation", operation,
		"error", err,
	)

	return fmt.Sprintf("Error %s: %v", operation, err)
}

func summaryOf(event gcal.Event) string {
	if event.Summary == "" {
		return "Unnamed event"
	}
	return event.Summary
}

func renderSlot(cursor time.Time, duration time.Duration, loc *time.Location) string {
	start := cursor.In(loc)
	end := cursor.Add(duration).In(loc)

	return fmt.Sprintf("  - %s from %s to %s",
		timeutil.FormatDate(start),
		timeutil.FormatClock(start),
		timeutil.FormatClock(end),
	)
}

func renderEventTime(t gcal.EventTime, loc *time.Location) string {
	when := t.When()
	if when == "" {
		return "Unknown"
	}

	parsed, err := timeutil.ParseAPIInstant(when)
	if err != nil {
		return when
	}

	if t.DateTime == "" {
		return timeutil.FormatDate(parsed)
	}

	return timeutil.FormatDayTime(parsed.In(loc))
}
