package tools

import (
	"context"

	"calvoice/app/service/registry"
	"calvoice/app/util/timeutil"

	"github.com/samber/do"
)

// NewRegistry builds the tool registry shared by the agent loop and the
// realtime session. Both entry points bind the same operations and the same
// parameter schemas.
func NewRegistry(di *do.Injector) (*registry.Registry, error) {
	svc := do.MustInvoke[*Service](di)

	reg := registry.New()

	defs := []registry.Definition{
		{
			Name:        "get_current_time",
			Description: "Get the current date and time",
			Parameters:  map[string]any{},
			Handler: func(_ context.Context, _ registry.Arguments) (string, error) {
				return svc.CurrentTime(), nil
			},
		},
		{
			Name:        "check_availability",
			Description: "Check user's calendar availability during a specified time period",
			Parameters: map[string]any{
				"start": map[string]any{
					"type":        "string",
					"description": "Start datetime in ISO format (YYYY-MM-DDTHH:MM:SS), interpreted in the user's local timezone",
				},
				"end": map[string]any{
					"type":        "string",
					"description": "End datetime in ISO format (YYYY-MM-DDTHH:MM:SS), interpreted in the user's local timezone",
				},
			},
			Required:       []string{"start", "end"},
			InjectTimezone: true,
			Handler: func(ctx context.Context, args registry.Arguments) (string, error) {
				loc := timeutil.ParseOffset(args.String("user_timezone"))
				return svc.CheckAvailability(ctx, args.String("user_id"), args.String("start"), args.String("end"), loc)
			},
		},
		{
			Name:        "find_available_slots",
			Description: "Find available time slots for meetings within a date range",
			Parameters: map[string]any{
				"start": map[string]any{
					"type":        "string",
					"description": "Start date in ISO format (YYYY-MM-DD or YYYY-MM-DDTHH:MM:SS)",
				},
				"end": map[string]any{
					"type":        "string",
					"description": "End date in ISO format (YYYY-MM-DD or YYYY-MM-DDTHH:MM:SS)",
				},
				"duration_minutes": map[string]any{
					"type":        "integer",
					"description": "Desired meeting duration in minutes (default: 30)",
				},
			},
			Required:       []string{"start", "end"},
			InjectTimezone: true,
			Handler: func(ctx context.Context, args registry.Arguments) (string, error) {
				loc := timeutil.ParseOffset(args.String("user_timezone"))
				return svc.FindAvailableSlots(ctx,
					args.String("user_id"),
					args.String("start"),
					args.String("end"),
					args.Int("duration_minutes", defaultSlotMinutes),
					loc,
				)
			},
		},
		{
			Name:        "create_event",
			Description: "Create a new event on the user's calendar",
			Parameters: map[string]any{
				"title": map[string]any{
					"type":        "string",
					"description": "Event title/summary",
				},
				"start": map[string]any{
					"type":        "string",
					"description": "Start datetime in ISO format (YYYY-MM-DDTHH:MM:SS), interpreted in the user's local timezone",
				},
				"end": map[string]any{
					"type":        "string",
					"description": "End datetime in ISO format (YYYY-MM-DDTHH:MM:SS), interpreted in the user's local timezone",
				},
				"description": map[string]any{
					"type":        "string",
					"description": "Event description (optional)",
				},
			},
			Required:       []string{"title", "start", "end"},
			InjectTimezone: true,
			Handler: func(ctx context.Context, args registry.Arguments) (string, error) {
				loc := timeutil.ParseOffset(args.String("user_timezone"))
				return svc.CreateEvent(ctx,
					args.String("user_id"),
					args.String("title"),
					args.String("start"),
					args.String("end"),
					args.String("description"),
					loc,
				)
			},
		},
		{
			Name:        "get_upcoming_events",
			Description: "Get upcoming events for the user",
			Parameters: map[string]any{
				"hours": map[string]any{
					"type":        "integer",
					"description": "Number of hours to look ahead (default: 24)",
				},
			},
			InjectTimezone: true,
			Handler: func(ctx context.Context, args registry.Arguments) (string, error) {
				loc := timeutil.ParseOffset(args.String("user_timezone"))
				return svc.UpcomingEvents(ctx, args.String("user_id"), args.Int("hours", 24), loc)
			},
		},
	}

	for _, def := range defs {
		if err := reg.Register(def); err != nil {
			return nil, err
		}
	}

	return reg, nil
}
