package prompt

import (
	"fmt"
	"strings"
	"time"

	_ "embed"

	"calvoice/app/util/timeutil"
)

//go:embed system_prompt.txt
var systemPromptTemplate string

// System renders the assistant's system preamble for one user at one moment.
// Both the agent loop and the realtime session use the same preamble so tool
// behavior does not drift between text and voice.
func System(userID string, now time.Time) string {
	now = now.UTC()

	templateValues := map[string]any{
		"user_id":               userID,
		"current_date":          now.Format("2006-01-02"),
		"current_time":          now.Format("15:04:05") + " UTC",
		"current_datetime_full": now.Format("Monday, January 2, 2006") + " at " + timeutil.FormatClock(now) + " UTC",
		"day_of_week":           now.Format("Monday"),
		"year":                  now.Format("2006"),
	}

	result := systemPromptTemplate
	for key, value := range templateValues {
		result = strings.ReplaceAll(result, "{"+key+"}", fmt.Sprint(value))
	}

	return result
}
