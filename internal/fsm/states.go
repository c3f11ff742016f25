package fsm

// Dialog states stored in UserProgress.State.
const (
	StateIdle             = ""
	StateAwaitingTimezone = "awaiting_timezone"
)

// Callback payloads of the menu buttons.
const (
	ActionToday       = "today"
	ActionDone        = "next"
	ActionSubscribe   = "subscribe"
	ActionStats       = "stats"
	ActionSetTimezone = "settimezone"
	ActionCancel      = "cancel"
)

// Zone shortcuts offered when the user is asked for a timezone.
const TimezonePrefix = "tz:"

func TimezoneAction(zone string) string {
	return TimezonePrefix + zone
}

var commonZones = []string{
	"Europe/Kaliningrad",
	"Europe/Moscow",
	"Europe/Samara",
	"Asia/Yekaterinburg",
	"Asia/Novosibirsk",
	"Asia/Vladivostok",
	"UTC",
}

func CommonZones() []string {
	out := make([]string, len(commonZones))
	copy(out, commonZones)
	return out
}
