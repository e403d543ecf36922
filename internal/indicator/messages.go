package indicator

import (
	"os"
	"strings"
)

type locale string

const (
	localeEnglish locale = "en"
)

type messages struct {
	recording    string
	converting   string
	transcribing string
	saving       string
	saved        string
	noSpeech     string
	errorText    string
}

func indicatorMessagesFromEnv() messages {
	return indicatorMessages(resolveLocale(os.Getenv("LANG")))
}

func resolveLocale(raw string) locale {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if strings.HasPrefix(raw, "en") {
		return localeEnglish
	}
	return localeEnglish
}

func indicatorMessages(tag locale) messages {
	switch tag {
	case localeEnglish:
		fallthrough
	default:
		return messages{
			recording:    "Recording…",
			converting:   "Processing audio…",
			transcribing: "Transcribing…",
			saving:       "Saving note…",
			saved:        "Note saved",
			noSpeech:     "Note saved (no speech detected)",
			errorText:    "Voice note failed",
		}
	}
}
