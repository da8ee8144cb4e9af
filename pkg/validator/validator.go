package validator

import (
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	MaxMessageLength   = 4000
	MaxTranslateLength = 8000
)

type ValidationErrors map[string]string

func (v ValidationErrors) HasErrors() bool {
	return len(v) > 0
}

func (v ValidationErrors) Add(field, message string) {
	v[field] = message
}

// Error joins the field messages in field order so it can travel as an error.
func (v ValidationErrors) Error() string {
	fields := make([]string, 0, len(v))
	for f := range v {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, f+": "+v[f])
	}
	return strings.Join(parts, "; ")
}

// Scheduled list scopes.
const (
	ScheduleRoleSender = "sender"
	ScheduleRoleAll    = "all"
)

// ValidateScheduleRole accepts an empty role, which means sender.
func ValidateScheduleRole(role string) ValidationErrors {
	errs := make(ValidationErrors)
	switch role {
	case "", ScheduleRoleSender, ScheduleRoleAll:
	default:
		errs.Add("role", "must be sender or all")
	}
	return errs
}

var languageRegex = regexp.MustCompile(`^[A-Za-z]{2,3}(-[A-Za-z0-9]{2,8})?$`)

// ValidateMessage checks message content. Emptiness is left to the relay,
// which treats it as a no-op.
func ValidateMessage(text, imageURL, videoURL string) ValidationErrors {
	errs := make(ValidationErrors)

	if utf8.RuneCountInString(text) > MaxMessageLength {
		errs.Add("text", "Message is too long")
	}
	validateRef("image_url", imageURL, errs)
	validateRef("video_url", videoURL, errs)

	return errs
}

func ValidateSchedule(receiverID uuid.UUID, message string, scheduleTime time.Time) ValidationErrors {
	errs := make(ValidationErrors)

	if receiverID == uuid.Nil {
		errs.Add("receiver_id", "Receiver is required")
	}

	message = strings.TrimSpace(message)
	if message == "" {
		errs.Add("message", "Message is required")
	} else if utf8.RuneCountInString(message) > MaxMessageLength {
		errs.Add("message", "Message is too long")
	}

	if scheduleTime.IsZero() {
		errs.Add("schedule_time", "Schedule time is required")
	}

	return errs
}

func ValidateUpload(kind string) ValidationErrors {
	errs := make(ValidationErrors)

	switch strings.TrimSpace(kind) {
	case "":
		errs.Add("kind", "Kind is required")
	case "image", "video":
	default:
		errs.Add("kind", "Kind must be image or video")
	}

	return errs
}

func ValidateTranslate(text, target string) ValidationErrors {
	errs := make(ValidationErrors)

	text = strings.TrimSpace(text)
	if text == "" {
		errs.Add("text", "Text is required")
	} else if utf8.RuneCountInString(text) > MaxTranslateLength {
		errs.Add("text", "Text is too long")
	}

	target = strings.TrimSpace(target)
	if target == "" {
		errs.Add("target", "Target language is required")
	} else if !languageRegex.MatchString(target) {
		errs.Add("target", "Target must be a language code such as en or pt-BR")
	}

	return errs
}

func validateRef(field, ref string, errs ValidationErrors) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return
	}
	u, err := url.Parse(ref)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs.Add(field, "Must be an http(s) URL")
	}
}
