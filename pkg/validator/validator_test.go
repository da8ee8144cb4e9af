package validator

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestValidateMessage(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		image   string
		video   string
		invalid []string
	}{
		{name: "text only", text: "hi"},
		{name: "empty is left to the relay"},
		{name: "image url", image: "https://cdn.example.com/a.png"},
		{name: "too long", text: strings.Repeat("x", MaxMessageLength+1), invalid: []string{"text"}},
		{name: "bad refs", image: "not a url", video: "ftp://host/v.mp4", invalid: []string{"image_url", "video_url"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			errs := ValidateMessage(tc.text, tc.image, tc.video)
			assert.Len(t, errs, len(tc.invalid))
			for _, f := range tc.invalid {
				assert.Contains(t, errs, f)
			}
		})
	}
}

func TestValidateSchedule(t *testing.T) {
	errs := ValidateSchedule(uuid.Nil, "  ", time.Time{})
	assert.True(t, errs.HasErrors())
	assert.Contains(t, errs, "receiver_id")
	assert.Contains(t, errs, "message")
	assert.Contains(t, errs, "schedule_time")
	assert.Equal(t, "message: Message is required; receiver_id: Receiver is required; schedule_time: Schedule time is required", errs.Error())

	errs = ValidateSchedule(uuid.New(), "later", time.Now().Add(-time.Hour))
	assert.False(t, errs.HasErrors(), "past schedule times are accepted")
}

func TestValidateUpload(t *testing.T) {
	assert.False(t, ValidateUpload("image").HasErrors())
	assert.False(t, ValidateUpload("video").HasErrors())
	assert.True(t, ValidateUpload("").HasErrors())
	assert.True(t, ValidateUpload("pdf").HasErrors())
}

func TestValidateTranslate(t *testing.T) {
	assert.False(t, ValidateTranslate("hola", "en").HasErrors())
	assert.False(t, ValidateTranslate("hola", "pt-BR").HasErrors())

	errs := ValidateTranslate("", "english please")
	assert.Contains(t, errs, "text")
	assert.Contains(t, errs, "target")
}

func TestValidateScheduleRole(t *testing.T) {
	for _, role := range []string{"", ScheduleRoleSender, ScheduleRoleAll} {
		assert.False(t, ValidateScheduleRole(role).HasErrors(), role)
	}
	assert.Contains(t, ValidateScheduleRole("receiver"), "role")
}
