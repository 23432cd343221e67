package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTracker_PingPrefix(t *testing.T) {
	tests := []struct {
		name    string
		tracker Tracker
		want    string
	}{
		{"none", Tracker{PingType: PingNone}, ""},
		{"here", Tracker{PingType: PingHere}, "@here"},
		{"everyone", Tracker{PingType: PingEveryone}, "@everyone"},
		{"groups only", Tracker{PingType: PingNone, PingGroups: []string{"111", " ", "222"}}, "<@&111> <@&222>"},
		{"here and group", Tracker{PingType: PingHere, PingGroups: []string{"333"}}, "@here <@&333>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.tracker.PingPrefix())
		})
	}
}

func TestTracker_HasSecSpaceExclusion(t *testing.T) {
	assert.False(t, (&Tracker{}).HasSecSpaceExclusion())
	assert.True(t, (&Tracker{ExcludeWSpace: true}).HasSecSpaceExclusion())
}

func TestMessage_WebhookParams(t *testing.T) {
	msg := NewMessage("hello")
	msg.Username = "Killtracker"

	assert.NotEmpty(t, msg.ID)
	params := msg.WebhookParams()
	assert.Equal(t, "hello", params.Content)
	assert.Equal(t, "Killtracker", params.Username)
	assert.NotEqual(t, msg.ID, NewMessage("hello").ID)
}
