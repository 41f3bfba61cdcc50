package session_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/hoangnm/dailyquiz/internal/session"
)

func TestNextRun(t *testing.T) {
	loc := time.FixedZone("ICT", 7*60*60)

	tests := map[string]struct {
		now    time.Time
		postAt string
		want   time.Time
	}{
		"later today": {
			now:    time.Date(2026, 8, 28, 8, 0, 0, 0, loc),
			postAt: "09:30",
			want:   time.Date(2026, 8, 28, 9, 30, 0, 0, loc),
		},
		"already passed rolls to tomorrow": {
			now:    time.Date(2026, 8, 28, 10, 0, 0, 0, loc),
			postAt: "09:30",
			want:   time.Date(2026, 8, 29, 9, 30, 0, 0, loc),
		},
		"exactly at post time rolls to tomorrow": {
			now:    time.Date(2026, 8, 28, 9, 30, 0, 0, loc),
			postAt: "09:30",
			want:   time.Date(2026, 8, 29, 9, 30, 0, 0, loc),
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, session.NextRun(tt.now, tt.postAt))
		})
	}
}
