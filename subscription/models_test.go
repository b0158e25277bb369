package subscription

import "testing"

func TestStatusEntitles(t *testing.T) {
	tests := []struct {
		status Status
		want   bool
	}{
		{StatusActive, true},
		{StatusTrialing, true},
		{StatusPastDue, false},
		{StatusCanceled, false},
		{StatusIncomplete, false},
		{StatusIncompleteExpired, false},
		{StatusUnpaid, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.Entitles(); got != tt.want {
				t.Errorf("Entitles(%s): got %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestStatusValid(t *testing.T) {
	valid := []Status{
		StatusActive, StatusTrialing, StatusPastDue, StatusCanceled,
		StatusIncomplete, StatusIncompleteExpired, StatusUnpaid,
	}
	for _, s := range valid {
		if !s.Valid() {
			t.Errorf("expected %s to be valid", s)
		}
	}
	for _, s := range []Status{"", "paused", "ACTIVE"} {
		if s.Valid() {
			t.Errorf("expected %q to be invalid", s)
		}
	}
}
