package events

import "testing"

func TestSubject(t *testing.T) {
	cases := []struct {
		kind string
		want string
	}{
		{"clerk/user.created", "linkup.clerk.user.created"},
		{"app/connection-request", "linkup.app.connection-request"},
		{"cron/unseen-messages-digest", "linkup.cron.unseen-messages-digest"},
	}
	for _, tc := range cases {
		if got := Subject(tc.kind); got != tc.want {
			t.Errorf("Subject(%q) = %q, want %q", tc.kind, got, tc.want)
		}
	}
}
