package mail

import (
	"context"
	"strings"
	"testing"

	"github.com/user/linkup/internal/types"
)

func TestBuildMessage(t *testing.T) {
	email := &types.Email{
		To:      "bob@example.com",
		Subject: "New Connection Request",
		Body:    "<h2>Hello Bob</h2><p>Alice wants to <strong>connect</strong>.</p>",
	}

	msg, err := buildMessage("noreply@example.com", email)
	if err != nil {
		t.Fatal(err)
	}
	raw := string(msg)

	for _, want := range []string{
		"From: noreply@example.com\r\n",
		"To: bob@example.com\r\n",
		"Subject: New Connection Request\r\n",
		"Content-Type: multipart/alternative",
		"Content-Type: text/plain; charset=utf-8",
		"Content-Type: text/html; charset=utf-8",
		"<h2>Hello Bob</h2>",
	} {
		if !strings.Contains(raw, want) {
			t.Errorf("message missing %q", want)
		}
	}

	// The text part is derived from the HTML, with the markup stripped.
	textPart := raw[strings.Index(raw, "text/plain"):strings.Index(raw, "text/html")]
	if strings.Contains(textPart, "<h2>") {
		t.Error("text part still contains HTML tags")
	}
	if !strings.Contains(textPart, "Hello Bob") {
		t.Error("text part lost the body content")
	}
}

func TestRecorder(t *testing.T) {
	r := NewRecorder()
	ctx := context.Background()

	if err := r.Send(ctx, &types.Email{To: "a@example.com", Subject: "one"}); err != nil {
		t.Fatal(err)
	}
	if err := r.Send(ctx, &types.Email{To: "b@example.com", Subject: "two"}); err != nil {
		t.Fatal(err)
	}

	if got := len(r.Sent()); got != 2 {
		t.Errorf("Sent = %d", got)
	}
	if got := r.SentTo("a@example.com"); len(got) != 1 || got[0].Subject != "one" {
		t.Errorf("SentTo mismatch: %+v", got)
	}
	if got := r.SentTo("nobody@example.com"); len(got) != 0 {
		t.Errorf("expected none, got %d", len(got))
	}
}
