package handlers

import (
	"fmt"

	"github.com/user/linkup/internal/types"
)

func connectionRequestEmail(to, from *types.User, frontendURL string) *types.Email {
	return &types.Email{
		To:      to.Email,
		Subject: "New Connection Request",
		Body: fmt.Sprintf(`<div style="font-family:Arial,sans-serif;padding:20px;">
  <h2>Hi %s,</h2>
  <p>You have a new connection request from %s - @%s</p>
  <p>Click <a href="%s/connections" style="color:#10b981;">here</a> to accept or reject</p>
</div>`, to.FullName, from.FullName, from.Username, frontendURL),
	}
}

func connectionReminderEmail(to, from *types.User, frontendURL string) *types.Email {
	return &types.Email{
		To:      to.Email,
		Subject: "Reminder: Connection Request Pending",
		Body: fmt.Sprintf(`<div style="font-family:Arial,sans-serif;padding:20px;">
  <h2>Hi %s,</h2>
  <p>This is a reminder you still have a pending connection request from %s - @%s</p>
  <p>Click <a href="%s/connections" style="color:#10b981;">here</a> to accept or reject</p>
</div>`, to.FullName, from.FullName, from.Username, frontendURL),
	}
}

func digestEmail(to *types.User, count int, frontendURL string) *types.Email {
	return &types.Email{
		To:      to.Email,
		Subject: fmt.Sprintf("You have %d unseen messages", count),
		Body: fmt.Sprintf(`<div style="font-family:Arial,sans-serif;padding:20px">
  <h2>Hi %s</h2>
  <p>You have %d unseen messages</p>
  <p>Click <a href="%s/messages" style="color:#10b981">here</a> to view</p>
</div>`, to.FullName, count, frontendURL),
	}
}
