// Package state provides filesystem-backed document stores.
package state

import "github.com/user/linkup/internal/types"

// Compile-time interface compliance checks.
var _ types.RunStore = (*RunStore)(nil)
var _ types.UserStore = (*UserStore)(nil)
var _ types.MessageStore = (*MessageStore)(nil)
var _ types.ConnectionStore = (*ConnectionStore)(nil)
var _ types.StoryStore = (*StoryStore)(nil)
