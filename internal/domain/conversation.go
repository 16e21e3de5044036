package domain

import "time"

// Transcript is the ordered message history sent to the completion API.
type Transcript []ChatMessage

// Clone returns a copy that can be appended to without aliasing t.
func (t Transcript) Clone() Transcript {
	out := make(Transcript, len(t))
	copy(out, t)
	return out
}

// Last returns the final message, or false for an empty transcript.
func (t Transcript) Last() (ChatMessage, bool) {
	if len(t) == 0 {
		return ChatMessage{}, false
	}
	return t[len(t)-1], true
}

// Session is one sender's conversation as held by a session store.
type Session struct {
	SenderID   string
	Transcript Transcript
	UpdatedAt  time.Time
}
