package views

import (
	"fmt"

	"github.com/periskope/chat/internal/backend"
	"github.com/rivo/tview"
)

// MessageView displays the message thread of the selected chat.
type MessageView struct {
	*tview.TextView
	chatName string
}

// NewMessageView creates a new message view.
func NewMessageView() *MessageView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	tv.SetBorder(true).SetTitle(" No chat selected ")

	return &MessageView{TextView: tv}
}

// SetChatName updates the title with the chat header name.
func (mv *MessageView) SetChatName(name string) {
	mv.chatName = name
	mv.SetTitle(fmt.Sprintf(" %s ", name))
}

// ShowIdle restores the no-selection placeholder.
func (mv *MessageView) ShowIdle() {
	mv.chatName = ""
	mv.Clear()
	mv.SetTitle(" No chat selected ")
	_, _ = fmt.Fprint(mv, "\nChoose a chat from the sidebar or start a new conversation.")
}

// Update refreshes the view. Messages arrive oldest first and are
// rendered in that order.
func (mv *MessageView) Update(msgs []backend.Message, selfID string) {
	mv.Clear()

	for _, m := range msgs {
		sender := m.Sender.Name
		if sender == "" {
			sender = m.SenderID
		}
		if m.SenderID == selfID {
			sender = "You"
		}

		ts := formatTimestamp(m.CreatedAt)
		line := fmt.Sprintf("[::b]%s[-:-:-] [::d]%s[-:-:-]\n%s\n\n", sender, ts, m.Content)
		_, _ = fmt.Fprint(mv, line)
	}

	mv.ScrollToEnd()
}
