package views

import (
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/nearby/internal/api"
	"github.com/matheus3301/nearby/internal/domain"
	"github.com/matheus3301/nearby/internal/tui/ui"
	"github.com/rivo/tview"
)

// MessageThread displays the conversation with one user and a composer.
type MessageThread struct {
	*tview.Flex
	theme    *ui.Theme
	messages *tview.TextView
	composer *tview.InputField
	peer     string
	peerName string
	onSend   func(text string)
	now      func() time.Time
}

// NewMessageThread creates a new message thread view.
func NewMessageThread(theme *ui.Theme) *MessageThread {
	messages := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	messages.SetBorder(true)
	messages.SetBorderColor(theme.BorderColor)
	messages.SetBackgroundColor(theme.BgColor)
	messages.SetTextColor(theme.FgColor)
	messages.SetTitle(" Messages ")
	messages.SetTitleColor(theme.TitleColor)

	composer := tview.NewInputField().
		SetLabel(" > ").
		SetFieldWidth(0)
	composer.SetBorder(true)
	composer.SetBorderColor(theme.BorderColor)
	composer.SetBackgroundColor(theme.BgColor)
	composer.SetFieldBackgroundColor(theme.BgColor)
	composer.SetFieldTextColor(theme.FgColor)
	composer.SetLabelColor(theme.MenuKeyColor)
	composer.SetTitle(" Compose (i to focus) ")
	composer.SetTitleColor(theme.TitleColor)

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(messages, 0, 1, true).
		AddItem(composer, 3, 0, false)

	mt := &MessageThread{
		Flex:     flex,
		theme:    theme,
		messages: messages,
		composer: composer,
		now:      time.Now,
	}

	composer.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter && mt.onSend != nil {
			text := composer.GetText()
			if text != "" {
				mt.onSend(text)
				composer.SetText("")
			}
		}
	})

	return mt
}

// Name implements ui.Component.
func (mt *MessageThread) Name() string { return "Chat" }

// Hints implements ui.Component.
func (mt *MessageThread) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Esc", Description: "Back"},
	}
}

// SetPeer sets the user on the other end of the conversation.
func (mt *MessageThread) SetPeer(id, name string) {
	mt.peer = id
	mt.peerName = name
	if name == "" {
		name = id
	}
	mt.messages.SetTitle(fmt.Sprintf(" %s ", display(name)))
	mt.messages.Clear()
}

// Peer returns the user id of the conversation.
func (mt *MessageThread) Peer() string { return mt.peer }

// SetOnSend sets the callback when a message is sent.
func (mt *MessageThread) SetOnSend(fn func(text string)) {
	mt.onSend = fn
}

// Update renders msgs, oldest first. Messages still waiting for the backend
// and messages that failed are marked.
func (mt *MessageThread) Update(msgs []api.Message) {
	mt.messages.Clear()

	now := mt.now()
	for _, m := range msgs {
		sender := mt.peerName
		if sender == "" {
			sender = m.SenderID
		}
		if m.SenderID != mt.peer {
			sender = "You"
		}

		mark := ""
		switch m.State {
		case domain.MessageLocal:
			mark = fmt.Sprintf(" [%s]sending[-]", ui.Tag(mt.theme.PendingColor))
		case domain.MessageFailed:
			mark = fmt.Sprintf(" [%s]failed, R to resend[-]", ui.Tag(mt.theme.FailedColor))
		default:
			if m.SenderID != mt.peer && m.ReadAt != nil {
				mark = " [::d]read[-:-:-]"
			}
		}

		_, _ = fmt.Fprintf(mt.messages, "[::b]%s[-:-:-] [::d]%s[-:-:-]%s\n%s\n\n",
			display(sender), formatTimestamp(m.CreatedAt, now), mark, display(m.Content))
	}

	mt.messages.ScrollToEnd()
}

// Messages returns the messages text view (for focus management).
func (mt *MessageThread) Messages() *tview.TextView {
	return mt.messages
}

// Composer returns the composer input field (for focus management).
func (mt *MessageThread) Composer() *tview.InputField {
	return mt.composer
}
