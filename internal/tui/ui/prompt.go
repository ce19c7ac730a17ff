package ui

import (
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// PromptMode selects what the input bar edits.
type PromptMode int

const (
	PromptCommand PromptMode = iota
	PromptFilter
)

const commandPlaceholder = "connect, chat, online, offline, scan, drain, share, quit"

// Prompt is the bottom input bar. In filter mode every keystroke is reported
// so the radar narrows while the user types; Esc puts the old filter back.
type Prompt struct {
	*tview.InputField
	mode     PromptMode
	previous string
	onSubmit func(mode PromptMode, text string)
	onChange func(text string)
	onCancel func()
}

func NewPrompt(theme *Theme) *Prompt {
	p := &Prompt{InputField: tview.NewInputField()}
	p.SetBorder(true)
	p.SetBorderColor(theme.PromptBorderColor)
	p.SetTitleColor(theme.TitleColor)
	p.SetBackgroundColor(theme.BgColor)
	p.SetFieldBackgroundColor(theme.BgColor)
	p.SetFieldTextColor(theme.FgColor)
	p.SetLabelColor(theme.MenuKeyColor)
	p.SetPlaceholderTextColor(theme.BorderColor)

	p.SetChangedFunc(func(text string) {
		if p.mode == PromptFilter && p.onChange != nil {
			p.onChange(text)
		}
	})
	p.SetDoneFunc(func(key tcell.Key) {
		switch key {
		case tcell.KeyEnter:
			text := p.GetText()
			if p.onSubmit != nil {
				p.onSubmit(p.mode, text)
			}
		case tcell.KeyEscape:
			if p.mode == PromptFilter && p.onChange != nil {
				p.onChange(p.previous)
			}
			if p.onCancel != nil {
				p.onCancel()
			}
		}
	})
	return p
}

// SetOnSubmit is called on Enter. An empty filter clears the radar filter.
func (p *Prompt) SetOnSubmit(fn func(mode PromptMode, text string)) {
	p.onSubmit = fn
}

// SetOnChange receives the filter text as it is typed.
func (p *Prompt) SetOnChange(fn func(text string)) {
	p.onChange = fn
}

func (p *Prompt) SetOnCancel(fn func()) {
	p.onCancel = fn
}

// Activate opens the bar in mode with text prefilled. For a filter, text is
// also what Esc restores.
func (p *Prompt) Activate(mode PromptMode, text string) {
	// Switch mode first so the prefill is not reported as a keystroke.
	p.mode = PromptCommand
	p.SetText(text)
	p.mode = mode
	p.previous = text
	switch mode {
	case PromptCommand:
		p.SetLabel(":").SetTitle(" Command ")
		p.SetPlaceholder(commandPlaceholder)
	case PromptFilter:
		p.SetLabel("/").SetTitle(" Filter radar ")
		p.SetPlaceholder("name, id or interest")
	}
}

func (p *Prompt) Mode() PromptMode {
	return p.mode
}
