package ui

import "github.com/rivo/tview"

// Pages is a stack of components over tview.Pages. Every push hides the
// previous top; every pop shows it again.
type Pages struct {
	*tview.Pages
	stack    []Component
	onChange func(top Component, stack []string)
}

// NewPages creates an empty page stack.
func NewPages() *Pages {
	return &Pages{
		Pages: tview.NewPages(),
	}
}

// SetOnChange sets a callback that fires when the stack changes.
func (p *Pages) SetOnChange(fn func(top Component, stack []string)) {
	p.onChange = fn
}

// Push shows c on top of the stack. Pushing the current top is a no-op.
func (p *Pages) Push(c Component) {
	if top := p.Current(); top != nil {
		if top.Name() == c.Name() {
			return
		}
		p.HidePage(top.Name())
	}
	if !p.HasPage(c.Name()) {
		p.AddPage(c.Name(), c, true, false)
	}
	p.stack = append(p.stack, c)
	p.ShowPage(c.Name())
	p.SendToFront(c.Name())
	p.notify()
}

// Pop removes the top component and shows the previous one. The root
// component is never popped; Pop returns nil then.
func (p *Pages) Pop() Component {
	if len(p.stack) <= 1 {
		return nil
	}
	top := p.stack[len(p.stack)-1]
	p.HidePage(top.Name())
	p.stack = p.stack[:len(p.stack)-1]
	current := p.stack[len(p.stack)-1]
	p.ShowPage(current.Name())
	p.SendToFront(current.Name())
	p.notify()
	return top
}

// Current returns the top component, or nil when the stack is empty.
func (p *Pages) Current() Component {
	if len(p.stack) == 0 {
		return nil
	}
	return p.stack[len(p.stack)-1]
}

// Names returns the component names from root to top.
func (p *Pages) Names() []string {
	names := make([]string, len(p.stack))
	for i, c := range p.stack {
		names[i] = c.Name()
	}
	return names
}

// Reset clears the stack down to c.
func (p *Pages) Reset(c Component) {
	for _, old := range p.stack {
		p.HidePage(old.Name())
	}
	p.stack = nil
	p.Push(c)
}

func (p *Pages) notify() {
	if p.onChange != nil {
		p.onChange(p.Current(), p.Names())
	}
}
