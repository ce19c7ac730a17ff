package tui

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/nearby/internal/tui/client"
	"github.com/matheus3301/nearby/internal/tui/keys"
	"github.com/matheus3301/nearby/internal/tui/model"
	"github.com/matheus3301/nearby/internal/tui/ui"
	"github.com/matheus3301/nearby/internal/tui/views"
	"github.com/rivo/tview"
)

const (
	callTimeout   = 5 * time.Second
	refreshEvery  = 5 // seconds between full reloads
	spinnerPeriod = 120 * time.Millisecond
	headerHeight  = 6
)

// App is the radar terminal UI.
type App struct {
	app      *tview.Application
	theme    *ui.Theme
	vm       *model.ViewModel
	grpc     *client.Client
	registry *keys.Registry
	flash    *ui.FlashModel

	main      *tview.Flex
	pages     *ui.Pages
	info      *ui.AccountInfo
	menu      *ui.Menu
	crumbs    *ui.Crumbs
	prompt    *ui.Prompt
	flashBar  *ui.FlashBar
	statusBar *views.StatusBar

	radar   *views.Radar
	thread  *views.MessageThread
	profile *views.ProfileView
	share   *views.ShareView
	help    *views.HelpView

	// user shown on the profile page
	profileUser string

	ctx    context.Context
	cancel context.CancelFunc
}

// NewApp creates the TUI application.
func NewApp(c *client.Client) *App {
	ctx, cancel := context.WithCancel(context.Background())
	theme := ui.DefaultTheme()

	a := &App{
		app:       tview.NewApplication(),
		theme:     theme,
		vm:        model.NewViewModel(c),
		grpc:      c,
		registry:  keys.NewRegistry(),
		flash:     ui.NewFlashModel(),
		pages:     ui.NewPages(),
		info:      ui.NewAccountInfo(theme),
		menu:      ui.NewMenu(theme, headerHeight),
		crumbs:    ui.NewCrumbs(theme),
		prompt:    ui.NewPrompt(theme),
		flashBar:  ui.NewFlashBar(theme),
		statusBar: views.NewStatusBar(theme),
		radar:     views.NewRadar(theme),
		thread:    views.NewMessageThread(theme),
		profile:   views.NewProfileView(theme),
		share:     views.NewShareView(theme),
		help:      views.NewHelpView(theme),
		ctx:       ctx,
		cancel:    cancel,
	}

	a.setupBindings()
	a.setupCallbacks()
	a.setupLayout()

	return a
}

func (a *App) setupBindings() {
	rk := func(r rune, desc string, fn func()) *keys.Action {
		return &keys.Action{Key: tcell.KeyRune, Rune: r, Description: desc, Handler: fn}
	}

	a.registry.AddGlobal(rk(':', "Command", func() { a.showPrompt(ui.PromptCommand) }))
	a.registry.AddGlobal(rk('o', "Online/Offline", a.toggleOnline))
	a.registry.AddGlobal(rk('s', "Scan", a.toggleScan))
	a.registry.AddGlobal(rk('r', "Refresh", a.refresh))
	a.registry.AddGlobal(rk('p', "Share", a.showShare))
	a.registry.AddGlobal(rk('?', "Help", func() { a.pages.Push(a.help) }))
	a.registry.AddGlobal(rk('q', "Quit", a.Stop))

	radar := a.radar.Name()
	a.registry.AddView(radar, &keys.Action{Key: tcell.KeyEnter, Description: "Chat", Handler: func() { a.openChat(a.target()) }})
	a.registry.AddView(radar, rk('c', "Connect", func() { a.connect(a.target()) }))
	a.registry.AddView(radar, rk('a', "Accept", func() { a.respond(a.target(), true) }))
	a.registry.AddView(radar, rk('x', "Decline", func() { a.respond(a.target(), false) }))
	a.registry.AddView(radar, rk('d', "Details", func() { a.showProfile(a.target()) }))
	a.registry.AddView(radar, rk('/', "Filter", func() { a.showPrompt(ui.PromptFilter) }))

	profile := a.profile.Name()
	a.registry.AddView(profile, &keys.Action{Key: tcell.KeyEnter, Description: "Chat", Handler: func() { a.openChat(a.target()) }})
	a.registry.AddView(profile, rk('c', "Connect", func() { a.connect(a.target()) }))
	a.registry.AddView(profile, rk('a', "Accept", func() { a.respond(a.target(), true) }))
	a.registry.AddView(profile, rk('x', "Decline", func() { a.respond(a.target(), false) }))

	chat := a.thread.Name()
	a.registry.AddView(chat, rk('i', "Compose", func() { a.app.SetFocus(a.thread.Composer()) }))
	a.registry.AddView(chat, rk('R', "Resend", a.resend))
	a.registry.AddView(chat, rk('d', "Details", func() { a.showProfile(a.thread.Peer()) }))
}

func (a *App) setupCallbacks() {
	a.thread.SetOnSend(func(text string) {
		a.run("send", func(ctx context.Context) error {
			_, err := a.vm.Send(ctx, text)
			return err
		})
	})

	a.prompt.SetOnSubmit(func(mode ui.PromptMode, text string) {
		a.hidePrompt()
		if mode == ui.PromptFilter {
			a.radar.SetFilter(text)
			return
		}
		a.execute(ParseCommand(text))
	})
	a.prompt.SetOnChange(a.radar.SetFilter)
	a.prompt.SetOnCancel(a.hidePrompt)

	a.pages.SetOnChange(func(top ui.Component, stack []string) {
		a.crumbs.Update(stack)
		a.menu.Update(append(a.registry.Hints(top.Name()), top.Hints()...))
		a.focusPage(top)
	})
}

func (a *App) setupLayout() {
	header := tview.NewFlex().
		AddItem(a.info, 44, 0, false).
		AddItem(a.menu, 0, 1, false).
		AddItem(ui.NewLogo(a.theme), 18, 0, false)

	a.main = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(header, headerHeight, 0, false).
		AddItem(a.crumbs, 1, 0, false).
		AddItem(a.prompt, 0, 0, false).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.flashBar, 1, 0, false).
		AddItem(a.statusBar, 1, 0, false)
	a.main.SetBackgroundColor(a.theme.BgColor)

	a.pages.Push(a.radar)
	a.app.SetRoot(a.main, true)
	a.app.SetInputCapture(a.capture)
}

func (a *App) capture(event *tcell.EventKey) *tcell.EventKey {
	focused := a.app.GetFocus()
	if focused == a.thread.Composer() && event.Key() == tcell.KeyEscape {
		a.app.SetFocus(a.thread.Messages())
		return nil
	}
	// Text inputs get every key, Esc and Enter included.
	if _, ok := focused.(*tview.InputField); ok {
		return event
	}

	top := a.pages.Current()
	if event.Key() == tcell.KeyEscape {
		if top == a.radar && a.radar.Filter() != "" {
			a.radar.SetFilter("")
			return nil
		}
		if popped := a.pages.Pop(); popped == a.thread {
			a.vm.CloseThread()
		}
		return nil
	}

	if top == a.radar && event.Key() == tcell.KeyRune && event.Rune() >= '1' && event.Rune() <= '9' {
		a.radar.Jump(int(event.Rune() - '0'))
		return nil
	}

	if a.registry.HandleEvent(top.Name(), event) {
		return nil
	}
	return event
}

func (a *App) focusPage(top ui.Component) {
	switch top {
	case a.thread:
		a.app.SetFocus(a.thread.Messages())
	default:
		a.app.SetFocus(top)
	}
}

func (a *App) showPrompt(mode ui.PromptMode) {
	text := ""
	if mode == ui.PromptFilter {
		text = a.radar.Filter()
	}
	a.prompt.Activate(mode, text)
	a.main.ResizeItem(a.prompt, 3, 0)
	a.app.SetFocus(a.prompt)
}

func (a *App) hidePrompt() {
	a.main.ResizeItem(a.prompt, 0, 0)
	a.focusPage(a.pages.Current())
}

// target is the user the current page is about.
func (a *App) target() string {
	switch a.pages.Current() {
	case a.profile:
		return a.profileUser
	case a.thread:
		return a.thread.Peer()
	default:
		return a.radar.Selected()
	}
}

func (a *App) execute(cmd Command) {
	switch cmd.Name {
	case "quit":
		a.Stop()
	case "help":
		a.pages.Push(a.help)
	case "share":
		a.showShare()
	case "chat":
		a.openChat(cmd.Args)
	case "connect":
		a.connect(cmd.Args)
	case "online", "offline":
		online := cmd.Name == "online"
		a.run(cmd.Name, func(ctx context.Context) error {
			_, err := a.grpc.SetOnline(ctx, online)
			return err
		})
	case "scan":
		a.toggleScan()
	case "drain":
		a.run("drain", func(ctx context.Context) error {
			res, err := a.grpc.Drain(ctx)
			if err != nil {
				return err
			}
			if res.Skipped {
				a.flash.Warn("drain skipped: offline or already draining")
			} else {
				a.flash.Info(fmt.Sprintf("drained %d: %d delivered, %d retrying, %d dropped",
					res.Attempted, res.Delivered, res.Retrying, res.Dropped))
			}
			return nil
		})
	case "permission":
		capability := cmd.Args
		a.run("permission", func(ctx context.Context) error {
			if _, err := a.grpc.ResetPermission(ctx, capability); err != nil {
				return err
			}
			a.flash.Info(capability + " permission will be asked again")
			return nil
		})
	case "":
	default:
		a.flash.Warn("unknown command: " + cmd.Name)
	}
}

func (a *App) openChat(userID string) {
	if userID == "" {
		return
	}
	name := userID
	if u, ok := a.vm.NearbyUser(userID); ok && u.Name != "" {
		name = u.Name
	}
	a.thread.SetPeer(userID, name)
	a.pages.Push(a.thread)
	a.run("open chat", func(ctx context.Context) error {
		return a.vm.OpenThread(ctx, userID)
	})
}

func (a *App) showProfile(userID string) {
	if userID == "" {
		return
	}
	a.profileUser = userID
	a.renderProfile()
	a.pages.Push(a.profile)
}

func (a *App) showShare() {
	st := a.vm.Status()
	if st == nil {
		a.flash.Warn("not connected to the daemon yet")
		return
	}
	a.share.ShowProfile(st.Self, st.Account)
	a.pages.Push(a.share)
}

func (a *App) connect(userID string) {
	if userID == "" {
		return
	}
	a.run("connect", func(ctx context.Context) error {
		conn, err := a.vm.Connect(ctx, userID)
		if err != nil {
			return err
		}
		a.flash.Info("connection request sent to " + conn.ToUserID)
		return nil
	})
}

func (a *App) respond(userID string, accept bool) {
	if userID == "" {
		return
	}
	a.run("respond", func(ctx context.Context) error {
		conn, err := a.vm.Respond(ctx, userID, accept)
		if err != nil {
			return err
		}
		a.flash.Info(fmt.Sprintf("connection with %s %s", userID, conn.Status))
		return nil
	})
}

func (a *App) resend() {
	a.run("resend", func(ctx context.Context) error {
		n, err := a.vm.ResendFailed(ctx)
		if err != nil {
			return err
		}
		if n == 0 {
			a.flash.Info("no failed messages")
		} else {
			a.flash.Info(fmt.Sprintf("resent %d message(s)", n))
		}
		return nil
	})
}

func (a *App) toggleOnline() {
	a.run("toggle online", func(ctx context.Context) error {
		online, err := a.vm.ToggleOnline(ctx)
		if err != nil {
			return err
		}
		if online {
			a.flash.Info("back online, replaying queued actions")
		} else {
			a.flash.Warn("offline: actions are queued until you go back online")
		}
		return nil
	})
}

func (a *App) toggleScan() {
	a.run("scan", func(ctx context.Context) error {
		_, err := a.vm.ToggleScan(ctx)
		return err
	})
}

func (a *App) refresh() {
	a.run("refresh", a.vm.LoadAll)
}

// run executes fn off the UI goroutine, flashes its error and redraws.
func (a *App) run(what string, fn func(ctx context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(a.ctx, callTimeout)
		defer cancel()
		if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.flash.Err(fmt.Errorf("%s: %w", what, err))
		}
		_ = a.vm.LoadStatus(ctx)
		a.redraw()
	}()
}

func (a *App) redraw() {
	a.app.QueueUpdateDraw(a.render)
}

// render copies the view model into the widgets. It runs on the UI goroutine.
func (a *App) render() {
	st := a.vm.Status()
	a.statusBar.SetStatus(st)
	if st != nil {
		a.info.Update(&ui.AccountData{
			Account:      st.Account,
			Self:         st.Self,
			Tier:         string(st.Tier),
			Backend:      st.Backend,
			Connectivity: st.Connectivity,
			Source:       st.Source,
			Scanning:     st.Scanning,
			Nearby:       st.Nearby,
		})
	}
	a.radar.Update(a.vm.Nearby(), a.vm.ConnectionStates())
	if a.vm.Peer() == a.thread.Peer() {
		a.thread.Update(a.vm.Messages())
	}
	if a.pages.Current() == a.profile {
		a.renderProfile()
	}
	a.flashBar.Update(a.flash.Current())
}

func (a *App) renderProfile() {
	u, ok := a.vm.NearbyUser(a.profileUser)
	if !ok {
		u.ID = a.profileUser
	}
	a.profile.Update(u, a.vm.ConnectionWith(a.profileUser), a.vm.MeetupsWith(a.profileUser))
}

// Run starts the TUI application. It blocks until the user quits.
func (a *App) Run() error {
	go func() {
		if err := a.vm.LoadAll(a.ctx); err != nil {
			a.flash.Err(err)
		}
		a.redraw()
		go a.watch()
		go a.tick()
		go a.spin()
	}()

	return a.app.Run()
}

// watch applies daemon events as they arrive, reconnecting the stream when
// it ends.
func (a *App) watch() {
	for {
		events, err := a.vm.Watch(a.ctx)
		if err == nil {
			for evt := range events {
				eff := a.vm.Apply(evt)
				if eff.Notice != nil {
					a.flash.Show(eff.Notice.Level, eff.Notice.Text)
				}
				_ = a.vm.Load(a.ctx, eff)
				a.redraw()
			}
		}
		select {
		case <-a.ctx.Done():
			return
		case <-time.After(2 * time.Second):
		}
	}
}

// tick reloads everything periodically and redraws on every flash, which
// also expires old ones.
func (a *App) tick() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	n := 0
	for {
		select {
		case <-ticker.C:
			n++
			if n%refreshEvery == 0 {
				_ = a.vm.LoadAll(a.ctx)
			}
			a.redraw()
		case <-a.flash.Watch():
			a.redraw()
		case <-a.ctx.Done():
			return
		}
	}
}

func (a *App) spin() {
	ticker := time.NewTicker(spinnerPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if st := a.vm.Status(); st != nil && st.Draining {
				a.app.QueueUpdateDraw(a.statusBar.Tick)
			}
		case <-a.ctx.Done():
			return
		}
	}
}

// Stop gracefully shuts down the TUI.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}
