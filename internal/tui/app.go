package tui

import (
	"context"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/periskope/chat/internal/backend"
	"github.com/periskope/chat/internal/bus"
	"github.com/periskope/chat/internal/thread"
	"github.com/periskope/chat/internal/tui/keys"
	"github.com/periskope/chat/internal/tui/model"
	"github.com/periskope/chat/internal/tui/views"
	"github.com/rivo/tview"
)

// App is the main TUI application shell: an auth page gated by session
// resolution and a two-pane chat page (sidebar | thread + composer).
type App struct {
	app       *tview.Application
	pages     *tview.Pages
	vm        *model.ViewModel
	bus       *bus.Bus
	registry  *keys.Registry
	statusBar *views.StatusBar
	chatList  *views.ChatList
	msgView   *views.MessageView
	composer  *views.Composer
	authView  *views.AuthView
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewApp creates the TUI application.
func NewApp(vm *model.ViewModel, b *bus.Bus, sessionName string) *App {
	ctx, cancel := context.WithCancel(context.Background())

	a := &App{
		app:       tview.NewApplication(),
		pages:     tview.NewPages(),
		vm:        vm,
		bus:       b,
		registry:  keys.NewRegistry(),
		statusBar: views.NewStatusBar(),
		chatList:  views.NewChatList(),
		msgView:   views.NewMessageView(),
		composer:  views.NewComposer(),
		authView:  views.NewAuthView(),
		ctx:       ctx,
		cancel:    cancel,
	}

	a.statusBar.SetSession(sessionName)
	a.statusBar.SetStatus(string(thread.Idle))
	a.msgView.ShowIdle()
	a.setupBindings()
	a.setupCallbacks()
	a.setupLayout()

	return a
}

func (a *App) setupBindings() {
	a.registry.AddGlobal("quit", &keys.Action{
		Rune: 'q', Key: tcell.KeyRune,
		Description: "q:quit", Visible: true,
		Handler: func() { a.app.Stop() },
	})
}

func (a *App) setupCallbacks() {
	a.chatList.SetSelectedFunc(func(row, col int) {
		id := a.chatList.SelectedChat()
		if id != "" {
			a.openChat(id)
		}
	})

	a.composer.SetOnSend(func(text string) {
		go func() {
			if err := a.vm.SendMessage(a.ctx, text); err != nil {
				a.vm.Flash.Set("Send failed: "+err.Error(), 5*time.Second)
				a.app.QueueUpdateDraw(func() {
					a.statusBar.SetFlash(a.vm.Flash.Get())
				})
			}
		}()
	})

	a.authView.SetOnSubmit(func(mode model.AuthMode, email, password string) {
		a.runAuth(mode, email, password)
	})
}

func (a *App) setupLayout() {
	threadFlex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.msgView, 0, 1, false).
		AddItem(a.composer, 1, 0, false)

	chatPage := tview.NewFlex().
		AddItem(a.chatList, 36, 0, true).
		AddItem(threadFlex, 0, 1, false)

	a.pages.AddPage("auth", a.authView, true, false)
	a.pages.AddPage("chat", chatPage, true, true)

	root := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.statusBar, 1, 0, false)

	a.app.SetRoot(root, true)

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		currentPage, _ := a.pages.GetFrontPage()

		// Esc deselects the chat: the live subscription is torn down
		// and focus returns to the sidebar.
		if currentPage == "chat" && event.Key() == tcell.KeyEscape {
			if a.vm.ActiveChat() != "" {
				a.vm.CloseThread()
				a.msgView.ShowIdle()
				a.statusBar.SetStatus(string(thread.Idle))
			}
			a.app.SetFocus(a.chatList)
			return nil
		}

		// Let text input widgets handle all keys normally.
		focused := a.app.GetFocus()
		if _, ok := focused.(*tview.InputField); ok {
			return event
		}

		// 'i' focuses the composer (only when not already in an input field).
		if currentPage == "chat" && event.Key() == tcell.KeyRune && event.Rune() == 'i' {
			if a.vm.ActiveChat() != "" {
				a.app.SetFocus(a.composer.InputField)
			}
			return nil
		}

		if a.registry.HandleEvent(currentPage, event) {
			return nil
		}

		return event
	})
}

func (a *App) openChat(id string) {
	if chat := a.vm.ChatByID(id); chat != nil {
		selfID := ""
		if u := a.vm.User(); u != nil {
			selfID = u.ID
		}
		a.msgView.SetChatName(views.HeaderName(*chat, selfID))
	}
	a.msgView.Clear()

	go func() {
		if err := a.vm.OpenChat(a.ctx, id); err != nil {
			a.vm.Flash.Set("Live updates unavailable: "+err.Error(), 5*time.Second)
			a.app.QueueUpdateDraw(func() {
				a.statusBar.SetFlash(a.vm.Flash.Get())
			})
		}
	}()

	a.app.SetFocus(a.msgView)
}

// Run resolves the session, wires event delivery, and starts the UI
// loop. Blocks until the application stops.
func (a *App) Run() error {
	a.startEventLoop()
	a.startRefreshLoop()

	go func() {
		user, err := a.vm.ResolveSession(a.ctx)
		a.app.QueueUpdateDraw(func() {
			if err != nil || user == nil {
				a.pages.SwitchToPage("auth")
				a.app.SetFocus(a.authView)
				return
			}
			a.enterChat()
		})
	}()

	return a.app.Run()
}

// enterChat loads the conversation list for the resolved user and
// shows the chat page. Must run on the UI goroutine.
func (a *App) enterChat() {
	a.pages.SwitchToPage("chat")
	a.app.SetFocus(a.chatList)

	go func() {
		if err := a.vm.LoadChats(a.ctx); err != nil {
			a.vm.Flash.Set("Loading chats failed: "+err.Error(), 5*time.Second)
		}
		a.app.QueueUpdateDraw(func() {
			a.chatList.Update(a.vm.Chats())
			a.statusBar.SetFlash(a.vm.Flash.Get())
		})
	}()
}

func (a *App) runAuth(mode model.AuthMode, email, password string) {
	if a.vm.AuthBusy() {
		return
	}
	a.authView.SetBusy(true)

	go func() {
		err := a.vm.Authenticate(a.ctx, mode, email, password)
		a.app.QueueUpdateDraw(func() {
			a.authView.SetBusy(false)
			if err != nil {
				a.authView.ShowError(err.Error())
				return
			}
			a.authView.ShowMessage("Signed in. Loading chats...")
			a.enterChat()
		})
	}()
}

// startEventLoop delivers bus events from background goroutines into
// UI updates.
func (a *App) startEventLoop() {
	ch, unsub := a.bus.Subscribe("thread.", 64)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				a.handleEvent(evt)
			case <-a.ctx.Done():
				return
			}
		}
	}()
}

func (a *App) handleEvent(evt bus.Event) {
	switch evt.Kind {
	case "thread.message":
		msg, ok := evt.Payload.(backend.Message)
		if !ok {
			return
		}
		a.vm.ApplyMessage(msg)
		a.app.QueueUpdateDraw(func() {
			a.refreshThread()
			a.chatList.Update(a.vm.Chats())
		})
	case "thread.loaded":
		a.app.QueueUpdateDraw(func() {
			a.refreshThread()
		})
	case "thread.load_error", "thread.feed_error":
		reason, _ := evt.Payload.(string)
		a.vm.Flash.Set(reason, 5*time.Second)
		a.app.QueueUpdateDraw(func() {
			a.statusBar.SetFlash(a.vm.Flash.Get())
		})
	case "thread.state_changed":
		change, ok := evt.Payload.(thread.StateChange)
		if !ok {
			return
		}
		a.app.QueueUpdateDraw(func() {
			a.statusBar.SetStatus(string(change.To))
		})
	}
}

// refreshThread redraws the message view from the thread snapshot.
// Must run on the UI goroutine.
func (a *App) refreshThread() {
	selfID := ""
	if u := a.vm.User(); u != nil {
		selfID = u.ID
	}
	a.msgView.Update(a.vm.ThreadMessages(), selfID)
}

func (a *App) startRefreshLoop() {
	ticker := time.NewTicker(5 * time.Second)
	go func() {
		for {
			select {
			case <-ticker.C:
				a.app.QueueUpdateDraw(func() {
					currentPage, _ := a.pages.GetFrontPage()
					if currentPage == "chat" {
						a.chatList.Update(a.vm.Chats())
					}
					a.statusBar.SetFlash(a.vm.Flash.Get())
				})
			case <-a.ctx.Done():
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop gracefully shuts down the TUI.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}
