package views

import (
	"fmt"

	"github.com/periskope/chat/internal/tui/model"
	"github.com/rivo/tview"
)

// AuthView is the credential form: email, password, and Sign In /
// Sign Up actions. Errors render inline below the form.
type AuthView struct {
	*tview.Flex
	form     *tview.Form
	message  *tview.TextView
	onSubmit func(mode model.AuthMode, email, password string)
	busy     bool
}

// NewAuthView creates the credential form.
func NewAuthView() *AuthView {
	av := &AuthView{}

	av.form = tview.NewForm().
		AddInputField("Email", "", 40, nil, nil).
		AddPasswordField("Password", "", 40, '*', nil).
		AddButton("Sign In", func() { av.submit(model.ModeLogin) }).
		AddButton("Sign Up", func() { av.submit(model.ModeSignup) })
	av.form.SetBorder(true).SetTitle(" Welcome to Periskope Chat ")

	av.message = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)

	av.Flex = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(nil, 0, 1, false).
		AddItem(av.form, 11, 0, true).
		AddItem(av.message, 2, 0, false).
		AddItem(nil, 0, 1, false)

	return av
}

// SetOnSubmit sets the callback invoked with the form contents.
func (av *AuthView) SetOnSubmit(fn func(mode model.AuthMode, email, password string)) {
	av.onSubmit = fn
}

func (av *AuthView) submit(mode model.AuthMode) {
	if av.busy || av.onSubmit == nil {
		return
	}
	email := av.form.GetFormItemByLabel("Email").(*tview.InputField).GetText()
	password := av.form.GetFormItemByLabel("Password").(*tview.InputField).GetText()
	av.onSubmit(mode, email, password)
}

// SetBusy toggles the in-flight flag that blocks resubmission.
func (av *AuthView) SetBusy(busy bool) {
	av.busy = busy
	if busy {
		av.ShowMessage("Authenticating...")
	}
}

// ShowError renders a failure inline.
func (av *AuthView) ShowError(msg string) {
	av.message.Clear()
	_, _ = fmt.Fprintf(av.message, "[red]%s[-]", tview.Escape(msg))
}

// ShowMessage renders a neutral status line.
func (av *AuthView) ShowMessage(msg string) {
	av.message.Clear()
	_, _ = fmt.Fprint(av.message, tview.Escape(msg))
}
