package session

// Presenter renders a challenge. All methods are called from the session's
// event loop, never concurrently for one session.
type Presenter interface {
	ShowStage(stage Stage)
	ShowTransientMessage(text string, isWarning bool)
	ShowSuccessMessage(text string)
	RequestDismiss()
}

// LocalePresenter is implemented by presenters that render the static
// strings (title, description, cancel label) themselves.
type LocalePresenter interface {
	ApplyLocale(text LocaleText)
}

// NopPresenter discards every call. It suits headless hosts.
type NopPresenter struct{}

func (NopPresenter) ShowStage(Stage)                   {}
func (NopPresenter) ShowTransientMessage(string, bool) {}
func (NopPresenter) ShowSuccessMessage(string)         {}
func (NopPresenter) RequestDismiss()                   {}
