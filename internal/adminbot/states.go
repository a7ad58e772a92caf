package adminbot

type AdminState struct {
	Step string
}

const (
	StateMainMenu = "main_menu"

	StateAddingModerator = "adding_moderator"
)
