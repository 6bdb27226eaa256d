package ports

// Confirmer asks the user a yes/no question before a transaction executes.
type Confirmer interface {
	Confirm(prompt string) (bool, error)
}
