package ui

import (
	"github.com/AlecAivazis/survey/v2"
)

// Prompter asks the operator yes/no questions.
type Prompter interface {
	Confirm(message string, defaultValue bool) (bool, error)
}

// User prompts on the controlling terminal.
type User struct{}

// Confirm asks for yes or no input.
func (User) Confirm(message string, defaultValue bool) (bool, error) {
	qs := &survey.Confirm{
		Message: message,
		Default: defaultValue,
	}
	var b bool
	err := survey.AskOne(qs, &b, nil)
	return b, err
}

// SwapConfirmation returns a confirmation callback for a swap of target
// and newPath. The default answer is no.
func SwapConfirmation(p Prompter, target, newPath string) func() (bool, error) {
	return func() (bool, error) {
		return p.Confirm("Swap "+target+" and "+newPath+"?", false)
	}
}
