package console

import (
	"strings"

	"github.com/chzyer/readline"
)

const (
	Yes = "y"
	No  = "n"
)

// Confirm asks a yes/no question defaulting to no. assumeYes skips the prompt.
func Confirm(question string, assumeYes bool) (bool, error) {
	if assumeYes {
		return true, nil
	}
	answer, err := Prompt(question, No, Yes)
	if err != nil {
		return false, err
	}
	return answer == Yes, nil
}

// Prompt reads one line. With constraints the answer must be one of them,
// anything else (including no input) selects the first one.
func Prompt(question string, constraints ...string) (string, error) {
	if len(constraints) == 0 {
		return readLine(question)
	}
	var prompt strings.Builder
	prompt.WriteString(question)
	prompt.WriteString(" [")
	prompt.WriteString(strings.ToUpper(constraints[0]))
	for _, c := range constraints[1:] {
		prompt.WriteString("/")
		prompt.WriteString(c)
	}
	prompt.WriteString("]: ")
	response, err := readLine(prompt.String())
	if err != nil {
		return "", err
	}
	normalized := strings.ToLower(strings.TrimSpace(response))
	for _, c := range constraints {
		if normalized == c {
			return normalized, nil
		}
	}
	return constraints[0], nil
}

func readLine(prompt string) (string, error) {
	rl, err := readline.New(prompt)
	if err != nil {
		return "", err
	}
	defer func() { _ = rl.Close() }()
	return rl.Readline()
}
