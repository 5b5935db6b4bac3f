// game/game.go
package game

import "fmt"

// Choice is one of the three playable hands.
type Choice string

const (
	ChoiceRock     Choice = "rock"
	ChoicePaper    Choice = "paper"
	ChoiceScissors Choice = "scissors"
)

// ParseChoice validates raw client input before it can reach Resolve.
func ParseChoice(s string) (Choice, error) {
	switch Choice(s) {
	case ChoiceRock, ChoicePaper, ChoiceScissors:
		return Choice(s), nil
	}
	return "", fmt.Errorf("invalid choice %q", s)
}

// Outcome is the result of a resolved match from the host's perspective.
type Outcome int

const (
	OutcomeTie Outcome = iota
	OutcomeHost
	OutcomeOpponent
)

func (o Outcome) String() string {
	switch o {
	case OutcomeHost:
		return "host"
	case OutcomeOpponent:
		return "opponent"
	default:
		return "tie"
	}
}

// beats maps each choice to the choice it defeats.
var beats = map[Choice]Choice{
	ChoiceRock:     ChoiceScissors,
	ChoiceScissors: ChoicePaper,
	ChoicePaper:    ChoiceRock,
}

// Resolve applies the fixed three-way rule to two committed choices.
// Callers must validate both inputs with ParseChoice first.
func Resolve(host, opponent Choice) Outcome {
	if host == opponent {
		return OutcomeTie
	}
	if beats[host] == opponent {
		return OutcomeHost
	}
	return OutcomeOpponent
}
