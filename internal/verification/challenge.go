package verification

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
)

// Kind selects the challenge type.
type Kind string

const (
	KindText   Kind = "text"
	KindMath   Kind = "math"
	KindButton Kind = "button"
)

func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindText, KindMath, KindButton:
		return k, nil
	}
	return "", fmt.Errorf("unknown captcha kind %q", s)
}

// ButtonPrefix starts the callback data of every captcha button.
const ButtonPrefix = "captcha_"

const buttonOptions = 6

var words = []string{"PROTECT", "SECURE", "VERIFY", "TELEGRAM", "SAFETY", "GUARD", "SHIELD", "DEFEND", "TRUST", "CHECK"}

// Challenge is a generated question with its expected answer. Options is
// only set for button challenges.
type Challenge struct {
	Kind     Kind
	Question string
	Answer   string
	Options  []string
}

// NewChallenge generates a challenge of kind using rng.
func NewChallenge(kind Kind, rng *rand.Rand) Challenge {
	switch kind {
	case KindText:
		return textChallenge(rng)
	case KindMath:
		return mathChallenge(rng)
	default:
		return buttonChallenge(rng)
	}
}

func textChallenge(rng *rand.Rand) Challenge {
	word := words[rng.IntN(len(words))]
	letters := []rune(word)
	scrambled := word
	for i := 0; i < 10 && scrambled == word; i++ {
		rng.Shuffle(len(letters), func(a, b int) { letters[a], letters[b] = letters[b], letters[a] })
		scrambled = string(letters)
	}
	return Challenge{Kind: KindText, Question: scrambled, Answer: strings.ToLower(word)}
}

func mathChallenge(rng *rand.Rand) Challenge {
	var a, b, result int
	var op string
	switch rng.IntN(3) {
	case 0:
		a, b = rng.IntN(20)+1, rng.IntN(20)+1
		op, result = "+", a+b
	case 1:
		a, b = rng.IntN(41)+10, rng.IntN(10)+1
		op, result = "-", a-b
	default:
		a, b = rng.IntN(12)+1, rng.IntN(12)+1
		op, result = "×", a*b
	}
	return Challenge{
		Kind:     KindMath,
		Question: fmt.Sprintf("%d %s %d = ?", a, op, b),
		Answer:   strconv.Itoa(result),
	}
}

func buttonChallenge(rng *rand.Rand) Challenge {
	correct := rng.IntN(9000) + 1000
	seen := map[int]struct{}{correct: {}}
	options := []string{strconv.Itoa(correct)}
	for len(options) < buttonOptions {
		n := rng.IntN(9000) + 1000
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		options = append(options, strconv.Itoa(n))
	}
	rng.Shuffle(len(options), func(i, j int) { options[i], options[j] = options[j], options[i] })
	return Challenge{
		Kind:     KindButton,
		Question: strconv.Itoa(correct),
		Answer:   strconv.Itoa(correct),
		Options:  options,
	}
}
