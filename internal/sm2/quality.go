package sm2

import (
	"errors"
	"fmt"
)

// ErrInvalidQuality is returned for ratings outside 0..5.
var ErrInvalidQuality = errors.New("sm2: invalid quality")

// Quality is the user's self-assessed recall of a card, from 0 (complete
// blackout) to 5 (perfect response).
type Quality int

const (
	Blackout       Quality = iota // No recall at all.
	Wrong                         // Incorrect, but the answer was recognised.
	WrongFamiliar                 // Incorrect, the answer seemed easy once shown.
	CorrectHard                   // Correct with serious difficulty.
	CorrectHesitant               // Correct after hesitation.
	Perfect                       // Correct and immediate.
)

// PassingQuality is the lowest quality that counts as a correct recall.
const PassingQuality = CorrectHard

var qualityNames = [...]string{
	Blackout:        "Blackout",
	Wrong:           "Wrong",
	WrongFamiliar:   "WrongFamiliar",
	CorrectHard:     "CorrectHard",
	CorrectHesitant: "CorrectHesitant",
	Perfect:         "Perfect",
}

// ParseQuality converts an integer rating, rejecting anything outside 0..5.
func ParseQuality(v int) (Quality, error) {
	q := Quality(v)
	if !q.IsValid() {
		return 0, fmt.Errorf("%w: %d", ErrInvalidQuality, v)
	}
	return q, nil
}

// IsValid reports whether q lies in 0..5.
func (q Quality) IsValid() bool {
	return q >= Blackout && q <= Perfect
}

// IsCorrect reports whether q counts as a successful recall (3 and above).
func (q Quality) IsCorrect() bool {
	return q >= PassingQuality
}

func (q Quality) String() string {
	if q.IsValid() {
		return qualityNames[q]
	}
	return fmt.Sprintf("Quality(%d)", int(q))
}
