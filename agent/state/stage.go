package state

// Stage is the position of a conversation inside the dialogue-task state
// machine. Stages only ever move forward; the two failure branches are
// terminal just like Closed.
type Stage string

const (
	StageStart          Stage = "start"
	StageIdentityLookup Stage = "identity_lookup"
	StageVerification   Stage = "verification"
	StageDisclosure     Stage = "disclosure" // disclosure (fraud) / collection (lead, order)
	StageResolution     Stage = "resolution"
	StageClosed         Stage = "closed"

	// Terminal failure branch out of StageVerification. The fraud posture is
	// fail-closed: the first mismatched answer ends the call.
	StageVerificationFailed Stage = "verification_failed"
)

var stageRank = map[Stage]int{
	StageStart:              0,
	StageIdentityLookup:     1,
	StageVerification:       2,
	StageDisclosure:         3,
	StageResolution:         4,
	StageClosed:             5,
	StageVerificationFailed: 5,
}

func (s Stage) Valid() bool {
	_, ok := stageRank[s]
	return ok
}

// Rank orders stages for the forward-only invariant. Unknown stages rank
// below StageStart so they never pass a gate.
func (s Stage) Rank() int {
	r, ok := stageRank[s]
	if !ok {
		return -1
	}
	return r
}

func (s Stage) Terminal() bool {
	return s == StageClosed || s == StageVerificationFailed
}

// AtLeast reports whether s has reached stage other.
func (s Stage) AtLeast(other Stage) bool {
	return s.Rank() >= other.Rank()
}
