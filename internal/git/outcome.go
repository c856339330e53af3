package git

// RefUpdateOutcome is the result of moving or deleting a reference.
type RefUpdateOutcome int

const (
	// RefUpdateCreated means the reference did not exist before.
	RefUpdateCreated RefUpdateOutcome = iota
	// RefUpdateFastForward means the new value descends from the old one.
	RefUpdateFastForward
	// RefUpdateForced means the reference was rewritten or deleted.
	RefUpdateForced
	// RefUpdateNoChange means the reference already had the new value.
	RefUpdateNoChange
	// RefUpdateRejectedMissingObject means an object the update depends on
	// is not present in the repository.
	RefUpdateRejectedMissingObject
	// RefUpdateLockFailure means the reference could not be locked or its
	// current value did not match the expected old value.
	RefUpdateLockFailure
	// RefUpdateRejected covers any other rejection, e.g. a non-fast-forward
	// update that was not forced.
	RefUpdateRejected
)

var refUpdateOutcomeNames = map[RefUpdateOutcome]string{
	RefUpdateCreated:               "created",
	RefUpdateFastForward:           "fast-forward",
	RefUpdateForced:                "forced",
	RefUpdateNoChange:              "no-change",
	RefUpdateRejectedMissingObject: "rejected-missing-object",
	RefUpdateLockFailure:           "lock-failure",
	RefUpdateRejected:              "rejected",
}

func (o RefUpdateOutcome) String() string {
	if name, ok := refUpdateOutcomeNames[o]; ok {
		return name
	}
	return "unknown"
}

// IsSuccess tells whether the reference ended up at the requested value.
func (o RefUpdateOutcome) IsSuccess() bool {
	switch o {
	case RefUpdateCreated, RefUpdateFastForward, RefUpdateForced, RefUpdateNoChange:
		return true
	default:
		return false
	}
}
