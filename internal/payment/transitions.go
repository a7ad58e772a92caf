package payment

// Transitions mutate a cloned Request in memory. The service persists the
// result with a conditional write, so a transition that returns an error
// leaves the stored request untouched.

func (r *Request) submit(rules Rules, f Field, v Value) (EventKind, error) {
	if r.Status != StatusCollecting && r.Status != StatusRejectedCorrecting {
		return "", ErrInvalidState
	}
	if f != r.ActiveStep {
		return "", ErrInvalidState
	}

	if err := rules.apply(r, f, v); err != nil {
		return "", err
	}

	if next := r.nextUnset(); next != FieldNone {
		r.Status = StatusCollecting
		r.ActiveStep = next
		return EventFieldAccepted, nil
	}

	kind := EventReadyForReview
	if r.Status == StatusRejectedCorrecting {
		kind = EventResubmitted
	}

	r.Status = StatusPendingReview
	r.ActiveStep = FieldNone

	return kind, nil
}

func (r *Request) holdsClaim(moderator int64) bool {
	return r.Claimant != nil && *r.Claimant == moderator
}

func (r *Request) release() {
	r.Claimant = nil
	r.ClaimedAt = nil
}

func (r *Request) approve(moderator int64) error {
	// Claimant is only ever set in pending_review, so a second approve fails
	// here once the first one cleared it.
	if !r.holdsClaim(moderator) {
		return ErrNotClaimant
	}
	if r.Status != StatusPendingReview {
		return ErrInvalidState
	}

	r.Status = StatusApproved
	r.ActiveStep = FieldNone
	r.release()

	return nil
}

// reopen narrows a pending request to one field. maxCorrections of zero
// means unlimited; once the limit is reached the request is rejected for
// good instead.
func (r *Request) reopen(f Field, maxCorrections int) error {
	if _, ok := ParseField(string(f)); !ok || f == FieldNone {
		return invalid(f, "not a request field")
	}
	if r.Status != StatusPendingReview {
		return ErrInvalidState
	}

	r.release()

	if maxCorrections > 0 && r.Corrections >= maxCorrections {
		r.Status = StatusRejected
		r.ActiveStep = FieldNone
		return nil
	}

	r.clear(f)
	r.Status = StatusRejectedCorrecting
	r.ActiveStep = f
	r.Corrections++

	return nil
}

func (r *Request) unclaim(moderator int64) error {
	if !r.holdsClaim(moderator) {
		return ErrNotClaimant
	}
	if r.Status != StatusPendingReview {
		return ErrInvalidState
	}

	r.release()

	return nil
}
