package payment

import "time"

type Status string

const (
	StatusCollecting         Status = "collecting"
	StatusPendingReview      Status = "pending_review"
	StatusApproved           Status = "approved"
	StatusRejectedCorrecting Status = "rejected_correcting"
	StatusRejected           Status = "rejected"
)

// Active reports whether the status counts towards the one-active-request
// limit of a submitter.
func (s Status) Active() bool {
	switch s {
	case StatusCollecting, StatusPendingReview, StatusRejectedCorrecting:
		return true
	}

	return false
}

type Field string

const (
	FieldNone       Field = ""
	FieldIdentifier Field = "identifier"
	FieldAmount     Field = "amount"
	FieldChannel    Field = "channel"
	FieldProof      Field = "proof"
)

// Fields lists the collected fields in collection order.
var Fields = []Field{FieldIdentifier, FieldAmount, FieldChannel, FieldProof}

func ParseField(s string) (Field, bool) {
	for _, f := range Fields {
		if string(f) == s {
			return f, true
		}
	}

	return FieldNone, false
}

type AttachmentKind string

const (
	AttachmentPhoto    AttachmentKind = "photo"
	AttachmentDocument AttachmentKind = "document"
)

// Attachment is an opaque reference to a stored proof-of-payment file.
type Attachment struct {
	Kind     AttachmentKind
	Ref      string
	MimeType string
}

// Value is a raw field value as delivered by an adapter: text for the first
// three fields, an attachment for the proof.
type Value struct {
	Text       string
	Attachment *Attachment
}

func Text(s string) Value {
	return Value{Text: s}
}

func File(a Attachment) Value {
	return Value{Attachment: &a}
}

type Request struct {
	ID         string
	Submitter  int64
	Identifier *string
	Amount     *int64
	Channel    *string
	Proof      *Attachment

	Status      Status
	ActiveStep  Field
	Claimant    *int64
	ClaimedAt   *time.Time
	Corrections int
	Version     int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (r *Request) IsSet(f Field) bool {
	switch f {
	case FieldIdentifier:
		return r.Identifier != nil
	case FieldAmount:
		return r.Amount != nil
	case FieldChannel:
		return r.Channel != nil
	case FieldProof:
		return r.Proof != nil
	}

	return false
}

func (r *Request) clear(f Field) {
	switch f {
	case FieldIdentifier:
		r.Identifier = nil
	case FieldAmount:
		r.Amount = nil
	case FieldChannel:
		r.Channel = nil
	case FieldProof:
		r.Proof = nil
	}
}

// nextUnset returns the first unset field in collection order.
func (r *Request) nextUnset() Field {
	for _, f := range Fields {
		if !r.IsSet(f) {
			return f
		}
	}

	return FieldNone
}

func (r *Request) complete() bool {
	return r.nextUnset() == FieldNone
}

// Clone returns a deep copy so that transitions can be applied without
// touching the caller's snapshot.
func (r *Request) Clone() *Request {
	c := *r
	if r.Identifier != nil {
		v := *r.Identifier
		c.Identifier = &v
	}
	if r.Amount != nil {
		v := *r.Amount
		c.Amount = &v
	}
	if r.Channel != nil {
		v := *r.Channel
		c.Channel = &v
	}
	if r.Proof != nil {
		v := *r.Proof
		c.Proof = &v
	}
	if r.Claimant != nil {
		v := *r.Claimant
		c.Claimant = &v
	}
	if r.ClaimedAt != nil {
		v := *r.ClaimedAt
		c.ClaimedAt = &v
	}

	return &c
}
