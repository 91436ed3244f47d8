package domain

import (
	"encoding/json"
	"fmt"
)

// SubmissionType is the tagged-union discriminator for inbound payloads.
// Every submission is decoded and validated once at the HTTP boundary;
// unknown or malformed shapes are rejected there instead of propagating
// half-parsed JSON into the pipeline.
type SubmissionType string

const (
	SubmissionWishlist       SubmissionType = "wishlist"
	SubmissionProfile        SubmissionType = "profile"
	SubmissionRecommendation SubmissionType = "recommendation"
	SubmissionLogistics      SubmissionType = "logistics"
	SubmissionNotification   SubmissionType = "notification"
)

func (t SubmissionType) IsValid() bool {
	switch t {
	case SubmissionWishlist, SubmissionProfile, SubmissionRecommendation,
		SubmissionLogistics, SubmissionNotification:
		return true
	}
	return false
}

// SchemaVersion is the only inbound schema revision this build accepts.
const SchemaVersion = "v1"

// Submission is the decoded form of one inbound event, whichever ingress
// path carried it.
type Submission struct {
	Type          SubmissionType  `json:"type"`
	SchemaVersion string          `json:"schema_version"`
	SubjectID     string          `json:"subject_id"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	// IdempotencyKey lets a client name the job directly. When empty the
	// key is derived from the payload content instead.
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Payload        json.RawMessage `json:"payload"`
}

// WishlistItem is a single entry of a wishlist payload.
type WishlistItem struct {
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`
	Notes    string `json:"notes,omitempty"`
}

// WishlistPayload is the payload shape for SubmissionWishlist.
type WishlistPayload struct {
	Items []WishlistItem `json:"items"`
}

// ProfilePayload is the payload shape for SubmissionProfile.
type ProfilePayload struct {
	Age       int      `json:"age,omitempty"`
	Interests []string `json:"interests,omitempty"`
	Behavior  string   `json:"behavior,omitempty"`
}

// Validate checks the envelope and, for types with a known payload schema,
// decodes the payload strictly enough to reject garbage early.
func (s *Submission) Validate() error {
	if s.SubjectID == "" {
		return ErrMissingSubject
	}
	if !s.Type.IsValid() {
		return ErrUnknownSubmissionType
	}
	if s.SchemaVersion == "" {
		s.SchemaVersion = SchemaVersion
	}
	if s.SchemaVersion != SchemaVersion {
		return fmt.Errorf("%w: %q", ErrUnsupportedSchema, s.SchemaVersion)
	}

	switch s.Type {
	case SubmissionWishlist:
		if len(s.Payload) == 0 {
			return ErrMissingPayload
		}
		var p WishlistPayload
		if err := json.Unmarshal(s.Payload, &p); err != nil {
			return ErrInvalidPayload
		}
		if len(p.Items) == 0 {
			return ErrEmptyWishlist
		}
		for _, item := range p.Items {
			if item.Name == "" {
				return ErrInvalidPayload
			}
		}
	case SubmissionProfile:
		var p ProfilePayload
		if err := json.Unmarshal(s.Payload, &p); err != nil {
			return ErrInvalidPayload
		}
	default:
		// Reactive-path types carry engine-produced payloads; require valid
		// JSON but no particular shape.
		if len(s.Payload) > 0 && !json.Valid(s.Payload) {
			return ErrInvalidPayload
		}
	}
	return nil
}
