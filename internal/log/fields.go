// SPDX-License-Identifier: MIT

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldSessionID     = "session_id"
	FieldCorrelationID = "correlation_id"
	FieldRequestID     = "request_id"
	FieldUserID        = "user_id"
	FieldGoal          = "goal"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"

	// Matcher / generation fields
	FieldMatchType  = "match_type"
	FieldTemplateID = "template_id"
	FieldConfidence = "confidence"

	// TTS / audio fields
	FieldAffirmationID = "affirmation_id"
	FieldVoiceID       = "voice_id"
	FieldPaceID        = "pace_id"
	FieldFingerprint   = "fingerprint"
)
