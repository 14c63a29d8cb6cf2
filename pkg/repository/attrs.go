package repository

// Attribute keys used by the sibling-domain repositories. Domain-specific
// fields travel in the storage row's Attrs map under these keys.
const (
	attrSessionID  = "session_id"
	attrSpeaker    = "speaker"
	attrEmotion    = "emotion"
	attrValence    = "valence"
	attrArousal    = "arousal"
	attrSubject    = "subject"
	attrConfidence = "confidence"
	attrDocumentID = "document_id"
	attrTitle      = "title"
)

// attrString reads a string attribute, tolerating a missing key.
func attrString(attrs map[string]interface{}, key string) string {
	if v, ok := attrs[key].(string); ok {
		return v
	}
	return ""
}

// attrFloat reads a numeric attribute. JSON round-trips numbers as float64.
func attrFloat(attrs map[string]interface{}, key string) float64 {
	switch v := attrs[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}
