package rfid

import "github.com/your-org/kiosk/internal/models"

const (
	ReasonFaceNotRecognized = "face not recognized"
	ReasonSpoofFailed       = "anti-spoofing check failed"
	ReasonNoCard            = "card not presented"
	ReasonMismatch          = "identities don't match"
	ReasonVerified          = "two-factor authentication successful"
)

// TwoFactorVerify checks that the face and the card name the same student.
// A nil card means no card was presented.
func TwoFactorVerify(face models.Identity, card *string) (bool, string) {
	switch {
	case face.IsUnknown():
		return false, ReasonFaceNotRecognized
	case face.IsSpoof():
		return false, ReasonSpoofFailed
	case card == nil || *card == "":
		return false, ReasonNoCard
	case face.Name() != *card:
		return false, ReasonMismatch
	}
	return true, ReasonVerified
}
