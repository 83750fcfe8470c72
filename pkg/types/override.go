package types

// OverrideReview is the later legitimacy verdict on an override session
type OverrideReview string

const (
	OverrideReviewPending      OverrideReview = "pending"
	OverrideReviewLegitimate   OverrideReview = "legitimate"
	OverrideReviewIllegitimate OverrideReview = "illegitimate"
)

// OverrideSession is a time-boxed, file-count-bounded emergency bypass of
// the phase/spec/tier gates. It never bypasses the absolute blocklist and
// is always recorded for legitimacy review.
type OverrideSession struct {
	ID          string         `json:"id" db:"id"`
	Reason      string         `json:"reason" db:"reason"`
	TierCeiling Tier           `json:"tier_ceiling" db:"tier_ceiling"`
	MaxFiles    int            `json:"max_files" db:"max_files"`
	FilesEdited int            `json:"files_edited" db:"files_edited"`
	ExpiresAt   int64          `json:"expires_at" db:"expires_at"`
	Review      OverrideReview `json:"review" db:"review"`
	CreatedAt   int64          `json:"created_at" db:"created_at"`
}

// Active reports whether the session can still admit an edit at the given
// time: not expired and under its file cap.
func (o *OverrideSession) Active(now int64) bool {
	return now < o.ExpiresAt && o.FilesEdited < o.MaxFiles
}
