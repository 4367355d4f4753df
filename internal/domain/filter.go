package domain

// SubmissionFilter narrows the audit listing of raw submissions. Zero
// values mean "no filter".
type SubmissionFilter struct {
	TeamID      string
	ChallengeID string
	Correct     *bool
	Limit       int
}
