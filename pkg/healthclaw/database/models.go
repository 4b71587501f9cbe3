package database

import "time"

// User is a person's profile, keyed by the chat platform's user id.
type User struct {
	ID             string
	Name           string
	DOB            string
	Gender         string
	Occupation     string
	Description    string
	ChronicDisease string
}

// UserPatch is a partial update of a User; nil fields are left untouched.
type UserPatch struct {
	Name           *string `json:"name,omitempty"`
	DOB            *string `json:"dob,omitempty"`
	Gender         *string `json:"gender,omitempty"`
	Occupation     *string `json:"occupation,omitempty"`
	Description    *string `json:"description,omitempty"`
	ChronicDisease *string `json:"chronic_disease,omitempty"`
}

// Empty reports whether no field is set.
func (p UserPatch) Empty() bool {
	return p.Name == nil && p.DOB == nil && p.Gender == nil &&
		p.Occupation == nil && p.Description == nil && p.ChronicDisease == nil
}

// ActivityRecord is one user's activity for one calendar date.
type ActivityRecord struct {
	UserID         string
	Date           string
	Steps          int
	CaloriesBurned *float64
	AvgHeartRate   *int
	ActiveMinutes  *int
	SleepHours     *float64
	Source         string
}

// ActivityPatch is a partial update of an ActivityRecord.
type ActivityPatch struct {
	Steps          *int     `json:"steps,omitempty"`
	CaloriesBurned *float64 `json:"calories_burned,omitempty"`
	AvgHeartRate   *int     `json:"avg_heart_rate,omitempty"`
	ActiveMinutes  *int     `json:"active_minutes,omitempty"`
	SleepHours     *float64 `json:"sleep_hours,omitempty"`
	Source         *string  `json:"source,omitempty"`
}

// Empty reports whether no field is set.
func (p ActivityPatch) Empty() bool {
	return p.Steps == nil && p.CaloriesBurned == nil && p.AvgHeartRate == nil &&
		p.ActiveMinutes == nil && p.SleepHours == nil && p.Source == nil
}

// BodyRecord holds weight (kg) and height (cm) measured on a date.
type BodyRecord struct {
	UserID string
	Date   string
	Weight *float64
	Height *float64
}

// BMI returns the body-mass index, or 0 when either measurement is missing.
func (b *BodyRecord) BMI() float64 {
	if b == nil || b.Weight == nil || b.Height == nil || *b.Height <= 0 {
		return 0
	}
	m := *b.Height / 100
	return *b.Weight / (m * m)
}

// BodyPatch is a partial update of a BodyRecord.
type BodyPatch struct {
	Weight *float64 `json:"weight,omitempty"`
	Height *float64 `json:"height,omitempty"`
}

// Empty reports whether no field is set.
func (p BodyPatch) Empty() bool {
	return p.Weight == nil && p.Height == nil
}

// SummaryRecord is the generated daily report for (user, date).
type SummaryRecord struct {
	UserID        string
	Date          string
	Overview      string
	OfficeRisk    string
	OfficeSummary string
}

// ChangeSet groups the partial updates a single confirmation applies.
type ChangeSet struct {
	// Date keys the activity and body records.
	Date     string
	Profile  UserPatch
	Body     BodyPatch
	Activity ActivityPatch
}

// Empty reports whether nothing would be written.
func (c ChangeSet) Empty() bool {
	return c.Profile.Empty() && c.Body.Empty() && c.Activity.Empty()
}

// MessageMapping attributes a platform message to the user it belongs to.
type MessageMapping struct {
	MessageID string
	UserID    string
	ChannelID string
	Timestamp time.Time
}
