package model

import "time"

// Profile is the per-user document held by the profile store.
// CompositeScore is derived from the other fields at the last recalculation.
type Profile struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	RatingAverage  float64   `json:"ratingAverage"`
	RentalCount    int       `json:"rentalCount"`
	LastActiveAt   time.Time `json:"lastActiveAt"`
	CompositeScore float64   `json:"compositeScore"`
}

// NewProfile returns a profile with first-write defaults applied.
func NewProfile(id string, now time.Time) Profile {
	return Profile{ID: id, LastActiveAt: now}
}

// ProfilePatch is a partial profile update. Nil fields are left untouched.
type ProfilePatch struct {
	Name           *string
	Email          *string
	RatingAverage  *float64
	RentalCount    *int
	LastActiveAt   *time.Time
	CompositeScore *float64
}

// Empty reports whether the patch changes nothing.
func (p ProfilePatch) Empty() bool {
	return p.Name == nil && p.Email == nil && p.RatingAverage == nil &&
		p.RentalCount == nil && p.LastActiveAt == nil && p.CompositeScore == nil
}

// Apply returns a copy of profile with the non-nil patch fields merged in.
func (p ProfilePatch) Apply(profile Profile) Profile {
	if p.Name != nil {
		profile.Name = *p.Name
	}
	if p.Email != nil {
		profile.Email = *p.Email
	}
	if p.RatingAverage != nil {
		profile.RatingAverage = *p.RatingAverage
	}
	if p.RentalCount != nil {
		profile.RentalCount = *p.RentalCount
	}
	if p.LastActiveAt != nil {
		profile.LastActiveAt = *p.LastActiveAt
	}
	if p.CompositeScore != nil {
		profile.CompositeScore = *p.CompositeScore
	}
	return profile
}
