package referral

import "strings"

// Filter narrows a referral collection by free text and status. The zero
// value matches everything.
type Filter struct {
	Search string
	Status Status
}

// Matches reports whether r passes both the text and the status predicate
// when viewed from dir.
func (f Filter) Matches(r *Referral, dir Direction) bool {
	if f.Status != "" && f.Status != StatusAll && r.Status != f.Status {
		return false
	}

	// The term is a plain substring; surrounding spaces are part of it.
	term := strings.ToLower(f.Search)
	if term == "" {
		return true
	}

	first, last := r.Counterpart(dir)
	fields := []string{
		r.PatientFirstName,
		r.PatientLastName,
		first,
		last,
		r.ReasonForReferral,
		deref(r.ClinicalQuestion),
	}
	if dir == DirectionSent {
		fields = append(fields, deref(r.SpecialtyRequired))
	}
	for _, v := range fields {
		if strings.Contains(strings.ToLower(v), term) {
			return true
		}
	}
	return false
}

// Apply returns the referrals in rs matching f, in their original order. rs
// is never modified.
func Apply(rs []*Referral, f Filter, dir Direction) []*Referral {
	out := make([]*Referral, 0, len(rs))
	for _, r := range rs {
		if f.Matches(r, dir) {
			out = append(out, r)
		}
	}
	return out
}
