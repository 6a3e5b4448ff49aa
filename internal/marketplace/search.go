package marketplace

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// SortBy selects the ordering of search results.
type SortBy string

const (
	SortInsertion  SortBy = ""
	SortPrice      SortBy = "price"
	SortRating     SortBy = "rating"
	SortPopularity SortBy = "popularity"
)

// Query filters the live services. Zero-valued fields do not filter.
type Query struct {
	// Capabilities matches services having any of the listed capabilities.
	Capabilities []string
	MaxPrice     *decimal.Decimal
	MinRating    *float64
	// Text is a case-insensitive substring of name or description.
	Text   string
	SortBy SortBy
	Limit  int
	Offset int
}

// Search filters and orders the cache. It never reads the store.
func (r *Repository) Search(q Query) []Service {
	r.mu.RLock()
	entries := make([]cacheEntry, 0, len(r.cache))
	for _, e := range r.cache {
		if matches(e.svc, q) {
			entries = append(entries, cacheEntry{svc: e.svc.clone(), seq: e.seq})
		}
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	switch q.SortBy {
	case SortPrice:
		sort.SliceStable(entries, func(i, j int) bool {
			return entries[i].svc.Pricing.Amount.LessThan(entries[j].svc.Pricing.Amount)
		})
	case SortRating:
		sort.SliceStable(entries, func(i, j int) bool {
			return entries[i].svc.Reputation.Rating > entries[j].svc.Reputation.Rating
		})
	case SortPopularity:
		sort.SliceStable(entries, func(i, j int) bool {
			return entries[i].svc.Reputation.JobCount > entries[j].svc.Reputation.JobCount
		})
	}

	if q.Offset > 0 {
		if q.Offset >= len(entries) {
			return []Service{}
		}
		entries = entries[q.Offset:]
	}
	if q.Limit > 0 && q.Limit < len(entries) {
		entries = entries[:q.Limit]
	}

	out := make([]Service, len(entries))
	for i, e := range entries {
		out[i] = e.svc
	}
	return out
}

func matches(s Service, q Query) bool {
	if len(q.Capabilities) > 0 && !s.HasAnyCapability(q.Capabilities) {
		return false
	}
	if q.MaxPrice != nil && s.Pricing.Amount.GreaterThan(*q.MaxPrice) {
		return false
	}
	if q.MinRating != nil && s.Reputation.Rating < *q.MinRating {
		return false
	}
	if q.Text != "" {
		needle := strings.ToLower(q.Text)
		if !strings.Contains(strings.ToLower(s.Name), needle) &&
			!strings.Contains(strings.ToLower(s.Description), needle) {
			return false
		}
	}
	return true
}

// ParseSortBy accepts the query-string spelling of a sort order.
func ParseSortBy(s string) (SortBy, bool) {
	switch SortBy(strings.ToLower(strings.TrimSpace(s))) {
	case SortInsertion:
		return SortInsertion, true
	case SortPrice, "price_asc":
		return SortPrice, true
	case SortRating, "rating_desc":
		return SortRating, true
	case SortPopularity, "jobs":
		return SortPopularity, true
	}
	return "", false
}
