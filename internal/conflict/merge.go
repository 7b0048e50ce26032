package conflict

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ilyakasyanov/walletsync/internal/models"
)

// FieldKind drives the per-field merge rule and the auto-resolvability
// decision: arrays are safe to union, numbers safe to take the max, and
// everything else needs last-writer-wins or a human.
type FieldKind int

const (
	KindScalar FieldKind = iota
	KindArray
	KindNumeric
)

// FieldDiff names one payload field that differs between replicas.
type FieldDiff struct {
	Name string
	Kind FieldKind
}

// DiffPayloads lists the fields that differ between two payloads of the
// same entity type. The switch is exhaustive over the payload union.
func DiffPayloads(local, remote models.Payload) ([]FieldDiff, error) {
	if local.GetType() != remote.GetType() {
		return nil, fmt.Errorf("diff: mismatched payload types %q vs %q", local.GetType(), remote.GetType())
	}

	var diffs []FieldDiff
	add := func(name string, kind FieldKind, differs bool) {
		if differs {
			diffs = append(diffs, FieldDiff{Name: name, Kind: kind})
		}
	}

	switch l := local.(type) {
	case models.Expense:
		r := remote.(models.Expense)
		add("title", KindScalar, l.Title != r.Title)
		add("amount", KindNumeric, !l.Amount.Equal(r.Amount))
		add("categories", KindArray, !equalStrings(l.Categories, r.Categories))
		add("for", KindArray, !equalStrings(l.For, r.For))
		add("card", KindScalar, l.Card != r.Card)
		add("date", KindScalar, l.Date != r.Date)
	case models.Income:
		r := remote.(models.Income)
		add("title", KindScalar, l.Title != r.Title)
		add("amount", KindNumeric, !l.Amount.Equal(r.Amount))
		add("category", KindScalar, l.Category != r.Category)
		add("date", KindScalar, l.Date != r.Date)
	case models.Category:
		r := remote.(models.Category)
		add("name", KindScalar, l.Name != r.Name)
		add("icon", KindScalar, l.Icon != r.Icon)
		add("color", KindScalar, l.Color != r.Color)
	case models.ForTag:
		r := remote.(models.ForTag)
		add("name", KindScalar, l.Name != r.Name)
	case models.Card:
		r := remote.(models.Card)
		add("name", KindScalar, l.Name != r.Name)
		add("digits", KindScalar, l.Digits != r.Digits)
	case models.IncomeCategory:
		r := remote.(models.IncomeCategory)
		add("name", KindScalar, l.Name != r.Name)
	default:
		return nil, fmt.Errorf("diff: unsupported payload type %T", local)
	}

	return diffs, nil
}

// MergePayloads combines two payloads field by field. The result is
// deterministic, commutative and idempotent per field:
//
//   - arrays: set union, de-duplicated, local elements first;
//   - numbers: maximum of the two (under-recording a loss is judged worse
//     than over-recording);
//   - scalars: last-writer-wins by localNewer, ties break to remote.
func MergePayloads(local, remote models.Payload, localNewer bool) (models.Payload, error) {
	if local.GetType() != remote.GetType() {
		return nil, fmt.Errorf("merge: mismatched payload types %q vs %q", local.GetType(), remote.GetType())
	}

	switch l := local.(type) {
	case models.Expense:
		r := remote.(models.Expense)
		return models.Expense{
			Title:      lwwString(l.Title, r.Title, localNewer),
			Amount:     decimal.Max(l.Amount, r.Amount),
			Categories: unionStrings(l.Categories, r.Categories),
			For:        unionStrings(l.For, r.For),
			Card:       lwwString(l.Card, r.Card, localNewer),
			Date:       lwwInt64(l.Date, r.Date, localNewer),
		}, nil
	case models.Income:
		r := remote.(models.Income)
		return models.Income{
			Title:    lwwString(l.Title, r.Title, localNewer),
			Amount:   decimal.Max(l.Amount, r.Amount),
			Category: lwwString(l.Category, r.Category, localNewer),
			Date:     lwwInt64(l.Date, r.Date, localNewer),
		}, nil
	case models.Category:
		r := remote.(models.Category)
		return models.Category{
			Name:  lwwString(l.Name, r.Name, localNewer),
			Icon:  lwwString(l.Icon, r.Icon, localNewer),
			Color: lwwString(l.Color, r.Color, localNewer),
		}, nil
	case models.ForTag:
		r := remote.(models.ForTag)
		return models.ForTag{Name: lwwString(l.Name, r.Name, localNewer)}, nil
	case models.Card:
		r := remote.(models.Card)
		return models.Card{
			Name:   lwwString(l.Name, r.Name, localNewer),
			Digits: lwwString(l.Digits, r.Digits, localNewer),
		}, nil
	case models.IncomeCategory:
		r := remote.(models.IncomeCategory)
		return models.IncomeCategory{Name: lwwString(l.Name, r.Name, localNewer)}, nil
	default:
		return nil, fmt.Errorf("merge: unsupported payload type %T", local)
	}
}

// AutoResolvable reports whether every differing field can be merged
// without human judgment, i.e. the diff is limited to array and numeric
// fields. Conflicting titles, identifiers and other scalars disqualify.
func AutoResolvable(diffs []FieldDiff) bool {
	for _, d := range diffs {
		if d.Kind == KindScalar {
			return false
		}
	}
	return true
}

func unionStrings(local, remote []string) []string {
	seen := make(map[string]struct{}, len(local)+len(remote))
	out := make([]string, 0, len(local)+len(remote))
	for _, s := range local {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	for _, s := range remote {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func lwwString(local, remote string, localNewer bool) string {
	if localNewer {
		return local
	}
	return remote
}

func lwwInt64(local, remote int64, localNewer bool) int64 {
	if localNewer {
		return local
	}
	return remote
}
