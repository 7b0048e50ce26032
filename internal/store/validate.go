package store

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ilyakasyanov/walletsync/internal/models"
)

// ValidationResult is the outcome of a structural entity check.
type ValidationResult struct {
	IsValid bool
	Errors  []string
}

// RepairPlaceholderTitle is the title assigned when repair cannot recover
// the original one.
const RepairPlaceholderTitle = "Recovered entry"

// payloadFieldKinds lists, per collection, which payload fields must be
// arrays and which must be non-negative numbers. Anything else is scalar.
var (
	arrayFields = map[models.EntityType][]string{
		models.EntityExpense: {"categories", "for"},
	}
	numericFields = map[models.EntityType][]string{
		models.EntityExpense: {"amount"},
		models.EntityIncome:  {"amount"},
	}
	requiredTextField = map[models.EntityType]string{
		models.EntityExpense:        "title",
		models.EntityIncome:         "title",
		models.EntityCategory:       "name",
		models.EntityForTag:         "name",
		models.EntityCard:           "name",
		models.EntityIncomeCategory: "name",
	}
)

// ValidateEntity runs the structural checks applied on every read from
// untrusted storage and before every persist: identifiers present, version
// positive, legal status, payload decodable with required fields present,
// numeric fields non-negative, array fields actually arrays.
func ValidateEntity(e *models.LocalEntity) ValidationResult {
	var errs []string

	if e.ID == "" {
		errs = append(errs, "missing id")
	}
	if e.LocalID == "" {
		errs = append(errs, "missing localId")
	}
	if !e.EntityType.Known() {
		errs = append(errs, fmt.Sprintf("unknown entity type %q", e.EntityType))
		return ValidationResult{IsValid: false, Errors: errs}
	}
	if e.Version < 1 {
		errs = append(errs, fmt.Sprintf("version %d below 1", e.Version))
	}
	switch e.SyncStatus {
	case models.StatusPending, models.StatusSyncing, models.StatusSynced, models.StatusFailed, models.StatusConflict:
	default:
		errs = append(errs, fmt.Sprintf("invalid sync status %q", e.SyncStatus))
	}
	if e.CloudID == "" && e.SyncStatus == models.StatusSynced {
		errs = append(errs, "synced entity without cloudId")
	}

	errs = append(errs, validatePayload(e.EntityType, e.Data)...)

	return ValidationResult{IsValid: len(errs) == 0, Errors: errs}
}

func validatePayload(t models.EntityType, raw json.RawMessage) []string {
	var errs []string

	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return []string{fmt.Sprintf("payload not an object: %v", err)}
	}

	if name := requiredTextField[t]; name != "" {
		v, ok := fields[name]
		text, isText := v.(string)
		if !ok || !isText || text == "" {
			errs = append(errs, fmt.Sprintf("missing required field %q", name))
		}
	}

	for _, name := range numericFields[t] {
		v, ok := fields[name]
		if !ok {
			errs = append(errs, fmt.Sprintf("missing numeric field %q", name))
			continue
		}
		d, err := toDecimal(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("field %q is not numeric", name))
			continue
		}
		if d.IsNegative() {
			errs = append(errs, fmt.Sprintf("field %q is negative", name))
		}
	}

	for _, name := range arrayFields[t] {
		v, ok := fields[name]
		if !ok || v == nil {
			continue
		}
		if _, isArray := v.([]any); !isArray {
			errs = append(errs, fmt.Sprintf("field %q is not an array", name))
		}
	}

	// the typed decode must succeed too, so downstream switches stay safe
	if _, err := models.DecodePayload(t, raw); err != nil {
		errs = append(errs, fmt.Sprintf("payload decode: %v", err))
	}

	return errs
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch value := v.(type) {
	case float64:
		return decimal.NewFromFloat(value), nil
	case string:
		return decimal.NewFromString(value)
	case json.Number:
		return decimal.NewFromString(value.String())
	default:
		return decimal.Zero, fmt.Errorf("unsupported numeric value %T", v)
	}
}

// AttemptRepair reconstructs a minimally valid entity from partial or
// corrupt data. Fresh identifiers are assigned when missing, invalid
// numeric fields are coerced to zero, a placeholder title is supplied, and
// malformed array fields become empty. Fields that are already valid are
// never touched. Returns the repaired entity and whether it now validates.
func AttemptRepair(e *models.LocalEntity) (*models.LocalEntity, bool) {
	repaired := e.Clone()

	if repaired.ID == "" {
		repaired.ID = uuid.NewString()
	}
	if repaired.LocalID == "" {
		repaired.LocalID = uuid.NewString()
	}
	if repaired.Version < 1 {
		repaired.Version = 1
	}
	now := models.NowMillis()
	if repaired.CreatedAt <= 0 {
		repaired.CreatedAt = now
	}
	if repaired.UpdatedAt <= 0 {
		repaired.UpdatedAt = now
	}
	switch repaired.SyncStatus {
	case models.StatusPending, models.StatusSyncing, models.StatusSynced, models.StatusFailed, models.StatusConflict:
	default:
		repaired.SyncStatus = models.StatusPending
	}
	if repaired.CloudID == "" && repaired.SyncStatus == models.StatusSynced {
		repaired.SyncStatus = models.StatusPending
	}

	if !repaired.EntityType.Known() {
		return repaired, false
	}

	var fields map[string]any
	if err := json.Unmarshal(repaired.Data, &fields); err != nil || fields == nil {
		fields = map[string]any{}
	}

	if name := requiredTextField[repaired.EntityType]; name != "" {
		if text, ok := fields[name].(string); !ok || text == "" {
			fields[name] = RepairPlaceholderTitle
		}
	}
	for _, name := range numericFields[repaired.EntityType] {
		d, err := toDecimal(fields[name])
		if err != nil || d.IsNegative() {
			fields[name] = 0
		}
	}
	for _, name := range arrayFields[repaired.EntityType] {
		if v, ok := fields[name]; ok && v != nil {
			if _, isArray := v.([]any); !isArray {
				fields[name] = []any{}
			}
		}
	}

	raw, err := json.Marshal(fields)
	if err != nil {
		return repaired, false
	}
	repaired.Data = raw

	return repaired, ValidateEntity(repaired).IsValid
}
