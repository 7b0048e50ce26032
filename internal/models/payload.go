package models

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Payload is the tagged union of entity-specific data. Every variant is
// plain data: no embedded behavior, no circular references.
type Payload interface {
	GetType() EntityType
}

// Expense records money going out.
type Expense struct {
	Title      string          `json:"title"`
	Amount     decimal.Decimal `json:"amount"`
	Categories []string        `json:"categories"`
	For        []string        `json:"for,omitempty"`
	Card       string          `json:"card,omitempty"`
	Date       int64           `json:"date"`
}

func (Expense) GetType() EntityType { return EntityExpense }

// Income records money coming in.
type Income struct {
	Title    string          `json:"title"`
	Amount   decimal.Decimal `json:"amount"`
	Category string          `json:"category,omitempty"`
	Date     int64           `json:"date"`
}

func (Income) GetType() EntityType { return EntityIncome }

// Category labels expenses.
type Category struct {
	Name  string `json:"name"`
	Icon  string `json:"icon,omitempty"`
	Color string `json:"color,omitempty"`
}

func (Category) GetType() EntityType { return EntityCategory }

// ForTag marks who or what an expense was for.
type ForTag struct {
	Name string `json:"name"`
}

func (ForTag) GetType() EntityType { return EntityForTag }

// Card identifies a payment card.
type Card struct {
	Name   string `json:"name"`
	Digits string `json:"digits,omitempty"`
}

func (Card) GetType() EntityType { return EntityCard }

// IncomeCategory labels income sources.
type IncomeCategory struct {
	Name string `json:"name"`
}

func (IncomeCategory) GetType() EntityType { return EntityIncomeCategory }

// EncodePayload serializes a payload for storage or transmission.
func EncodePayload(p Payload) (json.RawMessage, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", p.GetType(), err)
	}
	return b, nil
}

// DecodePayload deserializes raw data into the payload variant named by t.
// The switch is exhaustive over EntityTypes; an unknown type is an error,
// never a silently-typed map.
func DecodePayload(t EntityType, raw json.RawMessage) (Payload, error) {
	switch t {
	case EntityExpense:
		var v Expense
		return v, json.Unmarshal(raw, &v)
	case EntityIncome:
		var v Income
		return v, json.Unmarshal(raw, &v)
	case EntityCategory:
		var v Category
		return v, json.Unmarshal(raw, &v)
	case EntityForTag:
		var v ForTag
		return v, json.Unmarshal(raw, &v)
	case EntityCard:
		var v Card
		return v, json.Unmarshal(raw, &v)
	case EntityIncomeCategory:
		var v IncomeCategory
		return v, json.Unmarshal(raw, &v)
	default:
		return nil, fmt.Errorf("decode payload: %q: unsupported entity type", t)
	}
}
