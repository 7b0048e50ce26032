package conflict

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilyakasyanov/walletsync/internal/models"
)

func localExpense() models.Expense {
	return models.Expense{
		Title:      "Dinner",
		Amount:     decimal.RequireFromString("25.50"),
		Categories: []string{"food"},
		Date:       1700000000000,
	}
}

func TestDiffPayloads_NamesAndKinds(t *testing.T) {
	local := localExpense()
	remote := localExpense()
	remote.Amount = decimal.RequireFromString("27.00")
	remote.Categories = []string{"drinks"}
	remote.Title = "Dinner out"

	diffs, err := DiffPayloads(local, remote)
	require.NoError(t, err)

	byName := map[string]FieldKind{}
	for _, d := range diffs {
		byName[d.Name] = d.Kind
	}
	assert.Equal(t, KindScalar, byName["title"])
	assert.Equal(t, KindNumeric, byName["amount"])
	assert.Equal(t, KindArray, byName["categories"])
	assert.Len(t, diffs, 3)
}

func TestDiffPayloads_EqualPayloadsEmpty(t *testing.T) {
	diffs, err := DiffPayloads(localExpense(), localExpense())
	require.NoError(t, err)
	assert.Empty(t, diffs)
}

func TestDiffPayloads_MismatchedTypes(t *testing.T) {
	_, err := DiffPayloads(localExpense(), models.Category{Name: "food"})
	assert.Error(t, err)
}

func TestMergePayloads_ArrayUnionAndNumericMax(t *testing.T) {
	local := localExpense()
	remote := localExpense()
	remote.Amount = decimal.RequireFromString("27.00")
	remote.Categories = []string{"drinks"}

	merged, err := MergePayloads(local, remote, true)
	require.NoError(t, err)
	exp := merged.(models.Expense)

	assert.Equal(t, []string{"food", "drinks"}, exp.Categories)
	assert.True(t, exp.Amount.Equal(decimal.RequireFromString("27.00")))
	assert.Equal(t, "Dinner", exp.Title)
}

func TestMergePayloads_ScalarLWWTiesToRemote(t *testing.T) {
	local := localExpense()
	local.Title = "Local title"
	remote := localExpense()
	remote.Title = "Remote title"

	merged, err := MergePayloads(local, remote, true)
	require.NoError(t, err)
	assert.Equal(t, "Local title", merged.(models.Expense).Title)

	// localNewer=false covers both "remote newer" and the timestamp tie
	merged, err = MergePayloads(local, remote, false)
	require.NoError(t, err)
	assert.Equal(t, "Remote title", merged.(models.Expense).Title)
}

func TestMergePayloads_Idempotent(t *testing.T) {
	local := localExpense()
	remote := localExpense()
	remote.Amount = decimal.RequireFromString("27.00")
	remote.Categories = []string{"drinks", "food"}

	once, err := MergePayloads(local, remote, true)
	require.NoError(t, err)
	twice, err := MergePayloads(once, remote, true)
	require.NoError(t, err)
	assert.Equal(t, once, twice)
}

func TestMergePayloads_UnionDeduplicates(t *testing.T) {
	local := localExpense()
	local.Categories = []string{"food", "travel"}
	remote := localExpense()
	remote.Categories = []string{"travel", "drinks"}

	merged, err := MergePayloads(local, remote, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"food", "travel", "drinks"}, merged.(models.Expense).Categories)
}

func TestAutoResolvable(t *testing.T) {
	assert.True(t, AutoResolvable([]FieldDiff{
		{Name: "amount", Kind: KindNumeric},
		{Name: "categories", Kind: KindArray},
	}))
	assert.False(t, AutoResolvable([]FieldDiff{
		{Name: "amount", Kind: KindNumeric},
		{Name: "title", Kind: KindScalar},
	}))
	assert.True(t, AutoResolvable(nil))
}

func TestMergePayloads_Income(t *testing.T) {
	local := models.Income{Title: "Salary", Amount: decimal.RequireFromString("1000"), Date: 10}
	remote := models.Income{Title: "Salary", Amount: decimal.RequireFromString("1200"), Date: 10}

	merged, err := MergePayloads(local, remote, false)
	require.NoError(t, err)
	assert.True(t, merged.(models.Income).Amount.Equal(decimal.RequireFromString("1200")))
}
