package catalog_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/atlas-desktop/strategy-verdict/internal/catalog"
	"github.com/atlas-desktop/strategy-verdict/internal/rules"
	"github.com/atlas-desktop/strategy-verdict/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestBuiltinStrategiesAreValid(t *testing.T) {
	seen := map[string]bool{}
	for _, s := range catalog.Builtin() {
		require.NoError(t, s.Validate(), s.ID)
		require.NoError(t, rules.Validate(s.Entry), s.ID)
		require.NoError(t, rules.Validate(s.Exit), s.ID)
		assert.False(t, seen[s.ID], "duplicate id %s", s.ID)
		seen[s.ID] = true
	}

	r := catalog.NewRegistry(zap.NewNop())
	assert.Equal(t, len(catalog.Builtin()), r.Len())
}

func TestRegistryGetAndSelect(t *testing.T) {
	r := catalog.NewRegistry(zap.NewNop())

	s, err := r.Get("momentum")
	require.NoError(t, err)
	assert.Equal(t, types.PositionSideLong, s.Direction)

	_, err = r.Get("nope")
	assert.ErrorIs(t, err, catalog.ErrNotFound)

	picked, err := r.Select([]string{"breakout", " momentum"})
	require.NoError(t, err)
	require.Len(t, picked, 2)
	assert.Equal(t, "breakout", picked[0].ID)

	all, err := r.Select(nil)
	require.NoError(t, err)
	assert.Len(t, all, r.Len())
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].ID, all[i].ID)
	}
}

func TestRegisterRejectsUnknownIndicator(t *testing.T) {
	r := catalog.NewRegistry(zap.NewNop())
	bad := types.Strategy{
		ID:    "bad",
		Entry: types.RuleSet{Rules: []types.Rule{{Left: types.Operand{Indicator: "vwap"}, Condition: types.ConditionAbove}}},
	}
	err := r.Register(bad)
	assert.ErrorIs(t, err, rules.ErrUnknownIndicator)
}

const catalogYAML = `
strategies:
  - id: sma_pullback
    name: SMA Pullback
    entry:
      logic: all
      rules:
        - left: {indicator: close}
          condition: below
          right: {indicator: sma, period: 20}
        - left: {indicator: rsi, period: 14}
          condition: below
          value: 40
    exit:
      rules:
        - left: {indicator: close}
          condition: above
          right: {indicator: sma, period: 20}
    sizing: {mode: percent_of_equity, value: 50}
    risk:
      stopLoss: {type: trailing, value: 6}
      takeProfit: {type: r_multiple, value: 2}
`

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "custom.yaml"), []byte(catalogYAML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	r := catalog.NewRegistry(zap.NewNop())
	n, err := r.LoadDir(dir)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	s, err := r.Get("sma_pullback")
	require.NoError(t, err)
	assert.Equal(t, types.LogicAll, s.Entry.Logic)
	require.Len(t, s.Entry.Rules, 2)
	assert.Equal(t, 20, s.Entry.Rules[0].Right.Period)
	assert.Equal(t, types.StopTrailing, s.Risk.StopLoss.Type)
	assert.Equal(t, types.TakeProfitRMultiple, s.Risk.TakeProfit.Type)

	n, err = r.LoadDir(filepath.Join(dir, "missing"))
	assert.NoError(t, err)
	assert.Zero(t, n)
}

func TestLoadFileInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("id: x\nsizing: {mode: martingale}\n"), 0o644))

	_, err := catalog.NewRegistry(zap.NewNop()).LoadFile(path)
	assert.ErrorIs(t, err, types.ErrInvalidStrategy)
}
