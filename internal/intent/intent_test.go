package intent

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsCatalog(t *testing.T) {
	c := Defaults()

	transfer, ok := c.Get("banking.transfer.money")
	require.True(t, ok)
	assert.True(t, transfer.Mutating)
	assert.ElementsMatch(t, []string{"amount", "to_account"}, transfer.RequiredFields)
	assert.Equal(t, "payments", transfer.Service)
	assert.NotEmpty(t, transfer.Prompts["amount"])

	balance, ok := c.Get("banking.balance.check")
	require.True(t, ok)
	assert.False(t, balance.Mutating)

	block, ok := c.Get("banking.card.block")
	require.True(t, ok)
	assert.True(t, block.Mutating)

	// Informational intents need no collected data at all.
	rates, ok := c.Get("banking.interest.rates")
	require.True(t, ok)
	assert.False(t, rates.Mutating)
	assert.Empty(t, rates.RequiredFields)

	dispute, ok := c.Get("banking.dispute.transaction")
	require.True(t, ok)
	assert.True(t, dispute.Mutating)
	assert.ElementsMatch(t, []string{"account_id", "transaction_id"}, dispute.RequiredFields)

	assert.Len(t, c.Names(), 15)
}

func TestNewCatalogRejectsInvalid(t *testing.T) {
	_, err := NewCatalog([]Definition{{Service: "accounts"}})
	assert.Error(t, err, "missing name")

	_, err = NewCatalog([]Definition{{Name: "a.b"}})
	assert.Error(t, err, "missing service")

	_, err = NewCatalog([]Definition{
		{Name: "a.b", Service: "x"},
		{Name: "a.b", Service: "y"},
	})
	assert.Error(t, err, "duplicate")
}

func TestFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "intents.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
intents:
  - name: banking.balance.check
    service: accounts
    method: GET
    path: /accounts/{account_id}/balance
    required_fields: [account_id]
    phrases: ["balance"]
    prompts:
      account_id: "Which account?"
`), 0o644))

	c, err := FromFile(path)
	require.NoError(t, err)

	def, ok := c.Get("banking.balance.check")
	require.True(t, ok)
	assert.Equal(t, []string{"account_id"}, def.RequiredFields)
	assert.Equal(t, "Which account?", def.Prompts["account_id"])
}

func TestFromFileErrors(t *testing.T) {
	_, err := FromFile("/nonexistent.yaml")
	assert.Error(t, err)

	empty := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("intents: []\n"), 0o644))
	_, err = FromFile(empty)
	assert.Error(t, err)
}

func TestRecognizeIntents(t *testing.T) {
	r := NewRecognizer(Defaults())

	tests := []struct {
		message string
		intent  string
	}{
		{"What is my balance", "banking.balance.check"},
		{"Transfer $500 to savings", "banking.transfer.money"},
		{"Show my transaction history", "banking.transactions.view"},
		{"I lost my card", "banking.card.block"},
		{"Activate my card please", "banking.card.activate"},
		{"What's my mortgage balance", "banking.loan.check"},
		{"Apply for a loan", "banking.loan.apply"},
		{"I want to open a savings account", "banking.account.open"},
		{"Close my account", "banking.account.close"},
		{"Pay my electricity bill", "banking.bill.pay"},
		{"Request a statement", "banking.statement.request"},
		{"I need to change my PIN", "banking.pin.change"},
		{"I want to dispute a charge on my card", "banking.dispute.transaction"},
		{"What are your interest rates", "banking.interest.rates"},
		{"Where is the nearest ATM", "banking.atm.find"},
	}

	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			got := r.Recognize(tt.message)
			assert.Equal(t, tt.intent, got.Intent)
			assert.Greater(t, got.Confidence, 0.5)
		})
	}
}

func TestRecognizeNoMatch(t *testing.T) {
	r := NewRecognizer(Defaults())

	got := r.Recognize("What's the weather like today")
	assert.Empty(t, got.Intent)
	assert.Zero(t, got.Confidence)

	got = r.Recognize("   ")
	assert.Empty(t, got.Intent)
}

func TestRecognizeExtractsEntities(t *testing.T) {
	r := NewRecognizer(Defaults())

	got := r.Recognize("Transfer $250.50 to savings")
	require.Equal(t, "banking.transfer.money", got.Intent)
	assert.Equal(t, "250.50", got.Entities["amount"])
	assert.Equal(t, "savings", got.Entities["to_account"])

	got = r.Recognize("Transfer 1000 dollars")
	require.Equal(t, "banking.transfer.money", got.Intent)
	assert.Equal(t, "1000", got.Entities["amount"])
	assert.NotContains(t, got.Entities, "to_account")

	got = r.Recognize("Block my card 12345678")
	require.Equal(t, "banking.card.block", got.Intent)
	assert.Equal(t, "12345678", got.Entities["card_id"])
}
