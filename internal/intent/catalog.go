// Package intent defines the banking intent catalog and a deterministic
// phrase-based recognizer used by the conversation workflow.
package intent

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Definition describes one supported intent: the data it needs, whether
// executing it changes account state, and how to invoke the downstream
// service that fulfills it.
type Definition struct {
	// Name is the canonical intent identifier, e.g. "banking.balance.check".
	Name string `yaml:"name"`

	// RequiredFields must all be present in the session's collected data
	// before the intent can execute.
	RequiredFields []string `yaml:"required_fields"`

	// Mutating intents require explicit human confirmation before any
	// downstream call is made.
	Mutating bool `yaml:"mutating"`

	// Service names the downstream dependency that fulfills the intent.
	Service string `yaml:"service"`

	// Method and Path describe the downstream HTTP call. Path segments of
	// the form {field} are filled from collected data.
	Method string `yaml:"method"`
	Path   string `yaml:"path"`

	// Phrases are trigger phrases used by the recognizer.
	Phrases []string `yaml:"phrases"`

	// Prompts maps a required field to the question asked when it is missing.
	Prompts map[string]string `yaml:"prompts"`

	// ResponseTemplate is the acknowledgement shown on success.
	ResponseTemplate string `yaml:"response_template"`
}

// Catalog is the set of supported intents, keyed by name.
type Catalog struct {
	defs map[string]Definition
}

// NewCatalog builds a catalog from definitions.
func NewCatalog(defs []Definition) (*Catalog, error) {
	m := make(map[string]Definition, len(defs))
	for _, d := range defs {
		if d.Name == "" {
			return nil, fmt.Errorf("intent definition missing name")
		}
		if _, dup := m[d.Name]; dup {
			return nil, fmt.Errorf("duplicate intent: %s", d.Name)
		}
		if d.Service == "" {
			return nil, fmt.Errorf("intent %s missing service", d.Name)
		}
		m[d.Name] = d
	}
	return &Catalog{defs: m}, nil
}

// FromFile loads a catalog from a YAML file.
func FromFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read intent catalog: %w", err)
	}

	var doc struct {
		Intents []Definition `yaml:"intents"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse intent catalog: %w", err)
	}
	if len(doc.Intents) == 0 {
		return nil, fmt.Errorf("intent catalog %s defines no intents", path)
	}
	return NewCatalog(doc.Intents)
}

// Get returns the definition for an intent name.
func (c *Catalog) Get(name string) (Definition, bool) {
	d, ok := c.defs[name]
	return d, ok
}

// Names returns all intent names. Order is not guaranteed.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.defs))
	for name := range c.defs {
		names = append(names, name)
	}
	return names
}

// Definitions returns all definitions. Order is not guaranteed.
func (c *Catalog) Definitions() []Definition {
	defs := make([]Definition, 0, len(c.defs))
	for _, d := range c.defs {
		defs = append(defs, d)
	}
	return defs
}

// Defaults returns the built-in banking catalog.
func Defaults() *Catalog {
	c, err := NewCatalog([]Definition{
		{
			Name:           "banking.balance.check",
			Service:        "accounts",
			Method:         "GET",
			Path:           "/accounts/{account_id}/balance",
			RequiredFields: []string{"account_id"},
			Phrases: []string{
				"balance", "how much money do i have", "what's in my account",
			},
			Prompts: map[string]string{
				"account_id": "Which account would you like to check?",
			},
			ResponseTemplate: "Here is your account balance.",
		},
		{
			Name:           "banking.transfer.money",
			Service:        "payments",
			Method:         "POST",
			Path:           "/transfers",
			Mutating:       true,
			RequiredFields: []string{"amount", "to_account"},
			Phrases: []string{
				"transfer", "send money", "move money",
			},
			Prompts: map[string]string{
				"amount":     "How much would you like to transfer?",
				"to_account": "Which account should receive the transfer?",
			},
			ResponseTemplate: "Your transfer has been submitted.",
		},
		{
			Name:           "banking.transactions.view",
			Service:        "accounts",
			Method:         "GET",
			Path:           "/accounts/{account_id}/transactions",
			RequiredFields: []string{"account_id"},
			Phrases: []string{
				"transactions", "transaction history", "recent activity",
				"what did i spend",
			},
			Prompts: map[string]string{
				"account_id": "Which account's transactions would you like to see?",
			},
			ResponseTemplate: "Here are your recent transactions.",
		},
		{
			Name:           "banking.card.block",
			Service:        "cards",
			Method:         "POST",
			Path:           "/cards/{card_id}/block",
			Mutating:       true,
			RequiredFields: []string{"card_id"},
			Phrases: []string{
				"block my card", "freeze my card", "lost my card", "card was stolen",
				"lock my card",
			},
			Prompts: map[string]string{
				"card_id": "Which card should be blocked?",
			},
			ResponseTemplate: "Your card has been blocked.",
		},
		{
			Name:           "banking.card.activate",
			Service:        "cards",
			Method:         "POST",
			Path:           "/cards/{card_id}/activate",
			Mutating:       true,
			RequiredFields: []string{"card_id"},
			Phrases: []string{
				"activate my card", "enable my new card", "activate new card",
				"received a new card",
			},
			Prompts: map[string]string{
				"card_id": "Which card would you like to activate?",
			},
			ResponseTemplate: "Your card has been activated.",
		},
		{
			Name:           "banking.loan.check",
			Service:        "loans",
			Method:         "GET",
			Path:           "/loans/{loan_id}",
			RequiredFields: []string{"loan_id"},
			Phrases: []string{
				"loan balance", "mortgage balance", "how much do i owe",
				"loan status", "when is my loan due",
			},
			Prompts: map[string]string{
				"loan_id": "Which loan would you like to check?",
			},
			ResponseTemplate: "Here is your loan status.",
		},
		{
			Name:           "banking.loan.apply",
			Service:        "loans",
			Method:         "POST",
			Path:           "/loans/applications",
			Mutating:       true,
			RequiredFields: []string{"amount", "loan_type"},
			Phrases: []string{
				"apply for a loan", "i need a loan", "loan application",
				"apply for mortgage", "i want to borrow money",
			},
			Prompts: map[string]string{
				"amount":    "How much would you like to borrow?",
				"loan_type": "What kind of loan are you applying for?",
			},
			ResponseTemplate: "Your loan application has been started.",
		},
		{
			Name:           "banking.account.open",
			Service:        "accounts",
			Method:         "POST",
			Path:           "/accounts",
			Mutating:       true,
			RequiredFields: []string{"account_type"},
			Phrases: []string{
				"open a new account", "open an account", "create an account",
				"open checking account", "open a savings account",
			},
			Prompts: map[string]string{
				"account_type": "What type of account would you like to open?",
			},
			ResponseTemplate: "Your new account has been opened.",
		},
		{
			Name:           "banking.account.close",
			Service:        "accounts",
			Method:         "POST",
			Path:           "/accounts/{account_id}/close",
			Mutating:       true,
			RequiredFields: []string{"account_id"},
			Phrases: []string{
				"close my account", "cancel my account", "close my savings account",
				"deactivate my account",
			},
			Prompts: map[string]string{
				"account_id": "Which account should be closed?",
			},
			ResponseTemplate: "Your account has been closed.",
		},
		{
			Name:           "banking.bill.pay",
			Service:        "payments",
			Method:         "POST",
			Path:           "/bills/payments",
			Mutating:       true,
			RequiredFields: []string{"amount", "payee"},
			Phrases: []string{
				"pay a bill", "bill payment", "pay my electricity bill",
				"pay utility bill", "pay credit card bill",
			},
			Prompts: map[string]string{
				"amount": "How much is the payment?",
				"payee":  "Who should the payment go to?",
			},
			ResponseTemplate: "Your bill payment has been scheduled.",
		},
		{
			Name:           "banking.statement.request",
			Service:        "accounts",
			Method:         "POST",
			Path:           "/accounts/{account_id}/statements",
			RequiredFields: []string{"account_id"},
			Phrases: []string{
				"bank statement", "account statement", "request a statement",
				"email my statement", "download statement",
			},
			Prompts: map[string]string{
				"account_id": "Which account's statement do you need?",
			},
			ResponseTemplate: "Your statement has been requested.",
		},
		{
			Name:           "banking.pin.change",
			Service:        "cards",
			Method:         "POST",
			Path:           "/cards/{card_id}/pin",
			Mutating:       true,
			RequiredFields: []string{"card_id"},
			Phrases: []string{
				"change my pin", "reset pin", "forgot my pin", "new pin",
				"update my pin",
			},
			Prompts: map[string]string{
				"card_id": "Which card's PIN would you like to change?",
			},
			ResponseTemplate: "Your PIN has been changed.",
		},
		{
			Name:           "banking.dispute.transaction",
			Service:        "accounts",
			Method:         "POST",
			Path:           "/accounts/{account_id}/disputes",
			Mutating:       true,
			RequiredFields: []string{"account_id", "transaction_id"},
			Phrases: []string{
				"dispute", "didn't make this purchase", "fraudulent transaction",
				"dispute charge", "this transaction is wrong",
			},
			Prompts: map[string]string{
				"account_id":     "Which account is the transaction on?",
				"transaction_id": "Which transaction would you like to dispute?",
			},
			ResponseTemplate: "Your dispute has been filed.",
		},
		{
			Name:    "banking.interest.rates",
			Service: "loans",
			Method:  "GET",
			Path:    "/rates",
			Phrases: []string{
				"interest rates", "current rates", "mortgage rates", "cd rates",
				"savings account interest rate",
			},
			ResponseTemplate: "Here are the current interest rates.",
		},
		{
			Name:    "banking.atm.find",
			Service: "accounts",
			Method:  "GET",
			Path:    "/locations",
			Phrases: []string{
				"find an atm", "nearest atm", "atm locations", "closest atm",
				"branch near me",
			},
			ResponseTemplate: "Here are the nearest ATMs and branches.",
		},
	})
	if err != nil {
		panic(err) // built-in catalog is static
	}
	return c
}
