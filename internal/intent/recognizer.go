package intent

import (
	"regexp"
	"strings"
)

// Recognition is the outcome of analyzing one user message.
type Recognition struct {
	// Intent is the matched intent name, or "" when nothing matched.
	Intent string

	// Confidence is in [0,1]. Phrase matches score by specificity; the
	// workflow asks for clarification below its configured threshold.
	Confidence float64

	// Entities holds field values extracted from the message text.
	Entities map[string]string
}

// Recognizer matches user messages against the catalog's trigger phrases
// and extracts entities with pattern rules. It stands in for an external
// NLU service; the interface is small enough to swap one in later.
type Recognizer struct {
	catalog *Catalog
}

// NewRecognizer creates a recognizer over the catalog.
func NewRecognizer(catalog *Catalog) *Recognizer {
	return &Recognizer{catalog: catalog}
}

var (
	amountPattern  = regexp.MustCompile(`\$(\d+(?:\.\d{1,2})?)|(\d+(?:\.\d{1,2})?)\s*(?:dollars|usd)`)
	accountPattern = regexp.MustCompile(`\b(savings|checking|credit)\b`)
	numberPattern  = regexp.MustCompile(`\b(\d{4,})\b`)
)

// Recognize analyzes a message and returns the best-matching intent.
func (r *Recognizer) Recognize(message string) Recognition {
	text := strings.ToLower(strings.TrimSpace(message))
	if text == "" {
		return Recognition{Entities: map[string]string{}}
	}

	best := Recognition{Entities: map[string]string{}}
	for _, def := range r.catalog.Definitions() {
		score := matchScore(text, def.Phrases)
		if score > best.Confidence {
			best.Intent = def.Name
			best.Confidence = score
		}
	}

	if best.Intent != "" {
		best.Entities = extractEntities(text, best.Intent)
	}
	return best
}

// ExtractFor extracts entities from a message for an already-known
// intent, used on follow-up turns where recognition already happened.
func (r *Recognizer) ExtractFor(message, intentName string) map[string]string {
	return extractEntities(strings.ToLower(strings.TrimSpace(message)), intentName)
}

// matchScore returns the highest phrase score. Longer phrases are more
// specific, so a full multi-word phrase match scores higher than a single
// keyword.
func matchScore(text string, phrases []string) float64 {
	var score float64
	for _, phrase := range phrases {
		if !strings.Contains(text, phrase) {
			continue
		}
		s := 0.7
		if words := len(strings.Fields(phrase)); words >= 3 {
			s = 0.95
		} else if words == 2 {
			s = 0.85
		}
		if s > score {
			score = s
		}
	}
	return score
}

// extractEntities pulls field values relevant to the intent out of the text.
func extractEntities(text, intentName string) map[string]string {
	entities := map[string]string{}

	if m := amountPattern.FindStringSubmatch(text); m != nil {
		if m[1] != "" {
			entities["amount"] = m[1]
		} else {
			entities["amount"] = m[2]
		}
	}

	if m := accountPattern.FindStringSubmatch(text); m != nil {
		switch intentName {
		case "banking.transfer.money":
			entities["to_account"] = m[1]
		case "banking.account.open":
			entities["account_type"] = m[1]
		default:
			entities["account_id"] = m[1]
		}
	}

	if m := numberPattern.FindStringSubmatch(text); m != nil {
		switch intentName {
		case "banking.card.block", "banking.card.activate", "banking.pin.change":
			entities["card_id"] = m[1]
		case "banking.loan.check":
			entities["loan_id"] = m[1]
		case "banking.dispute.transaction":
			entities["transaction_id"] = m[1]
		case "banking.balance.check", "banking.transactions.view",
			"banking.account.close", "banking.statement.request":
			entities["account_id"] = m[1]
		}
	}

	return entities
}
