// Package chat turns a user utterance into a remedy answer: it resolves one
// intent through an ordered rule table and renders it from static templates.
package chat

import (
	"fmt"

	"github.com/ashureev/arogya/internal/domain"
)

// Kind identifies an intent variant.
type Kind int

const (
	KindFallback Kind = iota
	KindGreeting
	KindDatabaseMatch
	KindSymptom
	KindHerb
)

func (k Kind) String() string {
	switch k {
	case KindGreeting:
		return "greeting"
	case KindDatabaseMatch:
		return "database_match"
	case KindSymptom:
		return "symptom"
	case KindHerb:
		return "herb"
	default:
		return "fallback"
	}
}

// SymptomTag names one of the fixed symptom categories.
type SymptomTag string

const (
	SymptomFever     SymptomTag = "fever"
	SymptomCoughCold SymptomTag = "cough_cold"
	SymptomImmunity  SymptomTag = "immunity"
	SymptomDigestion SymptomTag = "digestion"
	SymptomStress    SymptomTag = "stress"
)

// HerbKey names one of the herbs with a dedicated answer.
type HerbKey string

const (
	HerbTurmeric    HerbKey = "turmeric"
	HerbAshwagandha HerbKey = "ashwagandha"
	HerbTulsi       HerbKey = "tulsi"
	HerbAmla        HerbKey = "amla"
	HerbBrahmi      HerbKey = "brahmi"
	HerbTriphala    HerbKey = "triphala"
)

// SymptomTags lists every symptom category in resolution order.
var SymptomTags = []SymptomTag{SymptomFever, SymptomCoughCold, SymptomImmunity, SymptomDigestion, SymptomStress}

// HerbKeys lists every herb in resolution order. When several herbs appear in
// one utterance the first in this list wins.
var HerbKeys = []HerbKey{HerbTurmeric, HerbAshwagandha, HerbTulsi, HerbAmla, HerbBrahmi, HerbTriphala}

// MaxDatabaseMatches caps the remedies included in a database answer.
const MaxDatabaseMatches = 5

// Intent is the single category selected for one utterance. Only the field
// matching Kind is set.
type Intent struct {
	Kind    Kind
	Records []domain.Remedy
	Symptom SymptomTag
	Herb    HerbKey
}

// Greeting returns the greeting intent.
func Greeting() Intent { return Intent{Kind: KindGreeting} }

// Fallback returns the fallback intent.
func Fallback() Intent { return Intent{Kind: KindFallback} }

// DatabaseMatch returns an intent carrying at most MaxDatabaseMatches records.
func DatabaseMatch(records []domain.Remedy) Intent {
	if len(records) > MaxDatabaseMatches {
		records = records[:MaxDatabaseMatches]
	}
	return Intent{Kind: KindDatabaseMatch, Records: records}
}

// Symptom returns the intent for a symptom category.
func Symptom(tag SymptomTag) Intent { return Intent{Kind: KindSymptom, Symptom: tag} }

// Herb returns the intent for a herb lookup.
func Herb(key HerbKey) Intent { return Intent{Kind: KindHerb, Herb: key} }

// Label is a short, log-friendly description such as "symptom:fever".
func (i Intent) Label() string {
	switch i.Kind {
	case KindSymptom:
		return fmt.Sprintf("%s:%s", i.Kind, i.Symptom)
	case KindHerb:
		return fmt.Sprintf("%s:%s", i.Kind, i.Herb)
	case KindDatabaseMatch:
		return fmt.Sprintf("%s:%d", i.Kind, len(i.Records))
	default:
		return i.Kind.String()
	}
}
