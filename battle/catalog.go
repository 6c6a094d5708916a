package battle

import (
	"fmt"

	"github.com/wfunc/quizbattle/models"
)

// Rarity groups cards for the weighted draw.
type Rarity string

const (
	RarityBasic  Rarity = "basic"
	RarityNormal Rarity = "normal"
	RarityEpic   Rarity = "epic"
	RarityRare   Rarity = "rare"
)

var rarities = []Rarity{RarityBasic, RarityNormal, RarityEpic, RarityRare}

// Target says who a card's effect lands on.
type Target string

const (
	TargetSelf     Target = "self"
	TargetOpponent Target = "opponent"
)

// Card is one static catalog entry.
type Card struct {
	ID     string
	Name   string
	Rarity Rarity
	Kind   models.EffectKind
	Target Target
	// Offensive cards deal damage to the opponent on a correct answer.
	Offensive bool
	// OwnDamage replaces the base damage when set (poison's immediate hit).
	OwnDamage bool
}

const (
	CardBasicStrike      = "basic_strike"
	CardQuickDraw        = "quick_draw"
	CardTimeManipulation = "time_manipulation"
	CardAnswerShield     = "answer_shield"
	CardRegeneration     = "regeneration"
	CardPoisonType       = "poison_type"
	CardMindControl      = "mind_control"
)

var catalog = []Card{
	{ID: CardBasicStrike, Name: "Basic Strike", Rarity: RarityBasic, Kind: models.EffectNone, Target: TargetOpponent, Offensive: true},
	{ID: CardQuickDraw, Name: "Quick Draw", Rarity: RarityNormal, Kind: models.EffectExtraTurn, Target: TargetSelf, Offensive: true},
	{ID: CardTimeManipulation, Name: "Time Manipulation", Rarity: RarityNormal, Kind: models.EffectReduceTime, Target: TargetOpponent, Offensive: true},
	{ID: CardAnswerShield, Name: "Answer Shield", Rarity: RarityEpic, Kind: models.EffectBlockCards, Target: TargetOpponent, Offensive: true},
	{ID: CardRegeneration, Name: "Regeneration", Rarity: RarityEpic, Kind: models.EffectHeal, Target: TargetSelf},
	{ID: CardPoisonType, Name: "Poison Type", Rarity: RarityRare, Kind: models.EffectPoison, Target: TargetOpponent, Offensive: true, OwnDamage: true},
	{ID: CardMindControl, Name: "Mind Control", Rarity: RarityRare, Kind: models.EffectSkipTurn, Target: TargetOpponent, Offensive: true},
}

var (
	cardsByID     = make(map[string]Card, len(catalog))
	cardsByRarity = make(map[Rarity][]Card)
)

func init() {
	for _, c := range catalog {
		cardsByID[c.ID] = c
		cardsByRarity[c.Rarity] = append(cardsByRarity[c.Rarity], c)
	}
}

// LookupCard returns the catalog entry for id.
func LookupCard(id string) (Card, error) {
	c, ok := cardsByID[id]
	if !ok {
		return Card{}, fmt.Errorf("%q: %w", id, ErrUnknownCard)
	}
	return c, nil
}

// Cards returns a copy of the whole catalog in a stable order.
func Cards() []Card {
	return append([]Card(nil), catalog...)
}

// tierWeights are percent chances per rarity, in the order of rarities.
var tierWeights = map[models.Difficulty][4]int{
	models.DifficultyEasy:    {60, 25, 10, 5},
	models.DifficultyAverage: {45, 30, 17, 8},
	models.DifficultyHard:    {30, 30, 25, 15},
}

// rarityFor maps a roll in [0,100) to a rarity using the tier table.
func rarityFor(tier models.Difficulty, roll int) Rarity {
	weights := tierWeights[tier]
	acc := 0
	for i, w := range weights {
		acc += w
		if roll < acc {
			return rarities[i]
		}
	}
	return RarityBasic
}
