package battle

import "time"

// PoisonPolicy decides what a second poison on the same target does.
type PoisonPolicy string

const (
	// PoisonReset refreshes turns_remaining on the existing poison.
	PoisonReset PoisonPolicy = "reset"
	// PoisonStack adds another poison up to PoisonMaxStacks.
	PoisonStack PoisonPolicy = "stack"
)

// Config holds the tunable numbers of the engine. Card identities are fixed
// by the catalog; only their parameters come from here.
type Config struct {
	BaseDamage         int           `mapstructure:"base_damage"`
	WrongAnswerPenalty int           `mapstructure:"wrong_answer_penalty"`
	HealAmount         int           `mapstructure:"heal_amount"`
	PoisonHit          int           `mapstructure:"poison_hit"`
	PoisonTickDamage   int           `mapstructure:"poison_tick_damage"`
	PoisonTurns        int           `mapstructure:"poison_turns"`
	PoisonPolicy       PoisonPolicy  `mapstructure:"poison_policy"`
	PoisonMaxStacks    int           `mapstructure:"poison_max_stacks"`
	ReductionPercent   int           `mapstructure:"reduction_percent"`
	MinTime            time.Duration `mapstructure:"min_time"`
	ShieldSlots        int           `mapstructure:"shield_slots"`
	HandSize           int           `mapstructure:"hand_size"`
	DedupAttempts      int           `mapstructure:"dedup_attempts"`
	// Seed mixes into every draw; both clients of a battle should agree on it
	// only if they want identical hands for identical inputs.
	Seed uint64 `mapstructure:"seed"`
}

const maxShieldSlots = 3

// DefaultConfig returns the stock card parameters.
func DefaultConfig() Config {
	return Config{
		BaseDamage:         10,
		WrongAnswerPenalty: 0,
		HealAmount:         10,
		PoisonHit:          10,
		PoisonTickDamage:   5,
		PoisonTurns:        3,
		PoisonPolicy:       PoisonReset,
		PoisonMaxStacks:    2,
		ReductionPercent:   30,
		MinTime:            5 * time.Second,
		ShieldSlots:        1,
		HandSize:           3,
		DedupAttempts:      5,
	}
}

// normalize fills zero values from DefaultConfig and clamps the shield size.
func (c Config) normalize() Config {
	d := DefaultConfig()
	if c.BaseDamage <= 0 {
		c.BaseDamage = d.BaseDamage
	}
	if c.WrongAnswerPenalty < 0 {
		c.WrongAnswerPenalty = 0
	}
	if c.HealAmount <= 0 {
		c.HealAmount = d.HealAmount
	}
	if c.PoisonHit <= 0 {
		c.PoisonHit = d.PoisonHit
	}
	if c.PoisonTickDamage <= 0 {
		c.PoisonTickDamage = d.PoisonTickDamage
	}
	if c.PoisonTurns <= 0 {
		c.PoisonTurns = d.PoisonTurns
	}
	if c.PoisonPolicy != PoisonStack {
		c.PoisonPolicy = PoisonReset
	}
	if c.PoisonMaxStacks <= 0 {
		c.PoisonMaxStacks = d.PoisonMaxStacks
	}
	if c.ReductionPercent <= 0 || c.ReductionPercent >= 100 {
		c.ReductionPercent = d.ReductionPercent
	}
	if c.MinTime <= 0 {
		c.MinTime = d.MinTime
	}
	if c.HandSize <= 0 {
		c.HandSize = d.HandSize
	}
	if c.ShieldSlots <= 0 {
		c.ShieldSlots = d.ShieldSlots
	}
	if c.ShieldSlots > maxShieldSlots {
		c.ShieldSlots = maxShieldSlots
	}
	if c.ShieldSlots > c.HandSize {
		c.ShieldSlots = c.HandSize
	}
	if c.DedupAttempts <= 0 {
		c.DedupAttempts = d.DedupAttempts
	}
	return c
}
