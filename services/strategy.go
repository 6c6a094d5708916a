package services

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/wfunc/quizbattle/battle"
	"github.com/wfunc/quizbattle/models"
)

var rarityRank = map[battle.Rarity]int{
	battle.RarityBasic:  0,
	battle.RarityNormal: 1,
	battle.RarityEpic:   2,
	battle.RarityRare:   3,
}

// BotStrategy 机器人玩家
type BotStrategy struct {
	// Accuracy is the chance in [0,1] of answering correctly.
	Accuracy float64
	// Think is how long the bot takes to answer.
	Think time.Duration

	mutex sync.Mutex
	rng   *rand.Rand
}

func NewBotStrategy(accuracy float64, think time.Duration, seed uint64) *BotStrategy {
	return &BotStrategy{Accuracy: accuracy, Think: think, rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// ChooseCard heals when hurt and otherwise plays the rarest card in hand.
func (b *BotStrategy) ChooseCard(_ context.Context, hand battle.Hand, view TurnView) string {
	best := ""
	rank := -1
	for _, c := range hand.Playable() {
		if c.ID == battle.CardRegeneration {
			if view.MyHealth <= 60 {
				return c.ID
			}
			if view.MyHealth >= models.MaxHealth {
				continue
			}
		}
		if r := rarityRank[c.Rarity]; r > rank {
			best, rank = c.ID, r
		}
	}
	return best
}

func (b *BotStrategy) Answer(ctx context.Context, q battle.SelectedQuestion) string {
	if b.Think > 0 {
		select {
		case <-time.After(b.Think):
		case <-ctx.Done():
			return ""
		}
	}
	b.mutex.Lock()
	hit := b.rng.Float64() < b.Accuracy
	b.mutex.Unlock()
	if hit {
		return q.Question.Answer
	}
	return "?"
}

// ConsoleStrategy lets a person play from a terminal.
type ConsoleStrategy struct {
	out   io.Writer
	lines chan string
}

func NewConsoleStrategy(in io.Reader, out io.Writer) *ConsoleStrategy {
	c := &ConsoleStrategy{out: out, lines: make(chan string)}
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			c.lines <- strings.TrimSpace(scanner.Text())
		}
		close(c.lines)
	}()
	return c
}

func (c *ConsoleStrategy) ChooseCard(ctx context.Context, hand battle.Hand, view TurnView) string {
	fmt.Fprintf(c.out, "\n== Round %d == you %d hp, opponent %d hp\n", view.Round, view.MyHealth, view.OpponentHealth)
	for i, s := range hand.Slots {
		state := ""
		if s.Blocked {
			state = " (blocked)"
		}
		fmt.Fprintf(c.out, "  [%d] %s (%s)%s\n", i+1, s.Card.Name, s.Card.Rarity, state)
	}
	fmt.Fprint(c.out, "Pick a card (empty for none): ")

	line, ok := c.readLine(ctx)
	if !ok || line == "" {
		return ""
	}
	var n int
	if _, err := fmt.Sscanf(line, "%d", &n); err != nil || n < 1 || n > len(hand.Slots) {
		return ""
	}
	return hand.Slots[n-1].Card.ID
}

func (c *ConsoleStrategy) Answer(ctx context.Context, q battle.SelectedQuestion) string {
	fmt.Fprintf(c.out, "%s (%s)\n", q.Question.Prompt, q.TimeLimit)
	for _, choice := range q.Question.Choices {
		fmt.Fprintf(c.out, "  - %s\n", choice)
	}
	fmt.Fprint(c.out, "> ")
	line, _ := c.readLine(ctx)
	return line
}

func (c *ConsoleStrategy) readLine(ctx context.Context) (string, bool) {
	select {
	case line, ok := <-c.lines:
		return line, ok
	case <-ctx.Done():
		return "", false
	}
}
