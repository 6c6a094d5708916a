package config

import (
	"fmt"
	"os"

	"github.com/wfunc/quizbattle/models"
	"gopkg.in/yaml.v3"
)

// questionFile is the on-disk layout of the question bank.
type questionFile struct {
	Questions []models.Question `yaml:"questions"`
}

// LoadQuestionPool reads the question bank from a yaml file. Questions
// without a difficulty default to difficulty; ids must be unique.
func LoadQuestionPool(path string, difficulty models.Difficulty) ([]models.Question, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseQuestionPool(data, difficulty)
}

func ParseQuestionPool(data []byte, difficulty models.Difficulty) ([]models.Question, error) {
	var file questionFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse question pool: %w", err)
	}

	seen := make(map[string]bool, len(file.Questions))
	for i := range file.Questions {
		q := &file.Questions[i]
		if q.ID == "" || q.Answer == "" {
			return nil, fmt.Errorf("question %d needs an id and an answer", i)
		}
		if seen[q.ID] {
			return nil, fmt.Errorf("duplicate question id %q", q.ID)
		}
		seen[q.ID] = true
		if q.Difficulty == "" {
			q.Difficulty = difficulty
		}
		if !q.Difficulty.Valid() {
			return nil, fmt.Errorf("question %q has unknown difficulty %q", q.ID, q.Difficulty)
		}
	}
	return file.Questions, nil
}
