// Package catalog loads the task sequence and achievement rules from YAML.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/ad/go-daily-tasks-bot/internal/models"
	"gopkg.in/yaml.v3"
)

//go:embed default_tasks.yaml
var defaultCatalog []byte

type Catalog struct {
	Tasks        []string                 `yaml:"tasks"`
	Achievements []models.AchievementRule `yaml:"achievements"`
}

func (c *Catalog) Sequence() models.TaskSequence {
	return models.TaskSequence(c.Tasks)
}

func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	sort.Slice(c.Achievements, func(i, j int) bool {
		return c.Achievements[i].Threshold < c.Achievements[j].Threshold
	})
	return &c, nil
}

func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return Parse(data)
}

// Default returns the catalog compiled into the binary.
func Default() *Catalog {
	c, err := Parse(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("embedded catalog is invalid: %v", err))
	}
	return c
}

func (c *Catalog) Validate() error {
	if len(c.Tasks) == 0 {
		return errors.New("catalog: no tasks")
	}
	for i, t := range c.Tasks {
		if strings.TrimSpace(t) == "" {
			return fmt.Errorf("catalog: task for day %d is empty", i+1)
		}
	}
	seen := make(map[int]bool, len(c.Achievements))
	for _, a := range c.Achievements {
		if a.Threshold <= 0 {
			return fmt.Errorf("catalog: achievement threshold %d must be positive", a.Threshold)
		}
		if seen[a.Threshold] {
			return fmt.Errorf("catalog: duplicate achievement threshold %d", a.Threshold)
		}
		if strings.TrimSpace(a.Reward) == "" {
			return fmt.Errorf("catalog: achievement %d has no reward", a.Threshold)
		}
		seen[a.Threshold] = true
	}
	return nil
}
