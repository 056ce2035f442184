// Package fixtures provides the data seeded at user provisioning
package fixtures

import (
	_ "embed"
	"fmt"

	"github.com/Dan9191/finance-ledger/internal/category"
	"github.com/Dan9191/finance-ledger/internal/models"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultSeed []byte

// Account is a starter account template
type Account struct {
	Name     string             `yaml:"name"`
	Currency string             `yaml:"currency"`
	Kind     models.AccountKind `yaml:"kind"`
	Order    int                `yaml:"order"`
}

// Seed is the initial data of a new user
type Seed struct {
	Categories category.Doc `yaml:"categories"`
	Accounts   []Account    `yaml:"accounts"`
}

// Default returns the embedded seed
func Default() (*Seed, error) {
	return Parse(defaultSeed)
}

// Parse decodes a seed document and validates its category tree
func Parse(data []byte) (*Seed, error) {
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed: %w", err)
	}
	if _, err := category.FromDoc(seed.Categories); err != nil {
		return nil, fmt.Errorf("invalid seed categories: %w", err)
	}
	for i, a := range seed.Accounts {
		if a.Name == "" || a.Currency == "" {
			return nil, fmt.Errorf("seed account %d: name and currency are required", i)
		}
		if !a.Kind.Valid() {
			return nil, fmt.Errorf("seed account %d: unknown kind %q", i, a.Kind)
		}
	}
	return &seed, nil
}

// Tree builds the user's category tree with fresh node ids
func (s *Seed) Tree() (*category.Tree, error) {
	return category.FromDoc(withFreshIDs(s.Categories))
}

// withFreshIDs copies doc, replacing every node id with a new uuid
func withFreshIDs(doc category.Doc) category.Doc {
	out := doc
	out.ID = uuid.NewString()
	if len(doc.Children) > 0 {
		out.Children = make([]category.Doc, len(doc.Children))
		for i, child := range doc.Children {
			out.Children[i] = withFreshIDs(child)
		}
	}
	return out
}
