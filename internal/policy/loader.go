package policy

import (
	"fmt"

	"github.com/spf13/viper"
)

// LoadFile reads a policy document from a YAML file.
func LoadFile(path string) (*Policy, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}

	var p Policy
	if err := v.Unmarshal(&p); err != nil {
		return nil, fmt.Errorf("unmarshal policy: %w", err)
	}

	if p.Models == nil {
		p.Models = make(map[string]*ModelPolicy)
	}
	if p.DefaultBudget == (Budget{}) {
		p.DefaultBudget = DefaultBudget()
	}

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("validate policy: %w", err)
	}
	return &p, nil
}
