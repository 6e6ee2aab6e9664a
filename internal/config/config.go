package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"caseflow/internal/domain"
)

const FileName = "caseflow.yml"

// Config models caseflow.yml: the action-type catalog loaded once at startup, plus the
// webhooks that receive pipeline events.
type Config struct {
	ActionTypes []ActionTypeConfig `yaml:"action_types" validate:"required,min=1,dive"`
	Webhooks    []WebhookConfig    `yaml:"webhooks,omitempty" validate:"dive"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url" validate:"required,url"`
	Events         []string `yaml:"events,omitempty"`
	Secret         string   `yaml:"secret,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty" validate:"gte=0"`
	Enabled        *bool    `yaml:"enabled,omitempty"`
}

type ActionTypeConfig struct {
	Code           string   `yaml:"code" validate:"required"`
	Name           string   `yaml:"name" validate:"required"`
	Description    string   `yaml:"description"`
	RequiredRole   string   `yaml:"required_role" validate:"required,oneof=agent lawyer admin"`
	ValidationRole string   `yaml:"validation_role,omitempty" validate:"omitempty,oneof=agent lawyer admin"`
	DefaultDueDays int      `yaml:"default_due_days" validate:"gte=0"`
	Stages         []string `yaml:"stages,omitempty" validate:"dive,oneof=agent_initial lawyer_validation admin_contract client_signature expediente_created"`
	Active         *bool    `yaml:"active,omitempty"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate ensures the catalog is well formed.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid catalog: %w", err)
	}
	seen := map[string]struct{}{}
	for _, at := range c.ActionTypes {
		if _, ok := seen[at.Code]; ok {
			return fmt.Errorf("duplicate action type %s", at.Code)
		}
		seen[at.Code] = struct{}{}
	}
	return nil
}

// ToActionTypes converts the catalog entries to domain values, keeping declaration order.
func (c *Config) ToActionTypes() []domain.ActionType {
	out := make([]domain.ActionType, 0, len(c.ActionTypes))
	for _, at := range c.ActionTypes {
		t := domain.ActionType{
			Code:           at.Code,
			DisplayName:    at.Name,
			Description:    at.Description,
			RequiredRole:   domain.Role(at.RequiredRole),
			DefaultDueDays: at.DefaultDueDays,
			IsActive:       at.Active == nil || *at.Active,
		}
		if at.ValidationRole != "" {
			r := domain.Role(at.ValidationRole)
			t.ValidationRole = &r
		}
		for _, s := range at.Stages {
			t.ApplicableStages = append(t.ApplicableStages, domain.Stage(s))
		}
		out = append(out, t)
	}
	return out
}

// Path returns the catalog file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// Load reads and validates the catalog from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("catalog %s not found; create one with cf config export > %s", path, FileName)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the catalog file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// GenerateDefault returns the default catalog YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the built-in catalog.
func Default() *Config {
	cfg, err := FromYAML([]byte(defaultTemplate))
	if err != nil {
		panic(fmt.Sprintf("default catalog: %v", err))
	}
	return cfg
}

// FromYAML parses and validates a catalog from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid catalog yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads a YAML catalog from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// Export renders the catalog back to YAML.
func (c *Config) Export() ([]byte, error) {
	return yaml.Marshal(c)
}

const defaultTemplate = `action_types:
  - code: make_first_call
    name: Make first call
    description: First phone contact with the prospect
    required_role: agent
    default_due_days: 1
    stages: [agent_initial]

  - code: request_pili_analysis
    name: Request Pili analysis
    description: Ask the case-analysis service for a migration situation report
    required_role: agent
    default_due_days: 1
    stages: [agent_initial]

  - code: follow_up_after_failed_calls
    name: Follow up after failed calls
    required_role: agent
    default_due_days: 2
    stages: [agent_initial]

  - code: follow_up_rejected_case
    name: Follow up rejected case
    description: Recontact a client whose case was sent back by the lawyer
    required_role: agent
    default_due_days: 3
    stages: [agent_initial]

  - code: elevate_to_lawyer
    name: Elevate to lawyer
    description: Hand the case to a lawyer for validation
    required_role: agent
    default_due_days: 1
    stages: [agent_initial]

  - code: validate_pili_analysis
    name: Validate Pili analysis
    description: Review the automated case analysis
    required_role: lawyer
    validation_role: lawyer
    default_due_days: 2
    stages: [lawyer_validation]

  - code: approve_tramite
    name: Approve procedure
    description: Accept the case and move it to contracting
    required_role: lawyer
    default_due_days: 1
    stages: [lawyer_validation]

  - code: reject_tramite
    name: Reject procedure
    description: Send the case back to the agent
    required_role: lawyer
    default_due_days: 1
    stages: [lawyer_validation]

  - code: generate_contract
    name: Generate contract
    required_role: admin
    default_due_days: 2
    stages: [admin_contract]

  - code: send_contract_reminder
    name: Send contract reminder
    required_role: admin
    default_due_days: 2
    stages: [admin_contract, client_signature]

  - code: wait_signature_payment
    name: Wait for signature and payment
    description: Recorded by the payment service once the client signs and pays
    required_role: admin
    default_due_days: 7
    stages: [client_signature]

  - code: create_expediente
    name: Create case file
    required_role: admin
    default_due_days: 3
    stages: [expediente_created]

  - code: relationship_follow_up
    name: Relationship follow-up
    required_role: agent
    default_due_days: 30
    stages: [expediente_created]

  - code: reactivate_opportunity
    name: Reactivate opportunity
    required_role: agent
    default_due_days: 7
    active: false

  - code: general_follow_up
    name: General follow-up
    required_role: agent
    default_due_days: 3
`
