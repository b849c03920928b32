// Package detection implements the per-column PII detection pipeline:
// an ordered list of strategies (heuristic, regex, NER) run by the engine,
// backed by a process-wide result cache and a pattern library.
package detection

import (
	"fmt"
	"os"
	"regexp"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/seclens/seclens-engine/pkg/models"
)

// HeuristicRule maps a column-name keyword to a PII type and base score.
type HeuristicRule struct {
	Keyword   string         `yaml:"keyword"`
	PiiType   models.PiiType `yaml:"pii_type"`
	BaseScore float64        `yaml:"base_score"`
}

// PatternRule is the on-disk form of one value regex.
type PatternRule struct {
	Name      string         `yaml:"name"`
	PiiType   models.PiiType `yaml:"pii_type"`
	BaseScore float64        `yaml:"base_score"`
	Regex     string         `yaml:"regex"`
}

// CompiledPattern is a PatternRule with its regex compiled.
type CompiledPattern struct {
	Name      string
	PiiType   models.PiiType
	BaseScore float64
	Pattern   *regexp.Regexp
}

// Library holds the heuristic keyword table and the compiled value patterns
// the strategies run against. Loaded once at startup.
type Library struct {
	Heuristics []HeuristicRule
	Patterns   []CompiledPattern
}

type libraryFile struct {
	Heuristics []HeuristicRule `yaml:"heuristics"`
	Patterns   []PatternRule   `yaml:"patterns"`
}

// LoadLibrary reads the pattern library from a YAML file. An empty path
// selects the built-in library. A file that exists but fails to parse,
// names an empty keyword, carries an out-of-range score or an invalid
// regex is a startup error, not a fallback.
func LoadLibrary(path string, logger *zap.Logger) (*Library, error) {
	if path == "" {
		logger.Info("using built-in pattern library")
		return BuiltinLibrary(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pattern library %s: %w", path, err)
	}

	var file libraryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse pattern library %s: %w", path, err)
	}

	lib, err := buildLibrary(file)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern library %s: %w", path, err)
	}

	logger.Info("loaded pattern library",
		zap.String("path", path),
		zap.Int("heuristics", len(lib.Heuristics)),
		zap.Int("patterns", len(lib.Patterns)),
	)
	return lib, nil
}

func buildLibrary(file libraryFile) (*Library, error) {
	lib := &Library{}

	for i, rule := range file.Heuristics {
		if rule.Keyword == "" {
			return nil, fmt.Errorf("heuristic %d: keyword is required", i)
		}
		if rule.PiiType == "" {
			return nil, fmt.Errorf("heuristic %q: pii_type is required", rule.Keyword)
		}
		if rule.BaseScore <= 0 || rule.BaseScore > 1 {
			return nil, fmt.Errorf("heuristic %q: base_score %.2f outside (0,1]", rule.Keyword, rule.BaseScore)
		}
		lib.Heuristics = append(lib.Heuristics, rule)
	}

	for i, rule := range file.Patterns {
		if rule.Name == "" {
			return nil, fmt.Errorf("pattern %d: name is required", i)
		}
		if rule.PiiType == "" {
			return nil, fmt.Errorf("pattern %q: pii_type is required", rule.Name)
		}
		if rule.BaseScore <= 0 || rule.BaseScore > 1 {
			return nil, fmt.Errorf("pattern %q: base_score %.2f outside (0,1]", rule.Name, rule.BaseScore)
		}
		re, err := regexp.Compile(rule.Regex)
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", rule.Name, err)
		}
		lib.Patterns = append(lib.Patterns, CompiledPattern{
			Name:      rule.Name,
			PiiType:   rule.PiiType,
			BaseScore: rule.BaseScore,
			Pattern:   re,
		})
	}

	return lib, nil
}

// BuiltinLibrary returns the compiled-in pattern library used when no
// patterns.yaml is configured. The keyword scores follow the convention
// that an exact column-name match earns the full base score.
func BuiltinLibrary() *Library {
	return &Library{
		Heuristics: []HeuristicRule{
			{Keyword: "email", PiiType: models.PiiTypeEmail, BaseScore: 0.8},
			{Keyword: "e_mail", PiiType: models.PiiTypeEmail, BaseScore: 0.8},
			{Keyword: "ssn", PiiType: models.PiiTypeSSN, BaseScore: 0.95},
			{Keyword: "social_security", PiiType: models.PiiTypeSSN, BaseScore: 0.95},
			{Keyword: "first_name", PiiType: models.PiiTypePersonName, BaseScore: 0.85},
			{Keyword: "last_name", PiiType: models.PiiTypePersonName, BaseScore: 0.85},
			{Keyword: "full_name", PiiType: models.PiiTypePersonName, BaseScore: 0.85},
			{Keyword: "surname", PiiType: models.PiiTypePersonName, BaseScore: 0.85},
			{Keyword: "name", PiiType: models.PiiTypePersonName, BaseScore: 0.6},
			{Keyword: "phone", PiiType: models.PiiTypePhoneNumber, BaseScore: 0.85},
			{Keyword: "mobile", PiiType: models.PiiTypePhoneNumber, BaseScore: 0.8},
			{Keyword: "fax", PiiType: models.PiiTypePhoneNumber, BaseScore: 0.7},
			{Keyword: "birth_date", PiiType: models.PiiTypeDateOfBirth, BaseScore: 0.9},
			{Keyword: "birthdate", PiiType: models.PiiTypeDateOfBirth, BaseScore: 0.9},
			{Keyword: "date_of_birth", PiiType: models.PiiTypeDateOfBirth, BaseScore: 0.9},
			{Keyword: "dob", PiiType: models.PiiTypeDateOfBirth, BaseScore: 0.8},
			{Keyword: "address", PiiType: models.PiiTypeAddress, BaseScore: 0.8},
			{Keyword: "street", PiiType: models.PiiTypeAddress, BaseScore: 0.7},
			{Keyword: "city", PiiType: models.PiiTypeLocation, BaseScore: 0.6},
			{Keyword: "zip_code", PiiType: models.PiiTypeLocation, BaseScore: 0.7},
			{Keyword: "zipcode", PiiType: models.PiiTypeLocation, BaseScore: 0.7},
			{Keyword: "postal_code", PiiType: models.PiiTypeLocation, BaseScore: 0.7},
			{Keyword: "credit_card", PiiType: models.PiiTypeCreditCard, BaseScore: 0.95},
			{Keyword: "card_number", PiiType: models.PiiTypeCreditCard, BaseScore: 0.9},
			{Keyword: "passport", PiiType: models.PiiTypePassportNumber, BaseScore: 0.9},
			{Keyword: "driver_license", PiiType: models.PiiTypeDriverLicense, BaseScore: 0.85},
			{Keyword: "drivers_license", PiiType: models.PiiTypeDriverLicense, BaseScore: 0.85},
			{Keyword: "license_number", PiiType: models.PiiTypeDriverLicense, BaseScore: 0.75},
			{Keyword: "iban", PiiType: models.PiiTypeBankAccount, BaseScore: 0.9},
			{Keyword: "bank_account", PiiType: models.PiiTypeBankAccount, BaseScore: 0.9},
			{Keyword: "account_number", PiiType: models.PiiTypeBankAccount, BaseScore: 0.75},
			{Keyword: "ip_address", PiiType: models.PiiTypeIPAddress, BaseScore: 0.85},
			{Keyword: "username", PiiType: models.PiiTypeUsername, BaseScore: 0.75},
			{Keyword: "login", PiiType: models.PiiTypeUsername, BaseScore: 0.7},
		},
		Patterns: []CompiledPattern{
			{
				Name:      "email",
				PiiType:   models.PiiTypeEmail,
				BaseScore: 0.95,
				Pattern:   regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`),
			},
			{
				Name:      "ssn",
				PiiType:   models.PiiTypeSSN,
				BaseScore: 0.95,
				Pattern:   regexp.MustCompile(`^\d{3}-\d{2}-\d{4}$`),
			},
			{
				Name:      "credit_card",
				PiiType:   models.PiiTypeCreditCard,
				BaseScore: 0.95,
				Pattern:   regexp.MustCompile(`^\d{4}[ \-]?\d{4}[ \-]?\d{4}[ \-]?\d{4}$`),
			},
			{
				Name:      "phone",
				PiiType:   models.PiiTypePhoneNumber,
				BaseScore: 0.8,
				Pattern:   regexp.MustCompile(`^\+?\d[\d\-\s().]{5,17}\d$`),
			},
			{
				Name:      "ipv4",
				PiiType:   models.PiiTypeIPAddress,
				BaseScore: 0.9,
				Pattern:   regexp.MustCompile(`^(?:\d{1,3}\.){3}\d{1,3}$`),
			},
			{
				Name:      "date_of_birth",
				PiiType:   models.PiiTypeDateOfBirth,
				BaseScore: 0.7,
				Pattern:   regexp.MustCompile(`^(?:19|20)\d{2}[\-/](?:0?[1-9]|1[0-2])[\-/](?:0?[1-9]|[12]\d|3[01])$`),
			},
		},
	}
}
