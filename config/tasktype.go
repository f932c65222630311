package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults für optionale Task-Type-Felder.
const (
	DefaultMaximumLinksToShowPerTask        = 3
	DefaultExcludedTargetRejectionThreshold = 2
	DefaultMinimumTimeSinceLastEdit         = 24 * time.Hour
)

// ConfigError signalisiert eine fehlerhafte Task-Type-Konfiguration. Solche Fehler sind fatal
// und werden nie mit Defaults überdeckt.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "task type configuration: " + e.Reason
	}
	return fmt.Sprintf("task type configuration: %s: %s", e.Field, e.Reason)
}

// LinkTaskType bündelt die Schwellenwerte des "add a link"-Task-Typs.
type LinkTaskType struct {
	// Minimaler Score, den ein Link haben muss, um gespeichert zu werden.
	MinimumLinkScore float64
	// Minimale Anzahl guter Links, damit eine Empfehlung gespeichert wird.
	MinimumLinksPerTask int
	// Maximal angezeigte Links pro Aufgabe.
	MaximumLinksToShowPerTask int
	// Wortanzahl-Grenzen des Artikels (inklusive).
	MinimumWordCount int
	MaximumWordCount int
	// Ab so vielen Ablehnungen wird ein Ziel für eine Seite nicht mehr vorgeschlagen.
	ExcludedTargetRejectionThreshold int
	MinimumTimeSinceLastEdit         time.Duration
	// Links auf nicht existierende Seiten entfernen.
	PruneRedLinks    bool
	ExcludedSections []string
}

type taskTypeFile struct {
	MinimumLinkScore                 *float64 `yaml:"minimum_link_score"`
	MinimumLinksPerTask              *int     `yaml:"minimum_links_per_task"`
	MaximumLinksToShowPerTask        *int     `yaml:"maximum_links_to_show_per_task"`
	MinimumWordCount                 *int     `yaml:"minimum_word_count"`
	MaximumWordCount                 *int     `yaml:"maximum_word_count"`
	ExcludedTargetRejectionThreshold *int     `yaml:"excluded_target_rejection_threshold"`
	MinimumTimeSinceLastEdit         string   `yaml:"minimum_time_since_last_edit"`
	PruneRedLinks                    *bool    `yaml:"prune_red_links"`
	ExcludedSections                 []string `yaml:"excluded_sections"`
}

// LoadTaskType liest und validiert die Task-Type-Konfiguration aus einer YAML-Datei.
func LoadTaskType(path string) (*LinkTaskType, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Reason: fmt.Sprintf("cannot read %s: %v", path, err)}
	}
	return ParseTaskType(data)
}

// ParseTaskType wandelt YAML in eine validierte LinkTaskType um.
func ParseTaskType(data []byte) (*LinkTaskType, error) {
	var raw taskTypeFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ConfigError{Reason: fmt.Sprintf("invalid yaml: %v", err)}
	}

	var missing []string
	if raw.MinimumLinkScore == nil {
		missing = append(missing, "minimum_link_score")
	}
	if raw.MinimumLinksPerTask == nil {
		missing = append(missing, "minimum_links_per_task")
	}
	if raw.MinimumWordCount == nil {
		missing = append(missing, "minimum_word_count")
	}
	if raw.MaximumWordCount == nil {
		missing = append(missing, "maximum_word_count")
	}
	if len(missing) > 0 {
		return nil, &ConfigError{Field: strings.Join(missing, ", "), Reason: "required"}
	}

	tt := &LinkTaskType{
		MinimumLinkScore:                 *raw.MinimumLinkScore,
		MinimumLinksPerTask:              *raw.MinimumLinksPerTask,
		MaximumLinksToShowPerTask:        DefaultMaximumLinksToShowPerTask,
		MinimumWordCount:                 *raw.MinimumWordCount,
		MaximumWordCount:                 *raw.MaximumWordCount,
		ExcludedTargetRejectionThreshold: DefaultExcludedTargetRejectionThreshold,
		MinimumTimeSinceLastEdit:         DefaultMinimumTimeSinceLastEdit,
		PruneRedLinks:                    true,
		ExcludedSections:                 raw.ExcludedSections,
	}
	if raw.MaximumLinksToShowPerTask != nil {
		tt.MaximumLinksToShowPerTask = *raw.MaximumLinksToShowPerTask
	}
	if raw.ExcludedTargetRejectionThreshold != nil {
		tt.ExcludedTargetRejectionThreshold = *raw.ExcludedTargetRejectionThreshold
	}
	if raw.MinimumTimeSinceLastEdit != "" {
		d, err := time.ParseDuration(raw.MinimumTimeSinceLastEdit)
		if err != nil {
			return nil, &ConfigError{Field: "minimum_time_since_last_edit", Reason: err.Error()}
		}
		tt.MinimumTimeSinceLastEdit = d
	}
	if raw.PruneRedLinks != nil {
		tt.PruneRedLinks = *raw.PruneRedLinks
	}

	if err := tt.Validate(); err != nil {
		return nil, err
	}
	return tt, nil
}

// Validate prüft die Wertebereiche. Gibt einen *ConfigError zurück.
func (t *LinkTaskType) Validate() error {
	switch {
	case t.MinimumLinkScore < 0 || t.MinimumLinkScore > 1:
		return &ConfigError{Field: "minimum_link_score", Reason: "must be within [0, 1]"}
	case t.MinimumLinksPerTask < 1:
		return &ConfigError{Field: "minimum_links_per_task", Reason: "must be at least 1"}
	case t.MaximumLinksToShowPerTask < 1:
		return &ConfigError{Field: "maximum_links_to_show_per_task", Reason: "must be at least 1"}
	case t.MinimumWordCount < 0:
		return &ConfigError{Field: "minimum_word_count", Reason: "must not be negative"}
	case t.MaximumWordCount < t.MinimumWordCount:
		return &ConfigError{Field: "maximum_word_count", Reason: "must not be below minimum_word_count"}
	case t.ExcludedTargetRejectionThreshold < 1:
		return &ConfigError{Field: "excluded_target_rejection_threshold", Reason: "must be at least 1"}
	case t.MinimumTimeSinceLastEdit < 0:
		return &ConfigError{Field: "minimum_time_since_last_edit", Reason: "must not be negative"}
	}
	return nil
}
