package processor

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"idm-connector/internal/config"
	"idm-connector/internal/models"
)

// ErrEventRejected is returned when a script drops an event by returning
// null or undefined.
var ErrEventRejected = errors.New("event rejected by transformer")

// Transformer reshapes change event snapshots with either a JavaScript
// function or YAML rules. A script takes precedence over rules.
type Transformer struct {
	enabled bool
	script  *script
	rules   []*RuleMatcher
	logger  *logrus.Logger
}

// RuleMatcher is a compiled ProcessorRule. Field names compare
// case-insensitively.
type RuleMatcher struct {
	entity    string
	include   map[string]bool
	exclude   map[string]bool
	rename    map[string]string
	addFields map[string]string
}

// NewTransformer validates cfg and loads its script or rules. natsConn may be
// nil, in which case scripts get no nats bindings.
func NewTransformer(cfg *config.ProcessorConfig, logger *logrus.Logger, natsConn *nats.Conn) (*Transformer, error) {
	t := &Transformer{logger: logger}
	if cfg == nil || !cfg.Enabled {
		return t, nil
	}
	if err := ValidateRules(cfg); err != nil {
		return nil, err
	}
	t.enabled = true

	if cfg.Script != "" {
		s, err := loadScript(cfg.Script, natsConn, logger)
		if err != nil {
			return nil, err
		}
		t.script = s
		logger.Infof("Loaded JavaScript transformation script: %s", cfg.Script)
		return t, nil
	}

	for _, rule := range cfg.Rules {
		t.rules = append(t.rules, newRuleMatcher(rule))
	}
	if len(t.rules) > 0 {
		logger.Infof("Loaded %d snapshot rules", len(t.rules))
	}
	return t, nil
}

func newRuleMatcher(rule config.ProcessorRule) *RuleMatcher {
	m := &RuleMatcher{
		entity:    rule.Entity,
		include:   lowerSet(rule.Include),
		exclude:   lowerSet(rule.Exclude),
		rename:    make(map[string]string, len(rule.Rename)),
		addFields: rule.AddFields,
	}
	for from, to := range rule.Rename {
		m.rename[strings.ToLower(from)] = to
	}
	return m
}

func lowerSet(fields []string) map[string]bool {
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		set[strings.ToLower(f)] = true
	}
	return set
}

// Enabled reports whether Transform can change events.
func (t *Transformer) Enabled() bool {
	return t.enabled && (t.script != nil || len(t.rules) > 0)
}

// Transform returns a reshaped copy of event. The input is never modified.
func (t *Transformer) Transform(event *models.ChangeEvent) (*models.ChangeEvent, error) {
	switch {
	case !t.Enabled():
		return event, nil
	case t.script != nil:
		return t.transformWithScript(event)
	}
	return t.transformWithRules(event), nil
}

// transformWithScript keeps the routing fields of event and takes the
// payload from the script result. The full result is kept as RawJSON so
// outputs deliver any extra fields the script added.
func (t *Transformer) transformWithScript(event *models.ChangeEvent) (*models.ChangeEvent, error) {
	t.logger.Debugf("Transforming %s %s with JavaScript", event.Entity, event.Identity)

	out, err := t.script.call(event)
	if errors.Is(err, ErrEventRejected) {
		t.logger.Infof("Event rejected by JavaScript transformer: %s %s", event.Entity, event.Identity)
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	var result map[string]interface{}
	if err := json.Unmarshal(out, &result); err != nil {
		return nil, fmt.Errorf("transform result is not an object: %s", out)
	}

	transformed := *event
	if snapshot, ok := result["snapshot"].(map[string]interface{}); ok {
		transformed.Snapshot = snapshot
	}
	transformed.RawJSON = out
	return &transformed, nil
}

func (t *Transformer) transformWithRules(event *models.ChangeEvent) *models.ChangeEvent {
	i := slices.IndexFunc(t.rules, func(r *RuleMatcher) bool { return r.matches(event.Entity) })
	if i < 0 {
		return event
	}

	transformed := *event
	transformed.Snapshot = t.rules[i].apply(event.Snapshot)
	transformed.RawJSON = nil
	return &transformed
}

// apply builds a new snapshot. Static fields are written first so real
// attributes win on collision.
func (r *RuleMatcher) apply(snapshot map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(snapshot)+len(r.addFields))
	for k, v := range r.addFields {
		out[k] = v
	}
	for key, value := range snapshot {
		lower := strings.ToLower(key)
		if r.exclude[lower] || (len(r.include) > 0 && !r.include[lower]) {
			continue
		}
		if renamed, ok := r.rename[lower]; ok {
			key = renamed
		}
		out[key] = value
	}
	return out
}

// matches reports whether the rule applies to entity. An empty entity
// matches every kind.
func (r *RuleMatcher) matches(entity string) bool {
	return r.entity == "" || strings.EqualFold(r.entity, entity)
}

// ValidateRules checks the processor configuration without loading it.
func ValidateRules(cfg *config.ProcessorConfig) error {
	if cfg == nil || !cfg.Enabled {
		return nil
	}

	if cfg.Script != "" {
		if _, err := os.Stat(cfg.Script); os.IsNotExist(err) {
			return fmt.Errorf("JavaScript script file not found: %s", cfg.Script)
		}
		if len(cfg.Rules) > 0 {
			return fmt.Errorf("cannot specify both 'script' and 'rules' - script takes precedence")
		}
	}

	for i, rule := range cfg.Rules {
		if len(rule.Include) > 0 && len(rule.Exclude) > 0 {
			return fmt.Errorf("processor rule %d: cannot specify both 'include' and 'exclude' fields", i)
		}
		if len(rule.Include) == 0 {
			continue
		}
		// With an include list only included fields can be renamed
		for from := range rule.Rename {
			if !slices.ContainsFunc(rule.Include, func(f string) bool { return strings.EqualFold(f, from) }) {
				return fmt.Errorf("processor rule %d: rename key '%s' not found in include list", i, from)
			}
		}
	}
	return nil
}
