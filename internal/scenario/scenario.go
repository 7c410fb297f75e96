// Package scenario reads analysis definitions from YAML files.
package scenario

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dvloznov/proforma/internal/analysis"
	"github.com/dvloznov/proforma/internal/ledger"
	"github.com/dvloznov/proforma/internal/query"
	"github.com/dvloznov/proforma/internal/timeline"
)

// ErrInvalidScenario is wrapped by every scenario validation failure.
var ErrInvalidScenario = errors.New("invalid scenario")

// Producer kinds.
const (
	KindStatic    = "static"
	KindGrowth    = "growth"
	KindPercentOf = "percent_of"
)

// Scenario is the YAML document describing one analysis.
type Scenario struct {
	Name      string         `yaml:"name"`
	AssetID   string         `yaml:"asset_id"`
	DealID    string         `yaml:"deal_id"`
	Timeline  TimelineSpec   `yaml:"timeline"`
	Producers []ProducerSpec `yaml:"producers"`
}

type TimelineSpec struct {
	Start  string `yaml:"start"` // YYYY-MM
	Months int    `yaml:"months"`
}

// ProducerSpec configures one built-in producer. Which amount fields apply
// depends on Kind.
type ProducerSpec struct {
	Name        string `yaml:"name"`
	Kind        string `yaml:"kind"`
	Pass        int    `yaml:"pass"`
	Category    string `yaml:"category"`
	Subcategory string `yaml:"subcategory"`
	ItemName    string `yaml:"item_name"`
	FlowPurpose string `yaml:"flow_purpose,omitempty"`
	EntityID    string `yaml:"entity_id,omitempty"`
	EntityType  string `yaml:"entity_type,omitempty"`

	// static
	Amounts []float64 `yaml:"amounts,omitempty"`

	// growth
	Monthly      float64 `yaml:"monthly,omitempty"`
	AnnualGrowth float64 `yaml:"annual_growth,omitempty"`
	Months       int     `yaml:"months,omitempty"`

	// static and growth
	StartOffset int `yaml:"start_offset,omitempty"`

	// percent_of
	Metric  string  `yaml:"metric,omitempty"`
	Percent float64 `yaml:"percent,omitempty"`
}

// Load reads and validates the scenario file at path.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("Load: %w", err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("Load %s: %w", path, err)
	}
	return s, nil
}

// Parse decodes and validates a scenario document. Unknown keys are rejected.
func Parse(data []byte) (*Scenario, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var s Scenario
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidScenario, err)
	}
	if _, err := s.Analysis(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Analysis converts the scenario into a runnable analysis. Every problem is
// reported, not only the first.
func (s *Scenario) Analysis() (analysis.Analysis, error) {
	var errs []error

	start, err := timeline.ParseMonth(s.Timeline.Start)
	if err != nil {
		errs = append(errs, fmt.Errorf("timeline.start: %w", err))
	}
	tl, err := timeline.NewTimeline(start, s.Timeline.Months)
	if err != nil && !start.IsZero() {
		errs = append(errs, fmt.Errorf("timeline: %w", err))
	}

	if len(s.Producers) == 0 {
		errs = append(errs, errors.New("producers: at least one is required"))
	}
	producers := make([]analysis.Producer, 0, len(s.Producers))
	names := make(map[string]bool, len(s.Producers))
	for i, ps := range s.Producers {
		label := fmt.Sprintf("producers[%d]", i)
		if ps.Name != "" {
			label = fmt.Sprintf("producers[%d] (%s)", i, ps.Name)
		}
		if names[ps.Name] {
			errs = append(errs, fmt.Errorf("%s: duplicate name", label))
		}
		names[ps.Name] = true
		p, err := ps.producer()
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", label, err))
			continue
		}
		producers = append(producers, p)
	}

	if err := errors.Join(errs...); err != nil {
		return analysis.Analysis{}, fmt.Errorf("%w: %w", ErrInvalidScenario, err)
	}
	return analysis.Analysis{
		Name:      s.Name,
		AssetID:   s.AssetID,
		DealID:    s.DealID,
		Timeline:  tl,
		Producers: producers,
	}, nil
}

func (ps ProducerSpec) classification() (analysis.Classification, error) {
	var c analysis.Classification
	cat, err := ledger.ParseCategory(ps.Category)
	if err != nil {
		return c, err
	}
	sub, err := ledger.ParseSubcategoryFor(cat, ps.Subcategory)
	if err != nil {
		return c, err
	}
	c = analysis.Classification{Category: cat, Subcategory: sub, ItemName: strings.TrimSpace(ps.ItemName), EntityID: ps.EntityID}
	if c.ItemName == "" {
		return c, errors.New("item_name is required")
	}
	if ps.FlowPurpose != "" {
		if c.FlowPurpose, err = ledger.ParseFlowPurpose(ps.FlowPurpose); err != nil {
			return c, err
		}
	}
	if ps.EntityType != "" {
		if c.EntityType, err = ledger.ParseEntityType(ps.EntityType); err != nil {
			return c, err
		}
	}
	return c, nil
}

func (ps ProducerSpec) producer() (analysis.Producer, error) {
	if strings.TrimSpace(ps.Name) == "" {
		return nil, errors.New("name is required")
	}
	if ps.Pass < ledger.MinPass || ps.Pass > ledger.MaxPass {
		return nil, fmt.Errorf("pass %d outside %d..%d", ps.Pass, ledger.MinPass, ledger.MaxPass)
	}
	class, err := ps.classification()
	if err != nil {
		return nil, err
	}
	switch ps.Kind {
	case KindStatic:
		if len(ps.Amounts) == 0 {
			return nil, errors.New("static producer needs amounts")
		}
		return &analysis.StaticSeries{ID: ps.Name, PassNum: ps.Pass, Class: class, StartOffset: ps.StartOffset, Amounts: ps.Amounts}, nil
	case KindGrowth:
		if ps.Monthly == 0 {
			return nil, errors.New("growth producer needs a monthly amount")
		}
		return &analysis.GrowthSeries{
			ID: ps.Name, PassNum: ps.Pass, Class: class,
			Monthly: ps.Monthly, AnnualGrowth: ps.AnnualGrowth, StartOffset: ps.StartOffset, Months: ps.Months,
		}, nil
	case KindPercentOf:
		if ps.Pass == ledger.MinPass {
			return nil, errors.New("percent_of producers read earlier passes and need pass 2 or higher")
		}
		if _, err := query.LookupMetric(ps.Metric); err != nil {
			return nil, err
		}
		return &analysis.PercentOfMetric{ID: ps.Name, PassNum: ps.Pass, Class: class, Metric: ps.Metric, Percent: ps.Percent}, nil
	}
	return nil, fmt.Errorf("unknown kind %q", ps.Kind)
}
