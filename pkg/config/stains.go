package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/lucasb-eyer/go-colorful"

	"histoquant/internal/models"
)

// ProtocolKind selects the classifier variant of a stain protocol
type ProtocolKind string

const (
	// ProtocolColor classifies pixels by nearest exemplar colour (histology stains)
	ProtocolColor ProtocolKind = "color"

	// ProtocolIntensity classifies pixels into calibrated intensity bands (IHC/fluorescence)
	ProtocolIntensity ProtocolKind = "intensity"
)

// CategoryConfig is a named category and its exemplar colours. Colours are
// written as hex ("#5d3369") or as comma separated 8-bit triples ("93,51,105").
type CategoryConfig struct {
	Name   string   `yaml:"name"`
	Colors []string `yaml:"colors"`
}

// StainProtocol describes how images of one stain are analysed
type StainProtocol struct {
	Name string       `yaml:"name"`
	Kind ProtocolKind `yaml:"kind"`

	// Categories is used by colour protocols
	Categories []CategoryConfig `yaml:"categories,omitempty"`

	// Detector overrides the default detection parameters for this stain
	Detector *DetectorConfig `yaml:"detector,omitempty"`

	// Bands overrides the default band fractions for this stain
	Bands *BandConfig `yaml:"bands,omitempty"`
}

// Validate checks the protocol definition
func (p *StainProtocol) Validate() error {
	switch p.Kind {
	case ProtocolColor:
		if len(p.Categories) == 0 {
			return fmt.Errorf("colour protocol needs at least one category")
		}
		if _, err := p.ReferenceColors(); err != nil {
			return err
		}
	case ProtocolIntensity:
		if p.Bands != nil {
			if err := p.Bands.Validate(); err != nil {
				return fmt.Errorf("bands: %w", err)
			}
		}
	default:
		return fmt.Errorf("unknown protocol kind %q", p.Kind)
	}
	if p.Detector != nil {
		if err := p.Detector.Validate(); err != nil {
			return fmt.Errorf("detector: %w", err)
		}
	}
	return nil
}

// ReferenceColors parses the exemplar colours into a reference colour group
func (p *StainProtocol) ReferenceColors() (models.ReferenceColorGroup, error) {
	group := make(models.ReferenceColorGroup, 0, len(p.Categories))
	seen := make(map[string]bool)
	for _, cat := range p.Categories {
		if cat.Name == "" {
			return nil, fmt.Errorf("category name is required")
		}
		if seen[cat.Name] {
			return nil, fmt.Errorf("duplicate category %q", cat.Name)
		}
		seen[cat.Name] = true
		if len(cat.Colors) == 0 {
			return nil, fmt.Errorf("category %q has no exemplar colours", cat.Name)
		}
		exemplars := models.CategoryExemplars{Name: cat.Name}
		for _, s := range cat.Colors {
			c, err := ParseColor(s)
			if err != nil {
				return nil, fmt.Errorf("category %q: %w", cat.Name, err)
			}
			r, g, b := c.RGB255()
			exemplars.Colors = append(exemplars.Colors, models.ReferenceColor{R: float64(r), G: float64(g), B: float64(b)})
		}
		group = append(group, exemplars)
	}
	return group, nil
}

// ParseColor parses a hex colour or an "r,g,b" triple of 8-bit values
func ParseColor(s string) (colorful.Color, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "#") {
		c, err := colorful.Hex(s)
		if err != nil {
			return colorful.Color{}, fmt.Errorf("invalid colour %q: %w", s, err)
		}
		return c, nil
	}
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return colorful.Color{}, fmt.Errorf("invalid colour %q: want #rrggbb or r,g,b", s)
	}
	var v [3]float64
	for i, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 0 || n > 255 {
			return colorful.Color{}, fmt.Errorf("invalid colour %q: channel %q out of range", s, part)
		}
		v[i] = float64(n) / 255.0
	}
	return colorful.Color{R: v[0], G: v[1], B: v[2]}, nil
}

// Protocol returns the protocol configured for a stain. Unknown stains
// yield an error wrapping models.ErrUnrecognizedStain.
func (c *Config) Protocol(stain string) (*StainProtocol, error) {
	key := normalizeStainName(stain)
	for i := range c.Stains {
		if normalizeStainName(c.Stains[i].Name) == key {
			return &c.Stains[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %q", models.ErrUnrecognizedStain, stain)
}

// DetectorFor returns the detection parameters of a protocol
func (c *Config) DetectorFor(p *StainProtocol) DetectorConfig {
	if p != nil && p.Detector != nil {
		return *p.Detector
	}
	return c.Detector
}

// BandsFor returns the band fractions of a protocol
func (c *Config) BandsFor(p *StainProtocol) BandConfig {
	if p != nil && p.Bands != nil {
		return *p.Bands
	}
	return c.Bands
}

func normalizeStainName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func triples(values ...[3]int) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = fmt.Sprintf("%d,%d,%d", v[0], v[1], v[2])
	}
	return out
}

// DefaultStains returns the built-in stain protocols: exemplar colour groups
// for H&E, Masson's trichrome and Movat pentachrome, and intensity protocols
// for IHC and fluorescence images.
func DefaultStains() []StainProtocol {
	fluorescenceDetector := &DetectorConfig{
		BackgroundThreshold: 220,
		BlurSize:            45,
		LargeKernelSize:     35,
		SmoothKernelSize:    7,
	}
	return []StainProtocol{
		{
			Name: "HE",
			Kind: ProtocolColor,
			Categories: []CategoryConfig{
				{Name: "Nuclei", Colors: triples([3]int{93, 51, 105}, [3]int{132, 80, 136}, [3]int{79, 51, 98})},
				{Name: "Cytoplasm/Fibrosis/Muscle", Colors: triples([3]int{163, 107, 158}, [3]int{143, 103, 143}, [3]int{157, 132, 155})},
				{Name: "Other", Colors: triples([3]int{239, 221, 236}, [3]int{240, 224, 237}, [3]int{226, 169, 213})},
			},
		},
		{
			Name: "Trichrome",
			Kind: ProtocolColor,
			Categories: []CategoryConfig{
				{Name: "Nuclei/Cytoplasm/Muscle", Colors: triples(
					[3]int{114, 52, 66}, [3]int{175, 141, 154}, [3]int{122, 59, 73},
					[3]int{151, 56, 63}, [3]int{178, 94, 107}, [3]int{196, 131, 145},
					[3]int{123, 47, 60}, [3]int{141, 42, 46}, [3]int{169, 73, 84},
				)},
				{Name: "Fibrosis", Colors: triples([3]int{175, 141, 154}, [3]int{204, 189, 197}, [3]int{156, 137, 149})},
				{Name: "Other", Colors: triples([3]int{233, 217, 224}, [3]int{215, 175, 187}, [3]int{211, 188, 197})},
			},
		},
		{
			Name: "Movat",
			Kind: ProtocolColor,
			Categories: []CategoryConfig{
				{Name: "Nuclei/Elastin", Colors: triples([3]int{40, 20, 31}, [3]int{53, 33, 57})},
				{Name: "Muscle/Cytoplasm/Fibrosis", Colors: triples([3]int{79, 61, 83}, [3]int{190, 165, 180}, [3]int{121, 104, 128})},
				{Name: "Other", Colors: triples([3]int{216, 209, 220}, [3]int{214, 198, 211})},
			},
		},
		{Name: "IHC", Kind: ProtocolIntensity, Detector: fluorescenceDetector},
		{Name: "IF", Kind: ProtocolIntensity, Detector: fluorescenceDetector},
	}
}
