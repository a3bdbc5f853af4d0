// internal/services/breakdown_parser.go
package services

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/plotloom/plotloom/internal/models"
)

// WeekBreakdown is the parsed narrative for one week.
type WeekBreakdown struct {
	Theme   string `json:"theme"`
	Subplot string `json:"subplot"`
}

// Breakdown is the structured form of one free-text narrative
// response: the monthly plot plus up to four weekly segments.
type Breakdown struct {
	MonthlyPlot string                `json:"monthly_plot"`
	Weeks       map[int]WeekBreakdown `json:"weeks"`
}

// ParseStrategy is one way of recognizing week segments in raw
// narrative text. Parse reports ok=false when the text carries none of
// the strategy's markers.
type ParseStrategy interface {
	Name() string
	Parse(text string) (*Breakdown, bool)
}

// BreakdownParser probes its strategies in a fixed order and falls
// back to treating the whole text as the monthly plot. It never fails:
// unparseable text is left for manual completion, not rejected.
type BreakdownParser struct {
	strategies []ParseStrategy
}

// NewBreakdownParser creates the parser with the standard strategy
// order: a structured JSON response first, then inline bold markers,
// then paragraph labels.
func NewBreakdownParser() *BreakdownParser {
	return &BreakdownParser{
		strategies: []ParseStrategy{
			&StructuredStrategy{},
			&InlineMarkerStrategy{},
			&ParagraphMarkerStrategy{},
		},
	}
}

// Parse converts one narrative response into a Breakdown.
func (p *BreakdownParser) Parse(text string) *Breakdown {
	for _, strategy := range p.strategies {
		if breakdown, ok := strategy.Parse(text); ok {
			return breakdown
		}
	}

	return &Breakdown{
		MonthlyPlot: strings.TrimSpace(text),
		Weeks:       map[int]WeekBreakdown{},
	}
}

// ---------------------------------------------------------------
// StructuredStrategy
// ---------------------------------------------------------------

// StructuredStrategy recognizes a provider response that already
// carries the segmentation as JSON, the preferred format: an object
// with a "weeks" map keyed "1".."4" (or "week 1".."week 4") whose
// values are either plain subplot strings or {theme, subplot} objects.
// Such a response needs no marker parsing at all.
type StructuredStrategy struct{}

func (s *StructuredStrategy) Name() string { return "structured_json" }

func (s *StructuredStrategy) Parse(text string) (*Breakdown, bool) {
	raw := extractJSONObject(text)
	if raw == "" {
		return nil, false
	}

	var parsed struct {
		MonthlyPlot string                     `json:"monthly_plot"`
		Weeks       map[string]json.RawMessage `json:"weeks"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil || len(parsed.Weeks) == 0 {
		return nil, false
	}

	breakdown := &Breakdown{
		MonthlyPlot: strings.TrimSpace(parsed.MonthlyPlot),
		Weeks:       make(map[int]WeekBreakdown, len(parsed.Weeks)),
	}

	for key, value := range parsed.Weeks {
		num := strings.TrimSpace(strings.TrimPrefix(strings.ToLower(strings.TrimSpace(key)), "week"))
		week, err := strconv.Atoi(num)
		if err != nil || week < 1 || week > models.WeeksPerSeason {
			continue
		}

		var subplot string
		if err := json.Unmarshal(value, &subplot); err == nil {
			if subplot = strings.TrimSpace(subplot); subplot != "" {
				breakdown.Weeks[week] = WeekBreakdown{Subplot: subplot}
			}
			continue
		}

		var wk WeekBreakdown
		if err := json.Unmarshal(value, &wk); err == nil {
			wk.Theme = strings.TrimSpace(wk.Theme)
			wk.Subplot = strings.TrimSpace(wk.Subplot)
			if wk.Theme != "" || wk.Subplot != "" {
				breakdown.Weeks[week] = wk
			}
		}
	}

	if len(breakdown.Weeks) == 0 {
		return nil, false
	}
	return breakdown, true
}

// ---------------------------------------------------------------
// InlineMarkerStrategy
// ---------------------------------------------------------------

// inlineMarkerRe matches markers of the form
// **WEEK 2 - MOMENTUM (Rising Action):**
var inlineMarkerRe = regexp.MustCompile(`(?i)\*\*\s*WEEK\s+(\d)\s*-\s*([^(*]+?)\s*\(([^)]*)\)\s*:?\s*\*\*`)

// sparksSectionRe marks the start of trailing "Visual Sparks" /
// "Content Sparks" sections appended after the plot summary.
var sparksSectionRe = regexp.MustCompile(`(?i)(\*\*)?\s*(visual|content)\s+sparks`)

// InlineMarkerStrategy splits text on bold WEEK markers. The segment
// before the first marker is the monthly plot.
type InlineMarkerStrategy struct{}

func (s *InlineMarkerStrategy) Name() string { return "inline_marker" }

func (s *InlineMarkerStrategy) Parse(text string) (*Breakdown, bool) {
	matches := inlineMarkerRe.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return nil, false
	}

	breakdown := &Breakdown{
		Weeks: make(map[int]WeekBreakdown, len(matches)),
	}

	breakdown.MonthlyPlot = trimSparks(strings.TrimSpace(text[:matches[0][0]]))

	for i, match := range matches {
		week, err := strconv.Atoi(text[match[2]:match[3]])
		if err != nil || week < 1 || week > models.WeeksPerSeason {
			continue
		}

		theme := strings.TrimSpace(text[match[4]:match[5]])

		end := len(text)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		subplot := trimSparks(strings.TrimSpace(text[match[1]:end]))

		if _, exists := breakdown.Weeks[week]; !exists {
			breakdown.Weeks[week] = WeekBreakdown{Theme: theme, Subplot: subplot}
		}
	}

	if len(breakdown.Weeks) == 0 {
		return nil, false
	}
	return breakdown, true
}

// trimSparks cuts trailing Visual/Content Sparks sections.
func trimSparks(text string) string {
	if loc := sparksSectionRe.FindStringIndex(text); loc != nil {
		return strings.TrimSpace(text[:loc[0]])
	}
	return text
}

// ---------------------------------------------------------------
// ParagraphMarkerStrategy
// ---------------------------------------------------------------

var (
	paragraphSplitRe = regexp.MustCompile(`\n\s*\n`)

	// LABEL (Week 2): content
	labeledWeekRe = regexp.MustCompile(`(?is)^(.+?)\s*\(\s*week\s+(\d)\s*\)\s*:\s*(.*)$`)

	// any bare "Week 2" mention
	weekMentionRe = regexp.MustCompile(`(?i)\bweek\s+(\d)\b`)
)

// ParagraphMarkerStrategy reads blank-line-delimited paragraphs,
// assigning week-labeled paragraphs to weeks and the first unlabeled
// paragraph to the monthly plot.
type ParagraphMarkerStrategy struct{}

func (s *ParagraphMarkerStrategy) Name() string { return "paragraph_marker" }

func (s *ParagraphMarkerStrategy) Parse(text string) (*Breakdown, bool) {
	paragraphs := paragraphSplitRe.Split(text, -1)

	breakdown := &Breakdown{
		Weeks: make(map[int]WeekBreakdown),
	}

	for _, paragraph := range paragraphs {
		paragraph = strings.TrimSpace(paragraph)
		if paragraph == "" {
			continue
		}

		if m := labeledWeekRe.FindStringSubmatch(paragraph); m != nil {
			week, err := strconv.Atoi(m[2])
			if err == nil && week >= 1 && week <= models.WeeksPerSeason {
				if _, exists := breakdown.Weeks[week]; !exists {
					breakdown.Weeks[week] = WeekBreakdown{
						Theme:   strings.TrimSpace(m[1]),
						Subplot: strings.TrimSpace(m[3]),
					}
				}
				continue
			}
		}

		if m := weekMentionRe.FindStringSubmatch(paragraph); m != nil {
			week, err := strconv.Atoi(m[1])
			if err == nil && week >= 1 && week <= models.WeeksPerSeason {
				if _, exists := breakdown.Weeks[week]; !exists {
					breakdown.Weeks[week] = WeekBreakdown{Subplot: paragraph}
				}
				continue
			}
		}

		if breakdown.MonthlyPlot == "" {
			breakdown.MonthlyPlot = paragraph
		}
	}

	if len(breakdown.Weeks) == 0 {
		return nil, false
	}
	return breakdown, true
}
