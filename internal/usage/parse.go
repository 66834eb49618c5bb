package usage

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/loykin/ptyvisor/internal/extract"
)

// labelGap bounds how far a percentage may sit from its label. It never
// crosses another percent sign.
const labelGap = `[^%]{0,240}?`

const percentRe = `(\d{1,3}(?:\.\d+)?)\s*%`

type slot func(m *Metrics) **float64

var (
	sessionSlot slot = func(m *Metrics) **float64 { return &m.Session }
	weeklySlot  slot = func(m *Metrics) **float64 { return &m.Weekly }
	tierSlot    slot = func(m *Metrics) **float64 { return &m.Tier }
)

type namedPattern struct {
	slot   slot
	re     *regexp.Regexp
	resets func(m *Metrics, s string)
}

// Ordered: the tier label is checked before the generic weekly label so a
// model-specific week is never taken for the all-models one.
var namedPatterns = []namedPattern{
	{
		re:     regexp.MustCompile(`(?i)current\s+session` + labelGap + percentRe),
		slot:   sessionSlot,
		resets: func(m *Metrics, s string) { m.SessionResetsAt = s },
	},
	{
		re:   regexp.MustCompile(`(?i)current\s+week\s*\((?:opus|sonnet)[^)]*\)` + labelGap + percentRe),
		slot: tierSlot,
	},
	{
		re:     regexp.MustCompile(`(?i)current\s+week(?:\s*\(all\s+models\))?` + labelGap + percentRe),
		slot:   weeklySlot,
		resets: func(m *Metrics, s string) { m.WeeklyResetsAt = s },
	},
}

var (
	bareRe   = regexp.MustCompile(percentRe)
	resetsRe = regexp.MustCompile(`(?i)^[^%]*?\bresets?\s+([^\n]+)`)
)

type span struct{ start, end int }

func (s span) covers(i int) bool { return i >= s.start && i < s.end }

// Parse extracts metrics from raw terminal output. Named labels win; any
// metric still unset takes the next unconsumed bare percentage, in order
// session, weekly, tier. ok is false when nothing was found.
func Parse(raw string) (*Metrics, bool) {
	text := extract.Strip(raw)
	m := &Metrics{Source: SourceAutomation}
	var used []span

	for _, p := range namedPatterns {
		loc := firstFree(p.re, text, used)
		if loc == nil {
			continue
		}
		v, err := strconv.ParseFloat(text[loc[2]:loc[3]], 64)
		if err != nil || v > 100 {
			continue
		}
		dst := p.slot(m)
		if *dst != nil {
			continue
		}
		*dst = pct(v)
		used = append(used, span{loc[2], loc[1]})
		if p.resets != nil {
			if r := resetsRe.FindStringSubmatch(text[loc[1]:]); r != nil {
				p.resets(m, strings.TrimSpace(r[1]))
			}
		}
	}

	free := bareFree(text, used)
	for _, s := range []slot{sessionSlot, weeklySlot, tierSlot} {
		if len(free) == 0 {
			break
		}
		if dst := s(m); *dst == nil {
			*dst = pct(free[0])
			free = free[1:]
		}
	}
	return m, !m.Empty()
}

// firstFree returns the first match whose percentage is not already consumed.
func firstFree(re *regexp.Regexp, text string, used []span) []int {
	for _, loc := range re.FindAllStringSubmatchIndex(text, -1) {
		if !consumed(loc[2], used) {
			return loc
		}
	}
	return nil
}

func bareFree(text string, used []span) []float64 {
	var out []float64
	for _, loc := range bareRe.FindAllStringSubmatchIndex(text, -1) {
		if consumed(loc[2], used) {
			continue
		}
		v, err := strconv.ParseFloat(text[loc[2]:loc[3]], 64)
		if err != nil || v > 100 {
			continue
		}
		out = append(out, v)
	}
	return out
}

func consumed(i int, used []span) bool {
	for _, s := range used {
		if s.covers(i) {
			return true
		}
	}
	return false
}
