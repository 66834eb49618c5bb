package extract

import (
	"regexp"

	"github.com/loykin/ptyvisor/internal/domain"
)

// RuleSet is the ordered pattern list for one domain. Within a category the
// first matching pattern wins.
type RuleSet struct {
	Ready []*regexp.Regexp
	// Count patterns capture the current count and, optionally, the maximum.
	Count  []*regexp.Regexp
	Join   []*regexp.Regexp
	Leave  []*regexp.Regexp
	Errors []*regexp.Regexp
}

func (r *RuleSet) empty() bool {
	return r == nil || len(r.Ready)+len(r.Count)+len(r.Join)+len(r.Leave)+len(r.Errors) == 0
}

var minecraftRules = &RuleSet{
	Ready: []*regexp.Regexp{
		regexp.MustCompile(`Done \([0-9.,]+m?s\)! For help, type "help"`),
	},
	Count: []*regexp.Regexp{
		regexp.MustCompile(`There are (\d+) of a max(?: of)? (\d+) players online`),
		regexp.MustCompile(`There are (\d+)/(\d+) players online`),
	},
	Join: []*regexp.Regexp{
		regexp.MustCompile(`\b\S+ joined the game`),
	},
	Leave: []*regexp.Regexp{
		regexp.MustCompile(`\b\S+ left the game`),
	},
}

var fivemRules = &RuleSet{
	Ready: []*regexp.Regexp{
		regexp.MustCompile(`(?i)Server license key authentication succeeded`),
		regexp.MustCompile(`(?i)Authenticated with cfx\.re Nucleus`),
	},
	Join: []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bConnecting: \S+`),
		regexp.MustCompile(`(?i)\bplayer \S+ connected\b`),
	},
	Leave: []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bDropp(?:ed|ing) (?:player|client)\b`),
		regexp.MustCompile(`(?i)\bplayer \S+ disconnected\b`),
	},
	Errors: []*regexp.Regexp{
		regexp.MustCompile(`SCRIPT ERROR`),
		regexp.MustCompile(`stack traceback`),
		regexp.MustCompile(`attempt to index a nil value`),
		regexp.MustCompile(`attempt to call a nil value`),
		regexp.MustCompile(`attempt to perform arithmetic on`),
		regexp.MustCompile(`attempt to compare`),
		regexp.MustCompile(`attempt to concatenate`),
		regexp.MustCompile(`(?i)Error (?:loading|parsing) script`),
		regexp.MustCompile(`(?i)Failed to load script`),
		regexp.MustCompile(`(?i)Couldn't start resource`),
		regexp.MustCompile(`(?i)Could not find dependency`),
	},
}

var ruleTable = map[domain.Domain]*RuleSet{
	domain.Minecraft: minecraftRules,
	domain.FiveM:     fivemRules,
}

// RulesFor returns the rule set for d, or nil when the domain extracts nothing.
func RulesFor(d domain.Domain) *RuleSet {
	return ruleTable[d]
}

func firstMatch(res []*regexp.Regexp, line string) []string {
	for _, re := range res {
		if m := re.FindStringSubmatch(line); m != nil {
			return m
		}
	}
	return nil
}
