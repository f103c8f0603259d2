// Package intent decides whether a chat message asks for an app to be
// generated or is ordinary conversation about the current project.
//
// Rules run in a fixed order and the first one that decides wins:
//
//  1. messages shorter than MinLength runes are never generation
//  2. conversational, question and edit patterns mean not generation
//  3. generation keyword phrases mean generation
//  4. looser verb and noun patterns, first match wins
//
// A message that matches both a conversational pattern and a generation
// keyword is conversational: "hey, build me a landing page" is answered as
// chat.
package intent

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// MinLength is the shortest message that can carry generation intent.
const MinLength = 8

// Rule names reported by Classify.
const (
	RuleTooShort       = "too_short"
	RuleConversational = "conversational"
	RuleKeyword        = "keyword"
	RulePattern        = "pattern"
	RuleNone           = "none"
)

// Result explains a classification.
type Result struct {
	Generation bool   `json:"generation"`
	Rule       string `json:"rule"`
	// Match is the keyword or pattern that decided, if any.
	Match string `json:"match,omitempty"`
}

var conversational = []*regexp.Regexp{
	regexp.MustCompile(`^(hello|hi|hey|yo|hiya|greetings|thanks|thank you|thx|ok|okay|cool|great|nice|awesome|good (morning|afternoon|evening))\b`),
	regexp.MustCompile(`^(what|how|why|when|where|who|which|is|are|does|do|did|should|explain|tell me|show me)\b`),
	regexp.MustCompile(`^(can|could|would|will) you\b`),
	regexp.MustCompile(`\b(fix|debug|update|change|edit|rename|remove|delete|refactor|tweak)\b.*\b(bug|error|issue|file|function|line|code|typo|style|color|colour|text|button|component)s?\b`),
	regexp.MustCompile(`\?\s*$`),
}

var keywords = []string{
	"build app",
	"build an app",
	"build a website",
	"build a site",
	"create app",
	"create an app",
	"create a website",
	"make an app",
	"make a website",
	"generate an app",
	"generate a website",
	"landing page",
	"dashboard",
	"new project",
	"portfolio site",
	"portfolio website",
	"online store",
	"e-commerce",
	"ecommerce",
	"saas",
	"todo app",
	"mobile app",
	"web app",
	"webapp",
	"start from scratch",
}

var loose = []*regexp.Regexp{
	regexp.MustCompile(`\b(build|create|make|generate|develop|design|scaffold|spin up|set up)\b.{0,40}?\b(app|application|website|site|page|store|platform|portal|tool|game|blog)s?\b`),
	regexp.MustCompile(`\b(i|we) (want|need|would like)\b.{0,40}?\b(app|application|website|site|store|platform)\b`),
	regexp.MustCompile(`\b(app|application|website|site) (for|that|which|to)\b`),
}

// IsGenerationIntent reports whether message should enter the generation
// pipeline.
func IsGenerationIntent(message string) bool {
	return Classify(message).Generation
}

// Classify applies the rules in order and reports which one decided.
func Classify(message string) Result {
	m := strings.ToLower(strings.TrimSpace(message))
	if utf8.RuneCountInString(m) < MinLength {
		return Result{Rule: RuleTooShort}
	}
	for _, re := range conversational {
		if re.MatchString(m) {
			return Result{Rule: RuleConversational, Match: re.String()}
		}
	}
	for _, k := range keywords {
		if strings.Contains(m, k) {
			return Result{Generation: true, Rule: RuleKeyword, Match: k}
		}
	}
	for _, re := range loose {
		if re.MatchString(m) {
			return Result{Generation: true, Rule: RulePattern, Match: re.String()}
		}
	}
	return Result{Rule: RuleNone}
}

var (
	buildTerms = regexp.MustCompile(`\b(build|generate|fix|implement|code|ship|compile|regenerate|rebuild|export|write the code)\b`)
	planTerms  = regexp.MustCompile(`\b(plan|design|add (a |an |the )?(feature|page|section|screen)|feature|layout|restructure|redesign|brainstorm|idea)s?\b`)
)

// Strength counts build-flavored and plan-flavored terms in message. The
// orchestrator goes straight to code generation only when build wins.
func Strength(message string) (build, plan int) {
	m := strings.ToLower(message)
	return len(buildTerms.FindAllStringIndex(m, -1)), len(planTerms.FindAllStringIndex(m, -1))
}
