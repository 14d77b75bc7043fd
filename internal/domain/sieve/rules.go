package sieve

import "regexp"

type namedPattern struct {
	name string
	re   *regexp.Regexp
}

func pattern(name, expr string) namedPattern {
	return namedPattern{name: name, re: regexp.MustCompile(expr)}
}

// noisePatterns short-circuit scoring to zero. They match against the trimmed title.
var noisePatterns = []namedPattern{
	pattern("dependency bump", `(?i)^bump\s`),
	pattern("dependency update", `(?i)^(chore|build|fix)\(deps(-dev)?\)`),
	pattern("dependency update", `(?i)^update (dependency|dependencies|module)\b`),
	pattern("lockfile refresh", `(?i)^(update|regenerate|refresh) (go\.sum|package-lock\.json|yarn\.lock|lockfiles?)\b`),
	pattern("typo fix", `(?i)^((fix|docs|chore)(\(.*\))?:?\s*)?(fix(ed)?\s+)?typos?\b`),
	pattern("formatting", `(?i)^(format|formatting|reformat|fmt|gofmt|prettier|lint|linting)\b`),
	pattern("formatting", `(?i)^style(\(.*\))?:`),
	pattern("ci tweak", `(?i)^ci(\(.*\))?:`),
	pattern("merge commit", `(?i)^merge (branch|pull request|remote-tracking branch)\b`),
	pattern("release", `(?i)^(release|chore\(release\)|prepare release)\b`),
	pattern("version bump", `(?i)^v?\d+\.\d+(\.\d+)?$`),
	pattern("revert of dependency bump", `(?i)^revert "?bump\s`),
	pattern("automation", `(?i)^\[(bot|renovate|dependabot)\]`),
}

var botAuthor = regexp.MustCompile(`(?i)(\[bot\]$|^dependabot|^renovate)`)

// vocabulary counts distinct architectural terms in title and body.
var vocabulary = []namedPattern{
	pattern("architecture", `(?i)\barchitect(ure|ural|ed)?\b`),
	pattern("design", `(?i)\bdesign(ed|s)?\b`),
	pattern("migration", `(?i)\bmigrat(e|es|ed|ing|ion|ions)\b`),
	pattern("database", `(?i)\b(database|db)s?\b`),
	pattern("schema", `(?i)\bschemas?\b`),
	pattern("postgresql", `(?i)\bpostgres(ql)?\b`),
	pattern("mysql", `(?i)\bmysql\b`),
	pattern("sqlite", `(?i)\bsqlite\b`),
	pattern("mongodb", `(?i)\bmongo(db)?\b`),
	pattern("redis", `(?i)\bredis\b`),
	pattern("message queue", `(?i)\b(kafka|rabbitmq|nats|message queue|pub/?sub)\b`),
	pattern("cache", `(?i)\bcach(e|es|ing)\b`),
	pattern("microservices", `(?i)\b(micro-?services?|monolith)\b`),
	pattern("api", `(?i)\b(api|apis|grpc|graphql|rest(ful)?|endpoints?)\b`),
	pattern("protocol", `(?i)\bprotocols?\b`),
	pattern("framework", `(?i)\bframeworks?\b`),
	pattern("replacement", `(?i)\b(replac(e|es|ed|ing)|switch(ed|ing)? (to|from)|mov(e|ed|ing) (to|from|away))\b`),
	pattern("deprecation", `(?i)\bdeprecat(e|es|ed|ing|ion)\b`),
	pattern("adoption", `(?i)\b(adopt(s|ed|ing)?|introduc(e|es|ed|ing))\b`),
	pattern("refactor", `(?i)\b(refactor(s|ed|ing)?|rewrite|rewrit(ten|ing)|restructur(e|ed|ing))\b`),
	pattern("abstraction", `(?i)\b(abstraction|interface|adapter|layer)s?\b`),
	pattern("event-driven", `(?i)\b(event[- ]driven|event sourcing|cqrs)\b`),
	pattern("authentication", `(?i)\b(auth|authentication|authorization|oauth|sso|rbac)\b`),
	pattern("security", `(?i)\b(security|encrypt(ion|ed)?|tls)\b`),
	pattern("performance", `(?i)\b(performance|scalab(le|ility)|latency|throughput)\b`),
	pattern("infrastructure", `(?i)\b(infrastructure|kubernetes|k8s|docker|terraform|helm)\b`),
	pattern("storage", `(?i)\b(storage|persistence|s3)\b`),
	pattern("concurrency", `(?i)\b(concurren(cy|t)|consistency|transactions?)\b`),
	pattern("breaking change", `(?i)\bbreaking[- ]changes?\b`),
	pattern("decision record", `(?i)\b(adr|rfc|decision record)\b`),
}

var causalLanguage = regexp.MustCompile(`(?i)\b(because|rationale|reasons?|trade-?offs?|instead of|so that|in order to|motivation)\b`)

// architecturalLabels are normalized label names that signal design work.
var architecturalLabels = map[string]bool{
	"architecture":    true,
	"breaking-change": true,
	"breaking":        true,
	"database":        true,
	"migration":       true,
	"adr":             true,
	"design":          true,
	"rfc":             true,
	"api":             true,
	"infrastructure":  true,
	"security":        true,
	"performance":     true,
}

// contentRule rewards a category of change found in file paths or diff text.
type contentRule struct {
	name   string
	weight float64
	path   *regexp.Regexp
	diff   *regexp.Regexp
}

// matches ignores lockfiles, which are noise whatever their extension.
func (r contentRule) matches(paths []string, diff string) bool {
	for _, p := range paths {
		if lockFile.MatchString(p) {
			continue
		}
		if r.path.MatchString(p) {
			return true
		}
	}
	return r.diff != nil && r.diff.MatchString(diff)
}

var contentRules = []contentRule{
	{
		name:   "configuration changes",
		weight: 0.05,
		path:   regexp.MustCompile(`(?i)(\.(ya?ml|toml|ini|conf|properties)$|(^|/)\.env(\.|$)|(^|/)(config|settings)[^/]*\.[a-z]+$)`),
	},
	{
		name:   "schema or migration changes",
		weight: 0.10,
		path:   regexp.MustCompile(`(?i)((^|/)migrations?/|\.sql$|(^|/)schema[^/]*$|\.prisma$)`),
		diff:   regexp.MustCompile(`(?im)^\+.*\b(create|alter|drop)\s+(table|index)\b`),
	},
	{
		name:   "API surface changes",
		weight: 0.05,
		path:   regexp.MustCompile(`(?i)(\.proto$|openapi|swagger|\.graphql$|(^|/)routes?[^/]*$|(^|/)api/)`),
	},
	{
		name:   "infrastructure changes",
		weight: 0.05,
		path:   regexp.MustCompile(`(?i)((^|/)Dockerfile[^/]*$|docker-compose[^/]*$|\.tf$|(^|/)(helm|k8s|kubernetes|deploy|terraform)/)`),
	},
}

var testFile = regexp.MustCompile(`(?i)(_test\.go$|\.(test|spec)\.[a-z]+$|(^|/)(tests?|__tests__|spec)/|_spec\.rb$|(^|/)test_[^/]+\.py$)`)

var lockFile = regexp.MustCompile(`(^|/)(go\.sum|package-lock\.json|yarn\.lock|pnpm-lock\.yaml|Cargo\.lock|Gemfile\.lock|poetry\.lock|composer\.lock|Pipfile\.lock)$`)
