package service

import (
	"regexp"
	"strconv"

	"ResearchChat/module/research/model"
	"ResearchChat/tools/errs"
)

// DefaultMarkerPattern matches the inline citation markers emitted by
// search-enabled models: 【…】, [3†source] and citeturn0search1 (a run of
// turnNsearchM references is one marker).
const DefaultMarkerPattern = `【[^】]*】|\[\d+†[^\]]*\]|citeturn\d+(?:search|news|view)\d+(?:turn\d+(?:search|news|view)\d+)*`

// 私有区分隔符（U+E200..U+E2FF）包裹 cite 标记，先整体去掉
var markerWrappers = regexp.MustCompile(`[\x{e200}-\x{e2ff}]`)

// MarkerRewriter replaces provider citation markers with [n] ordinals.
// Output never matches the pattern, so rewriting is idempotent.
type MarkerRewriter struct {
	re *regexp.Regexp
}

func NewMarkerRewriter(pattern string) (*MarkerRewriter, error) {
	if pattern == "" {
		pattern = DefaultMarkerPattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, errs.ErrArgs.WrapMsg("bad citation marker pattern", "err", err)
	}
	if re.MatchString("[1]") {
		return nil, errs.ErrArgs.WrapMsg("citation marker pattern matches its own output")
	}
	return &MarkerRewriter{re: re}, nil
}

func DefaultMarkerRewriter() *MarkerRewriter {
	return &MarkerRewriter{re: regexp.MustCompile(DefaultMarkerPattern)}
}

// Rewrite numbers markers by first appearance across the summary and then
// each key development's title and description, and replaces them in place.
func (m *MarkerRewriter) Rewrite(r *model.Report) {
	if r == nil {
		return
	}
	r.ExecutiveSummary = stripWrappers(r.ExecutiveSummary)
	for i := range r.KeyDevelopments {
		r.KeyDevelopments[i].Title = stripWrappers(r.KeyDevelopments[i].Title)
		r.KeyDevelopments[i].Description = stripWrappers(r.KeyDevelopments[i].Description)
	}

	numbers := make(map[string]int)
	collect := func(s string) {
		for _, mk := range m.re.FindAllString(s, -1) {
			if _, ok := numbers[mk]; !ok {
				numbers[mk] = len(numbers) + 1
			}
		}
	}
	collect(r.ExecutiveSummary)
	for _, d := range r.KeyDevelopments {
		collect(d.Title)
		collect(d.Description)
	}
	if len(numbers) == 0 {
		return
	}

	replace := func(s string) string {
		return m.re.ReplaceAllStringFunc(s, func(mk string) string {
			return "[" + strconv.Itoa(numbers[mk]) + "]"
		})
	}
	r.ExecutiveSummary = replace(r.ExecutiveSummary)
	for i := range r.KeyDevelopments {
		r.KeyDevelopments[i].Title = replace(r.KeyDevelopments[i].Title)
		r.KeyDevelopments[i].Description = replace(r.KeyDevelopments[i].Description)
	}
}

func stripWrappers(s string) string {
	return markerWrappers.ReplaceAllString(s, "")
}

// RewriteText is Rewrite for a single string.
func (m *MarkerRewriter) RewriteText(s string) string {
	r := &model.Report{ExecutiveSummary: s}
	m.Rewrite(r)
	return r.ExecutiveSummary
}
