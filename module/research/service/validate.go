package service

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"ResearchChat/module/research/model"
	"ResearchChat/service/metrics"

	"github.com/PuerkitoBio/goquery"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

type ValidatorOptions struct {
	Timeout         time.Duration // 单个 URL 超时（默认 10s）
	MinContentChars int           // 文本页去标签后最少字符数（默认 4000）
	UserAgent       string
	Concurrency     int   // 默认 8
	MaxBodyBytes    int64 // 默认 5MB
	MaxRedirects    int   // 默认 10
}

func (o *ValidatorOptions) norm() {
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if o.MinContentChars <= 0 {
		o.MinContentChars = 4000
	}
	if o.UserAgent == "" {
		o.UserAgent = "ResearchChat-CitationValidator/1.0 (+citation reachability check)"
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 8
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = 5 << 20
	}
	if o.MaxRedirects <= 0 {
		o.MaxRedirects = 10
	}
}

// CitationValidator fetches citation URLs and judges whether they are usable.
type CitationValidator struct {
	opts ValidatorOptions
	hc   *http.Client
}

func NewCitationValidator(opts ValidatorOptions) *CitationValidator {
	opts.norm()
	maxRedirects := opts.MaxRedirects
	return &CitationValidator{
		opts: opts,
		hc: &http.Client{
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return nil
			},
		},
	}
}

// ValidateCitationURLs checks every citation concurrently. Failures are
// recorded on the individual result and never abort the batch.
func (v *CitationValidator) ValidateCitationURLs(ctx context.Context, citations []model.Citation) []model.CitationCheck {
	out := make([]model.CitationCheck, len(citations))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.opts.Concurrency)
	for i := range citations {
		i := i
		g.Go(func() error {
			out[i] = v.checkOne(gctx, citations[i])
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (v *CitationValidator) checkOne(ctx context.Context, c model.Citation) (res model.CitationCheck) {
	res = model.CitationCheck{CitationID: c.ID, URL: c.URL}
	defer func() {
		if r := recover(); r != nil {
			res.IsAccessible, res.HasContent = false, false
			res.Error = fmt.Sprint("panic: ", r)
		}
		metrics.CitationChecks.WithLabelValues(checkOutcome(res)).Inc()
	}()

	if err := validURL(c.URL); err != nil {
		res.Error = err.Error()
		return res
	}
	res.IsValid = true

	cctx, cancel := context.WithTimeout(ctx, v.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(cctx, http.MethodGet, c.URL, nil)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	req.Header.Set("User-Agent", v.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,*/*;q=0.8")

	resp, err := v.hc.Do(req)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	defer resp.Body.Close()

	res.StatusCode = resp.StatusCode
	res.ContentType = resp.Header.Get("Content-Type")
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		res.Error = fmt.Sprintf("http status %d", resp.StatusCode)
		return res
	}
	res.IsAccessible = true

	if !isTextual(res.ContentType) {
		// 非文本资源可达即视为有内容
		res.HasContent = true
		if resp.ContentLength > 0 {
			res.ContentLength = int(resp.ContentLength)
		}
		return res
	}

	n, err := meaningfulChars(io.LimitReader(resp.Body, v.opts.MaxBodyBytes))
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.ContentLength = n
	res.HasContent = n > v.opts.MinContentChars
	if !res.HasContent {
		res.Error = fmt.Sprintf("insufficient content: %d chars", n)
	}
	return res
}

func validURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return errors.New("empty url")
	}
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return errors.Wrap(err, "invalid url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.Errorf("invalid url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("invalid url: missing host")
	}
	return nil
}

func isTextual(contentType string) bool {
	ct := strings.ToLower(contentType)
	if ct == "" {
		return true
	}
	return strings.HasPrefix(ct, "text/") ||
		strings.Contains(ct, "html") ||
		strings.Contains(ct, "xml") ||
		strings.Contains(ct, "json")
}

// meaningfulChars strips markup and collapses whitespace, returning the rune count.
func meaningfulChars(r io.Reader) (int, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return 0, errors.Wrap(err, "parse body")
	}
	doc.Find("script, style, noscript, template").Remove()
	text := strings.Join(strings.Fields(doc.Text()), " ")
	return utf8.RuneCountInString(text), nil
}

func checkOutcome(c model.CitationCheck) string {
	switch {
	case !c.IsValid:
		return "invalid"
	case !c.IsAccessible:
		return "unreachable"
	case !c.HasContent:
		return "thin"
	default:
		return "ok"
	}
}
