package hostresolver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

var packedBlockRe = regexp.MustCompile(`eval\(function\(p,a,c,k,e,d\)\{.*?\}\((.*?)\)\)`)
var bareM3U8Re = regexp.MustCompile(`https?://[^\s"'\\]+\.m3u8[^\s"'\\]*`)
var streamInfRe = regexp.MustCompile(`(?s)#EXT-X-STREAM-INF.*?\n([^\n#][^\n]*)`)

// packedJSResolver resolves embed hosts that ship a Dean-Edwards-packed
// script carrying the HLS links.
type packedJSResolver struct {
	httpClient *http.Client
}

func NewPackedJSResolver() Resolver {
	return &packedJSResolver{httpClient: &http.Client{}}
}

func (r *packedJSResolver) Resolve(ctx context.Context, embedURL string) (string, bool) {
	pageURL, body, ok := r.fetchFollowingRedirects(ctx, embedURL)
	if !ok {
		return "", false
	}

	match := packedBlockRe.FindStringSubmatch(body)
	if match == nil {
		return "", false
	}

	unpacked, err := unpack(match[1])
	if err != nil {
		return "", false
	}

	link, ok := extractHLSLink(unpacked)
	if !ok {
		return "", false
	}
	link = absolutise(pageURL, link)

	masterURL := link
	subPlaylist, ok := r.firstSubPlaylist(ctx, masterURL)
	if !ok {
		return masterURL, true
	}
	return subPlaylist, true
}

func (r *packedJSResolver) fetchFollowingRedirects(ctx context.Context, embedURL string) (string, string, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, embedURL, nil)
	if err != nil {
		return "", "", false
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")
	req.Header.Set("Referer", embedURL)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", "", false
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", false
	}

	finalURL := embedURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	return finalURL, string(body), true
}

func (r *packedJSResolver) firstSubPlaylist(ctx context.Context, masterURL string) (string, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, masterURL, nil)
	if err != nil {
		return "", false
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", false
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", false
	}

	match := streamInfRe.FindStringSubmatch(string(body))
	if match == nil {
		return "", false
	}
	return absolutise(masterURL, strings.TrimSpace(match[1])), true
}

// extractHLSLink reads a JSON-like `links` object out of unpacked script
// text, preferring hls2 > hls4 > hls3, falling back to a bare m3u8 URL
// found anywhere in the text.
func extractHLSLink(unpacked string) (string, bool) {
	linksRe := regexp.MustCompile(`links\s*[:=]\s*(\{[^;]*?\})`)
	if m := linksRe.FindStringSubmatch(unpacked); m != nil {
		normalized := normalizeJSObjectLiteral(m[1])
		var links map[string]string
		if err := json.Unmarshal([]byte(normalized), &links); err == nil {
			for _, key := range []string{"hls2", "hls4", "hls3"} {
				if v, ok := links[key]; ok && v != "" {
					return v, true
				}
			}
		}
	}

	if m := bareM3U8Re.FindString(unpacked); m != "" {
		return m, true
	}
	return "", false
}

// normalizeJSObjectLiteral turns a loose JS object literal (unquoted keys,
// single quotes) into valid JSON.
func normalizeJSObjectLiteral(s string) string {
	s = strings.ReplaceAll(s, "'", `"`)
	keyRe := regexp.MustCompile(`([{,]\s*)([A-Za-z0-9_]+)(\s*:)`)
	s = keyRe.ReplaceAllString(s, `$1"$2"$3`)
	return s
}

func absolutise(base, ref string) string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return ref
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return baseURL.ResolveReference(refURL).String()
}

// unpack reverses the standard Dean Edwards p,a,c,k,e,d packer: the
// argument list is "payload,radix,count,keywords.split('|'),0,0" (with the
// trailing e,d occasionally omitted). It substitutes each base-`radix`
// token back to its keyword.
func unpack(args string) (string, error) {
	parts, err := splitPackerArgs(args)
	if err != nil {
		return "", err
	}
	payload, radix, _, keywords := parts.payload, parts.radix, parts.count, parts.keywords

	tokenRe := regexp.MustCompile(`\b\w+\b`)
	result := tokenRe.ReplaceAllStringFunc(payload, func(token string) string {
		idx, err := strconv.ParseInt(token, radix, 64)
		if err != nil {
			return token
		}
		if int(idx) < len(keywords) && keywords[idx] != "" {
			return keywords[idx]
		}
		return token
	})
	return result, nil
}

type packerArgs struct {
	payload  string
	radix    int
	count    int
	keywords []string
}

func splitPackerArgs(args string) (packerArgs, error) {
	// args looks like: '<payload>',<a>,<c>,'<k>'.split('|')[,0,0]
	payloadRe := regexp.MustCompile(`^'((?:[^'\\]|\\.)*)'`)
	m := payloadRe.FindStringSubmatch(args)
	if m == nil {
		return packerArgs{}, fmt.Errorf("packer payload not found")
	}
	payload := unescapeJS(m[1])
	rest := args[len(m[0]):]

	numRe := regexp.MustCompile(`,\s*(\d+)\s*,\s*(\d+)\s*,`)
	nm := numRe.FindStringSubmatch(rest)
	if nm == nil {
		return packerArgs{}, fmt.Errorf("packer radix/count not found")
	}
	radix, _ := strconv.Atoi(nm[1])
	count, _ := strconv.Atoi(nm[2])

	keywordsRe := regexp.MustCompile(`'((?:[^'\\]|\\.)*)'\.split\('\|'\)`)
	km := keywordsRe.FindStringSubmatch(rest)
	if km == nil {
		return packerArgs{}, fmt.Errorf("packer keywords not found")
	}
	keywords := strings.Split(km[1], "|")

	return packerArgs{payload: payload, radix: radix, count: count, keywords: keywords}, nil
}

func unescapeJS(s string) string {
	s = strings.ReplaceAll(s, `\'`, `'`)
	s = strings.ReplaceAll(s, `\\`, `\`)
	return s
}
