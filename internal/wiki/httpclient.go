package wiki

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"similarusers/internal/config"
	"similarusers/internal/logging"
)

// apiTimeFormat is the timestamp layout of the wiki API.
const apiTimeFormat = "2006-01-02T15:04:05Z"

// revisionsPerRequest is deliberately much higher than any page limit: the
// API distributes it over revisions, not pages, so a low value could starve
// a prolific page of its revision list.
const revisionsPerRequest = 500

// HTTPClient implements Client against a MediaWiki action API.
type HTTPClient struct {
	endpoint   string
	hostHeader string
	userAgent  string
	namespaces string
	retries    int
	client     *http.Client
	logger     *logging.Logger
}

// NewHTTPClient creates a client for the configured wiki. When
// cfg.RequestHost is set, requests go to that host with the wiki hostname
// as a Host header (useful behind internal proxies).
func NewHTTPClient(cfg config.WikiConfig, logger *logging.Logger) *HTTPClient {
	wikiHost := fmt.Sprintf("%s.wikipedia.org", cfg.Lang)
	requestHost := wikiHost
	hostHeader := ""
	if cfg.RequestHost != "" {
		requestHost = cfg.RequestHost
		hostHeader = wikiHost
	}

	nss := make([]string, len(cfg.Namespaces))
	for i, ns := range cfg.Namespaces {
		nss[i] = strconv.Itoa(ns)
	}

	return &HTTPClient{
		endpoint:   fmt.Sprintf("https://%s/w/api.php", requestHost),
		hostHeader: hostHeader,
		userAgent:  cfg.UserAgent,
		namespaces: strings.Join(nss, "|"),
		retries:    cfg.Retries,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// get performs one API request with retry and decodes the JSON response.
func (c *HTTPClient) get(ctx context.Context, params url.Values, out interface{}) error {
	params.Set("format", "json")
	params.Set("formatversion", "2")
	reqURL := c.endpoint + "?" + params.Encode()

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(1<<uint(attempt-1)) * 500 * time.Millisecond
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			c.logger.Debug("Retrying wiki API request", map[string]interface{}{
				"attempt": attempt + 1,
				"url":     reqURL,
			})
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", c.userAgent)
		if c.hostHeader != "" {
			req.Host = c.hostHeader
		}

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			continue
		}

		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			lastErr = fmt.Errorf("wiki API returned status %d", resp.StatusCode)
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return lastErr
			}
			continue
		}

		err = json.NewDecoder(resp.Body).Decode(out)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to decode response: %w", err)
			continue
		}
		return nil
	}
	return fmt.Errorf("wiki API request failed after %d attempts: %w", c.retries+1, lastErr)
}

type apiError struct {
	Code string `json:"code"`
	Info string `json:"info"`
}

type allRevisionsResponse struct {
	Continue map[string]string `json:"continue"`
	Error    *apiError         `json:"error"`
	Query    struct {
		AllRevisions []struct {
			PageID    int64 `json:"pageid"`
			Revisions []struct {
				RevID     int64  `json:"revid"`
				Timestamp string `json:"timestamp"`
			} `json:"revisions"`
		} `json:"allrevisions"`
	} `json:"query"`
}

// UserEdits implements Client.
func (c *HTTPClient) UserEdits(ctx context.Context, userText string, start time.Time, pageLimit int) ([]PageEdits, error) {
	params := url.Values{}
	params.Set("action", "query")
	params.Set("list", "allrevisions")
	params.Set("arvuser", userText)
	params.Set("arvprop", "ids|timestamp|user")
	params.Set("arvnamespace", c.namespaces)
	params.Set("arvstart", start.UTC().Format(apiTimeFormat))
	params.Set("arvdir", "newer")
	params.Set("arvlimit", strconv.Itoa(revisionsPerRequest))

	byPage := make(map[int64]*PageEdits)
	var order []int64

	for {
		var resp allRevisionsResponse
		if err := c.get(ctx, cloneValues(params), &resp); err != nil {
			return nil, err
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("wiki API error %s: %s", resp.Error.Code, resp.Error.Info)
		}

		for _, page := range resp.Query.AllRevisions {
			pe, seen := byPage[page.PageID]
			if !seen {
				pe = &PageEdits{PageID: page.PageID}
				byPage[page.PageID] = pe
				order = append(order, page.PageID)
			}
			for _, rev := range page.Revisions {
				ts, err := time.Parse(apiTimeFormat, rev.Timestamp)
				if err != nil {
					return nil, fmt.Errorf("invalid revision timestamp %q: %w", rev.Timestamp, err)
				}
				pe.Timestamps = append(pe.Timestamps, ts)
			}
			// Stop as soon as the distinct-page limit is reached; the
			// page that reached it keeps the revisions seen so far.
			if len(order) >= pageLimit {
				return collectPages(byPage, order), nil
			}
		}

		if len(resp.Continue) == 0 {
			break
		}
		for k, v := range resp.Continue {
			params.Set(k, v)
		}
	}
	return collectPages(byPage, order), nil
}

type pageRevisionsResponse struct {
	Continue map[string]string `json:"continue"`
	Error    *apiError         `json:"error"`
	Query    struct {
		Pages []struct {
			PageID    int64 `json:"pageid"`
			Revisions []struct {
				RevID     int64  `json:"revid"`
				User      string `json:"user"`
				Timestamp string `json:"timestamp"`
			} `json:"revisions"`
		} `json:"pages"`
	} `json:"query"`
}

// PageRevisions implements Client.
func (c *HTTPClient) PageRevisions(ctx context.Context, pageID int64, start time.Time) ([]Revision, error) {
	params := url.Values{}
	params.Set("action", "query")
	params.Set("prop", "revisions")
	params.Set("pageids", strconv.FormatInt(pageID, 10))
	params.Set("rvprop", "ids|timestamp|user")
	params.Set("rvstart", start.UTC().Format(apiTimeFormat))
	params.Set("rvdir", "newer")
	params.Set("rvlimit", strconv.Itoa(revisionsPerRequest))

	var revisions []Revision
	for {
		var resp pageRevisionsResponse
		if err := c.get(ctx, cloneValues(params), &resp); err != nil {
			return nil, err
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("wiki API error %s: %s", resp.Error.Code, resp.Error.Info)
		}

		for _, page := range resp.Query.Pages {
			for _, rev := range page.Revisions {
				ts, err := time.Parse(apiTimeFormat, rev.Timestamp)
				if err != nil {
					return nil, fmt.Errorf("invalid revision timestamp %q: %w", rev.Timestamp, err)
				}
				revisions = append(revisions, Revision{
					RevID:     rev.RevID,
					User:      rev.User,
					Timestamp: ts,
				})
			}
		}

		if len(resp.Continue) == 0 {
			break
		}
		for k, v := range resp.Continue {
			params.Set(k, v)
		}
	}
	return revisions, nil
}

type usersResponse struct {
	Error *apiError `json:"error"`
	Query struct {
		Users []struct {
			Name    string   `json:"name"`
			Missing bool     `json:"missing"`
			Invalid bool     `json:"invalid"`
			Groups  []string `json:"groups"`
		} `json:"users"`
	} `json:"query"`
}

// AccountInfo implements Client.
func (c *HTTPClient) AccountInfo(ctx context.Context, userText string) (*AccountInfo, error) {
	params := url.Values{}
	params.Set("action", "query")
	params.Set("list", "users")
	params.Set("ususers", userText)
	params.Set("usprop", "groups")

	var resp usersResponse
	if err := c.get(ctx, params, &resp); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("wiki API error %s: %s", resp.Error.Code, resp.Error.Info)
	}
	if len(resp.Query.Users) == 0 {
		return nil, fmt.Errorf("wiki API returned no user entry for %q", userText)
	}

	u := resp.Query.Users[0]
	return &AccountInfo{
		Name:    u.Name,
		Missing: u.Missing,
		Invalid: u.Invalid,
		Groups:  u.Groups,
	}, nil
}

// Groups implements Client.
func (c *HTTPClient) Groups(ctx context.Context, userTexts []string) (map[string][]string, error) {
	params := url.Values{}
	params.Set("action", "query")
	params.Set("list", "users")
	params.Set("ususers", strings.Join(userTexts, "|"))
	params.Set("usprop", "groups")

	var resp usersResponse
	if err := c.get(ctx, params, &resp); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("wiki API error %s: %s", resp.Error.Code, resp.Error.Info)
	}

	groups := make(map[string][]string, len(resp.Query.Users))
	for _, u := range resp.Query.Users {
		if u.Missing || u.Invalid {
			continue
		}
		groups[u.Name] = u.Groups
	}
	return groups, nil
}

type userContribsResponse struct {
	Error *apiError `json:"error"`
	Query struct {
		UserContribs []struct {
			Timestamp string `json:"timestamp"`
		} `json:"usercontribs"`
	} `json:"query"`
}

// HasEditsSince implements Client.
func (c *HTTPClient) HasEditsSince(ctx context.Context, userText string, start time.Time) (bool, error) {
	params := url.Values{}
	params.Set("action", "query")
	params.Set("list", "usercontribs")
	params.Set("ucuser", userText)
	params.Set("ucprop", "timestamp")
	params.Set("ucnamespace", c.namespaces)
	params.Set("ucstart", start.UTC().Format(apiTimeFormat))
	params.Set("ucdir", "newer")
	params.Set("uclimit", "1")

	var resp userContribsResponse
	if err := c.get(ctx, params, &resp); err != nil {
		return false, err
	}
	if resp.Error != nil {
		return false, fmt.Errorf("wiki API error %s: %s", resp.Error.Code, resp.Error.Info)
	}
	return len(resp.Query.UserContribs) > 0, nil
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}

func collectPages(byPage map[int64]*PageEdits, order []int64) []PageEdits {
	pages := make([]PageEdits, 0, len(order))
	for _, pid := range order {
		pages = append(pages, *byPage[pid])
	}
	return pages
}
