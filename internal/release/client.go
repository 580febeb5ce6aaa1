package release

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"git.home.luguber.info/inful/dbdepot/internal/errors"
	"git.home.luguber.info/inful/dbdepot/internal/logfields"
)

// Config carries the forge coordinates for a distribution repository.
type Config struct {
	// APIURL defaults to the public GitHub API.
	APIURL string
	// UploadURL defaults to the public GitHub upload host.
	UploadURL string
	Owner     string
	Repo      string
	// Token is optional; unauthenticated listing works on public
	// repositories at reduced rate limits.
	Token   string
	PerPage int
	// HTTPClient is injectable for tests. The default client carries no
	// timeout: callers bound every operation through context deadlines,
	// and large asset streams outlive any fixed budget.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client implements the release listing and asset operations.
type Client struct {
	httpClient *http.Client
	apiURL     string
	uploadURL  string
	owner      string
	repo       string
	token      string
	perPage    int
	logger     *slog.Logger
}

// NewClient creates a release client for one distribution repository.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Owner == "" || cfg.Repo == "" {
		return nil, errors.ConfigRequired("release.owner/release.repo")
	}

	c := &Client{
		httpClient: cfg.HTTPClient,
		apiURL:     cfg.APIURL,
		uploadURL:  cfg.UploadURL,
		owner:      cfg.Owner,
		repo:       cfg.Repo,
		token:      cfg.Token,
		perPage:    cfg.PerPage,
		logger:     cfg.Logger,
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	if c.apiURL == "" {
		c.apiURL = "https://api.github.com"
	}
	if c.uploadURL == "" {
		c.uploadURL = "https://uploads.github.com"
	}
	if c.perPage <= 0 {
		c.perPage = 100
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c, nil
}

// githubRelease mirrors the API response shape.
type githubRelease struct {
	ID          int64         `json:"id"`
	TagName     string        `json:"tag_name"`
	Name        string        `json:"name"`
	Draft       bool          `json:"draft"`
	Prerelease  bool          `json:"prerelease"`
	PublishedAt time.Time     `json:"published_at"`
	Assets      []githubAsset `json:"assets"`
}

// githubAsset mirrors the API response shape.
type githubAsset struct {
	ID                 int64  `json:"id"`
	Name               string `json:"name"`
	Size               int64  `json:"size"`
	ContentType        string `json:"content_type"`
	BrowserDownloadURL string `json:"browser_download_url"`
	URL                string `json:"url"`
}

// ListReleases fetches every release of the repository, paging until the
// API returns an empty page.
func (c *Client) ListReleases(ctx context.Context) ([]Release, error) {
	var all []Release
	page := 1

	for {
		endpoint := fmt.Sprintf("/repos/%s/%s/releases?per_page=%d&page=%d", c.owner, c.repo, c.perPage, page)
		req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}

		var pageReleases []githubRelease
		if err := c.doRequest(req, &pageReleases); err != nil {
			return nil, err
		}

		if len(pageReleases) == 0 {
			break
		}

		for i := range pageReleases {
			all = append(all, convertRelease(&pageReleases[i]))
		}
		c.logger.Debug("fetched release page", "page", page, logfields.Count(len(pageReleases)))
		page++
	}

	return all, nil
}

// DownloadAsset streams an asset body. The caller owns the ReadCloser.
// The reported size is -1 when the server does not announce a length.
func (c *Client) DownloadAsset(ctx context.Context, assetURL string) (io.ReadCloser, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, assetURL, nil)
	if err != nil {
		return nil, 0, errors.Network(assetURL, err)
	}
	req.Header.Set("Accept", "application/octet-stream")
	req.Header.Set("User-Agent", userAgent)
	// The bearer token stays within the API host; redirect targets and
	// public download hosts must not see it.
	if c.token != "" && sameHost(assetURL, c.apiURL) {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, errors.Network(assetURL, err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, 0, errors.HTTPStatus(assetURL, resp.StatusCode)
	}

	return resp.Body, resp.ContentLength, nil
}

// DeleteAsset removes an asset by id. A 404 is success: the asset is
// equally gone either way.
func (c *Client) DeleteAsset(ctx context.Context, assetID int64) error {
	endpoint := fmt.Sprintf("/repos/%s/%s/releases/assets/%d", c.owner, c.repo, assetID)
	req, err := c.newRequest(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Network(req.URL.String(), err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusNoContent, http.StatusNotFound:
		return nil
	default:
		return errors.HTTPStatus(req.URL.String(), resp.StatusCode)
	}
}

// UploadAsset attaches a new asset to a release. Size must be the exact
// body length; the upload host rejects chunked transfers.
func (c *Client) UploadAsset(ctx context.Context, releaseID int64, name, contentType string, body io.Reader, size int64) (Asset, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	u, err := url.Parse(c.uploadURL)
	if err != nil {
		return Asset{}, errors.Network(c.uploadURL, err)
	}
	u.Path = path.Join(u.Path, fmt.Sprintf("/repos/%s/%s/releases/%d/assets", c.owner, c.repo, releaseID))
	q := u.Query()
	q.Set("name", name)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), body)
	if err != nil {
		return Asset{}, errors.Network(u.String(), err)
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("User-Agent", userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Asset{}, errors.Network(u.String(), err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusCreated {
		return Asset{}, errors.HTTPStatus(u.String(), resp.StatusCode)
	}

	var created githubAsset
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return Asset{}, errors.Network(u.String(), err)
	}
	return convertAsset(&created), nil
}

const userAgent = "dbdepot/1.0"

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	u, err := url.Parse(c.apiURL)
	if err != nil {
		return nil, errors.Network(c.apiURL, err)
	}
	// Endpoint query strings survive the path join.
	rawPath, rawQuery, _ := strings.Cut(endpoint, "?")
	u.Path = path.Join(u.Path, rawPath)
	u.RawQuery = rawQuery

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, errors.Network(u.String(), err)
	}

	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	req.Header.Set("User-Agent", userAgent)

	return req, nil
}

func (c *Client) doRequest(req *http.Request, result interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Network(req.URL.String(), err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return errors.HTTPStatus(req.URL.String(), resp.StatusCode)
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return errors.Network(req.URL.String(), err)
		}
	}
	return nil
}

func convertRelease(gr *githubRelease) Release {
	r := Release{
		ID:          gr.ID,
		Tag:         gr.TagName,
		Name:        gr.Name,
		Draft:       gr.Draft,
		Prerelease:  gr.Prerelease,
		PublishedAt: gr.PublishedAt,
		Assets:      make([]Asset, 0, len(gr.Assets)),
	}
	for i := range gr.Assets {
		r.Assets = append(r.Assets, convertAsset(&gr.Assets[i]))
	}
	return r
}

func convertAsset(ga *githubAsset) Asset {
	return Asset{
		ID:          ga.ID,
		Name:        ga.Name,
		Size:        ga.Size,
		ContentType: ga.ContentType,
		DownloadURL: ga.BrowserDownloadURL,
		APIURL:      ga.URL,
	}
}

func sameHost(a, b string) bool {
	ua, err := url.Parse(a)
	if err != nil {
		return false
	}
	ub, err := url.Parse(b)
	if err != nil {
		return false
	}
	return ua.Host == ub.Host
}
